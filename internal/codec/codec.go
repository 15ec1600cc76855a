// Package codec implements spec.md §6's "Content serialization" bullet:
// JSON, CBOR, and XML with a one-to-one attribute-short-name mapping. JSON
// (via encoding/json) is treated as the canonical representation - every
// format transcodes through the same JSON-decoded generic value so CBOR and
// XML never diverge from the short-name mapping resource.Resource's
// MarshalJSON/UnmarshalJSON already implement.
package codec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"

	"github.com/onem2m-cse/cse/internal/resource"
)

// Format is one of the three content serializations spec.md §6 requires.
type Format string

const (
	FormatJSON Format = "json"
	FormatCBOR Format = "cbor"
	FormatXML  Format = "xml"
)

// MediaType returns the canonical media type for f, per spec.md §6:
// "application/json, application/cbor, application/xml".
func (f Format) MediaType() string {
	switch f {
	case FormatCBOR:
		return "application/cbor"
	case FormatXML:
		return "application/xml"
	default:
		return "application/json"
	}
}

// FormatFromMediaType maps an inbound Content-Type (including the
// application/vnd.onem2m-res+* variants) to a Format.
func FormatFromMediaType(mediaType string) (Format, error) {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if semi := strings.IndexByte(mt, ';'); semi >= 0 {
		mt = strings.TrimSpace(mt[:semi])
	}
	switch {
	case strings.Contains(mt, "cbor"):
		return FormatCBOR, nil
	case strings.Contains(mt, "xml"):
		return FormatXML, nil
	case strings.Contains(mt, "json"), mt == "":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported media type %q", mediaType)
	}
}

// Encode serializes v (a map[string]interface{} envelope, a
// *resource.Resource, or anything JSON-marshalable) into format.
func Encode(v interface{}, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return json.Marshal(v)
	case FormatCBOR:
		generic, err := toGeneric(v)
		if err != nil {
			return nil, err
		}
		return cbor.Marshal(generic)
	case FormatXML:
		generic, err := toGeneric(v)
		if err != nil {
			return nil, err
		}
		return encodeXML(generic)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// DecodeGeneric decodes data (in format) into a generic
// map[string]interface{}/[]interface{}/scalar tree, suitable for
// inspecting an envelope before routing it to a typed decode.
func DecodeGeneric(data []byte, format Format) (interface{}, error) {
	switch format {
	case FormatJSON, "":
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return v, nil
	case FormatCBOR:
		var v interface{}
		if err := cbor.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		return normalizeCBORMaps(v), nil
	case FormatXML:
		return decodeXML(data)
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// DecodeResource decodes data (in format) into a *resource.Resource by
// transcoding through the canonical JSON mapping.
func DecodeResource(data []byte, format Format) (*resource.Resource, error) {
	generic, err := DecodeGeneric(data, format)
	if err != nil {
		return nil, err
	}
	jsonBytes, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("re-encoding to json: %w", err)
	}
	r := &resource.Resource{}
	if err := json.Unmarshal(jsonBytes, r); err != nil {
		return nil, err
	}
	return r, nil
}

// toGeneric round-trips v through JSON to obtain the plain
// map[string]interface{}/[]interface{}/scalar tree every non-JSON encoder
// consumes - this is what keeps CBOR/XML output aligned with
// resource.Resource's custom JSON marshaling.
func toGeneric(v interface{}) (interface{}, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(jsonBytes, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

// normalizeCBORMaps converts the map[interface{}]interface{} values
// fxamacker/cbor can produce for generic decode targets into
// map[string]interface{}, so downstream code only ever deals with one map
// shape regardless of source format.
func normalizeCBORMaps(v interface{}) interface{} {
	switch m := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = normalizeCBORMaps(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[k] = normalizeCBORMaps(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(m))
		for i, val := range m {
			out[i] = normalizeCBORMaps(val)
		}
		return out
	default:
		return v
	}
}
