package codec

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// xmlRoot is the element name used when a generic value has no single
// enclosing key of its own (e.g. an envelope with more than one top-level
// key, or a bare scalar/array).
const xmlRoot = "m2m:document"

// encodeXML renders a generic map[string]interface{}/[]interface{}/scalar
// tree as XML, per spec.md §6's "one-to-one mapping (same attribute short
// names)": object keys become element names, scalars become element text,
// arrays repeat the parent element name for each item.
//
// Not a general-purpose XML library - a minimal stdlib encoding/xml-based
// codec scoped to the shapes internal/codec actually produces (JSON-decoded
// envelopes and resource documents), grounded on SPEC_FULL.md §6b's
// direction to use "XML via stdlib encoding/xml" rather than a third-party
// XML-mapping library the pack doesn't carry.
func encodeXML(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)

	root := xmlRoot
	body := v
	if m, ok := v.(map[string]interface{}); ok && len(m) == 1 {
		for k, val := range m {
			root = k
			body = val
		}
	}

	if err := encodeXMLElement(enc, root, body); err != nil {
		return nil, err
	}
	if err := enc.Flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeXMLElement(enc *xml.Encoder, name string, v interface{}) error {
	start := xml.StartElement{Name: xml.Name{Local: sanitizeElementName(name)}}

	switch val := v.(type) {
	case map[string]interface{}:
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := encodeXMLElement(enc, k, val[k]); err != nil {
				return err
			}
		}
		return enc.EncodeToken(start.End())

	case []interface{}:
		for _, item := range val {
			if err := encodeXMLElement(enc, name, item); err != nil {
				return err
			}
		}
		return nil

	case nil:
		if err := enc.EncodeToken(start); err != nil {
			return err
		}
		return enc.EncodeToken(start.End())

	default:
		return enc.EncodeElement(scalarToString(val), start)
	}
}

func sanitizeElementName(name string) string {
	if name == "" {
		return "_"
	}
	return name
}

func scalarToString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// decodeXML parses XML produced by encodeXML back into a generic
// map[string]interface{} tree: the document's root element becomes the
// envelope's single key, and every descendant element becomes a nested key.
// Repeated sibling element names collapse into a []interface{}.
func decodeXML(data []byte) (interface{}, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decoding xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		body, err := decodeXMLElement(dec, start)
		if err != nil {
			return nil, err
		}
		key := start.Name.Local
		if start.Name.Space != "" {
			key = start.Name.Space + ":" + key
		}
		return map[string]interface{}{key: body}, nil
	}
}

func decodeXMLElement(dec *xml.Decoder, start xml.StartElement) (interface{}, error) {
	children := make(map[string][]interface{})
	var order []string
	var text bytes.Buffer

	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decoding xml element %q: %w", start.Name.Local, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			child, err := decodeXMLElement(dec, t)
			if err != nil {
				return nil, err
			}
			name := t.Name.Local
			if t.Name.Space != "" {
				name = t.Name.Space + ":" + name
			}
			if _, seen := children[name]; !seen {
				order = append(order, name)
			}
			children[name] = append(children[name], child)
		case xml.CharData:
			text.Write(t)
		case xml.EndElement:
			if len(children) == 0 {
				return parseScalar(text.String()), nil
			}
			out := make(map[string]interface{}, len(children))
			for _, name := range order {
				values := children[name]
				if len(values) == 1 {
					out[name] = values[0]
				} else {
					out[name] = values
				}
			}
			return out, nil
		}
	}
}

func parseScalar(raw string) interface{} {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	if b, err := strconv.ParseBool(trimmed); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return trimmed
}
