package httptransport

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/onem2m-cse/cse/internal/codec"
	"github.com/onem2m-cse/cse/internal/dispatch"
	"github.com/onem2m-cse/cse/internal/resource"
)

// operationForMethod maps an HTTP method to a oneM2M CRUDN operation, per
// spec.md §6's "op (C/R/U/D/N)" primitive field. Inbound NOTIFY (N) arrives
// over the same POST verb as CREATE in the real HTTP binding, distinguished
// by content type (m2m:sgn) rather than the verb; this CSE's HTTP surface
// only terminates CRUD from external originators, so NOTIFY is not mapped
// here (outbound notification delivery is internal/notify's concern).
func operationForMethod(method string) (resource.Operation, bool) {
	switch method {
	case http.MethodGet:
		return resource.OpRetrieve, true
	case http.MethodPost:
		return resource.OpCreate, true
	case http.MethodPut:
		return resource.OpUpdate, true
	case http.MethodDelete:
		return resource.OpDelete, true
	default:
		return 0, false
	}
}

// requestFormat resolves the content serialization of the request body from
// its Content-Type header, defaulting to JSON (spec.md §6's canonical
// serialization) when absent.
func requestFormat(r *http.Request) codec.Format {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		if f, err := codec.FormatFromMediaType(ct); err == nil {
			return f
		}
	}
	return codec.FormatJSON
}

// buildRequest translates an inbound *http.Request into the transport-
// neutral dispatch.Request, per spec.md §6's request primitive field list:
// op/to/fr/rqi/rvi/ty/pc plus rcn/rt/oet/rqet/rset and discovery filter
// criteria. Headers carry originator/request framing (X-M2M-*, mirroring
// internal/notify's outbound use of X-M2M-Origin); query parameters carry
// the numeric enums and filter criteria, matching the real oneM2M HTTP
// binding's use of the URL query string for those fields.
func buildRequest(r *http.Request) (*dispatch.Request, error) {
	op, ok := operationForMethod(r.Method)
	if !ok {
		return nil, fmt.Errorf("unsupported HTTP method %q", r.Method)
	}

	format := requestFormat(r)

	var payload map[string]interface{}
	var ty resource.Type
	if op == resource.OpCreate || op == resource.OpUpdate {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		if len(body) > 0 {
			generic, err := codec.DecodeGeneric(body, format)
			if err != nil {
				return nil, fmt.Errorf("decoding request body: %w", err)
			}
			payload, ty = unwrapEnvelope(generic)
		}
	}
	if tyHeader := r.Header.Get("X-M2M-TY"); tyHeader != "" {
		if n, err := strconv.Atoi(tyHeader); err == nil {
			ty = resource.Type(n)
		}
	} else if tyParam := r.URL.Query().Get("ty"); tyParam != "" && op == resource.OpCreate {
		if n, err := strconv.Atoi(tyParam); err == nil {
			ty = resource.Type(n)
		}
	}

	req := &dispatch.Request{
		Operation:  op,
		To:         strings.TrimSuffix(r.URL.Path, "/"),
		Originator: r.Header.Get("X-M2M-Origin"),
		Ty:         ty,
		Payload:    payload,
		RQI:        r.Header.Get("X-M2M-RI"),
		RVI:        r.Header.Get("X-M2M-RVI"),
	}

	q := r.URL.Query()
	if rqet := parseTimestamp(q.Get("rqet")); !rqet.IsZero() {
		req.RQET = rqet
	}
	if rset := parseTimestamp(q.Get("rset")); !rset.IsZero() {
		req.RSET = rset
	}
	if oet := parseTimestamp(q.Get("oet")); !oet.IsZero() {
		req.OET = oet
	}
	if rt := q.Get("rt"); rt != "" {
		if n, err := strconv.Atoi(rt); err == nil {
			req.RT = dispatch.ResponseType(n)
		}
	}
	if rcn := q.Get("rcn"); rcn != "" {
		if n, err := strconv.Atoi(rcn); err == nil {
			req.RCN = dispatch.ResultContent(n)
		}
	}
	if fu := q.Get("fu"); fu != "" {
		req.Discovery = fu != "0"
	}

	if op == resource.OpRetrieve {
		req.FilterCriteria = filterCriteria(q)
	}

	return req, nil
}

// filterCriteria builds spec.md §6's "filter criteria for discovery" from
// query parameters: type filter, label filter, creation/modification time
// windows. internal/dispatch's matchesFilter currently only consumes "ty";
// the rest are forwarded so a richer matcher can consume them without a
// transport-layer change.
func filterCriteria(q map[string][]string) map[string]interface{} {
	criteria := map[string]interface{}{}
	if v, ok := q["ty"]; ok && len(v) > 0 {
		if n, err := strconv.Atoi(v[0]); err == nil {
			criteria["ty"] = resource.Type(n)
		}
	}
	if v, ok := q["lbl"]; ok && len(v) > 0 {
		criteria["lbl"] = v
	}
	if v, ok := q["crb"]; ok && len(v) > 0 {
		if t := parseTimestamp(v[0]); !t.IsZero() {
			criteria["crb"] = t
		}
	}
	if v, ok := q["cra"]; ok && len(v) > 0 {
		if t := parseTimestamp(v[0]); !t.IsZero() {
			criteria["cra"] = t
		}
	}
	if v, ok := q["ms"]; ok && len(v) > 0 {
		if t := parseTimestamp(v[0]); !t.IsZero() {
			criteria["ms"] = t
		}
	}
	if v, ok := q["us"]; ok && len(v) > 0 {
		if t := parseTimestamp(v[0]); !t.IsZero() {
			criteria["us"] = t
		}
	}
	if v, ok := q["pi"]; ok && len(v) > 0 {
		criteria["pi"] = v[0]
	}
	if len(criteria) == 0 {
		return nil
	}
	return criteria
}

func parseTimestamp(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	return time.Time{}
}

// unwrapEnvelope strips a single "m2m:<tag>" wrapper key from a decoded
// create/update body, returning the inner attribute dict and, when the tag
// maps to a known resource type, that type.
func unwrapEnvelope(generic interface{}) (map[string]interface{}, resource.Type) {
	m, ok := generic.(map[string]interface{})
	if !ok {
		return nil, resource.TypeUnknown
	}
	if len(m) == 1 {
		for k, v := range m {
			if !strings.HasPrefix(k, "m2m:") {
				continue
			}
			if inner, ok := v.(map[string]interface{}); ok {
				return inner, typeForTag(strings.TrimPrefix(k, "m2m:"))
			}
		}
	}
	return m, resource.TypeUnknown
}
