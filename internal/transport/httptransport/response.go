package httptransport

import (
	"net/http"
	"strconv"

	"github.com/onem2m-cse/cse/infrastructure/errors"
	"github.com/onem2m-cse/cse/internal/codec"
	"github.com/onem2m-cse/cse/internal/dispatch"
	"github.com/onem2m-cse/cse/internal/resource"
)

// writeResponse renders a dispatch.Response onto the wire, per spec.md §6's
// response primitive ("rsc, rqi, pc, to, ..."): X-M2M-RSC/X-M2M-RI carry the
// scalar fields, the HTTP status is the oneM2M binding's coarse projection
// of rsc (errors.RSC.HTTPStatus), and pc is encoded in the caller's
// negotiated format, wrapped under its "m2m:<tag>" envelope when it is a
// single resource document.
func writeResponse(w http.ResponseWriter, resp *dispatch.Response, format codec.Format) {
	w.Header().Set("X-M2M-RSC", strconv.Itoa(resp.RSC))
	w.Header().Set("X-M2M-RI", resp.RQI)
	status := errors.RSC(resp.RSC).HTTPStatus()

	if resp.PC == nil {
		w.WriteHeader(status)
		return
	}

	body := resp.PC
	if res, ok := resp.PC.(*resource.Resource); ok {
		body = wrapEnvelope(res.Ty, res)
	}

	data, err := codec.Encode(body, format)
	if err != nil {
		http.Error(w, "encoding response body", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", format.MediaType())
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeTransportError writes a BAD_REQUEST response for a request the
// transport layer could not even build into a dispatch.Request (malformed
// body, unsupported method) - the dispatcher never sees these.
func writeTransportError(w http.ResponseWriter, rqi string, err error) {
	se := errors.BadRequest(err.Error())
	w.Header().Set("X-M2M-RSC", strconv.Itoa(int(se.RSC)))
	if rqi != "" {
		w.Header().Set("X-M2M-RI", rqi)
	}
	w.Header().Set("Content-Type", codec.FormatJSON.MediaType())
	w.WriteHeader(se.HTTPStatus)
	data, _ := codec.Encode(map[string]interface{}{"error": se.Message}, codec.FormatJSON)
	_, _ = w.Write(data)
}
