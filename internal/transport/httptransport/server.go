// Package httptransport implements spec.md §6's HTTP binding of the
// transport-neutral request/response primitive: a net/http handler, routed
// with gorilla/mux, that decodes inbound oneM2M HTTP requests into
// dispatch.Request, calls the dispatcher, and encodes dispatch.Response
// back onto the wire. Grounded on the teacher's infrastructure/service
// router wiring (LoggingMiddleware/RecoveryMiddleware over a *mux.Router).
package httptransport

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onem2m-cse/cse/infrastructure/logging"
	"github.com/onem2m-cse/cse/infrastructure/metrics"
	"github.com/onem2m-cse/cse/infrastructure/middleware"
	"github.com/onem2m-cse/cse/internal/codec"
	"github.com/onem2m-cse/cse/internal/dispatch"
	"github.com/onem2m-cse/cse/internal/uppertester"
)

// Server is the HTTP binding's front door: one *mux.Router serving both
// CRUD primitives (any path, any of GET/POST/PUT/DELETE) and, when a
// Tester is configured, the Upper-Tester hook (spec.md §4a).
type Server struct {
	Dispatcher *dispatch.Dispatcher
	Tester     *uppertester.Tester
	Log        *logging.Logger
	Metrics    *metrics.Metrics
	Router     *mux.Router
}

// New builds a Server and wires its routes. tester may be nil to disable
// the Upper-Tester hook outside test environments.
func New(d *dispatch.Dispatcher, tester *uppertester.Tester, log *logging.Logger, m *metrics.Metrics) *Server {
	s := &Server{Dispatcher: d, Tester: tester, Log: log, Metrics: m, Router: mux.NewRouter()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Use(middleware.LoggingMiddleware(s.Log))
	s.Router.Use(middleware.NewRecoveryMiddleware(s.Log).Handler)
	s.Router.Use(middleware.NewBodyLimitMiddleware(0).Handler)

	s.Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if s.Tester != nil {
		s.Router.HandleFunc("/__ut__", s.handleUpperTester).Methods(http.MethodPost)
	}
	s.Router.PathPrefix("/").HandlerFunc(s.handlePrimitive)
}

// ServeHTTP makes Server itself usable as an http.Handler (e.g. passed
// straight to http.Server.Handler).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func (s *Server) handlePrimitive(w http.ResponseWriter, r *http.Request) {
	req, err := buildRequest(r)
	if err != nil {
		writeTransportError(w, r.Header.Get("X-M2M-RI"), err)
		return
	}

	format := requestFormat(r)
	if accept := r.Header.Get("Accept"); accept != "" && accept != "*/*" {
		if f, err := codec.FormatFromMediaType(accept); err == nil {
			format = f
		}
	}

	reqStart := time.Now()
	resp := s.Dispatcher.Dispatch(r.Context(), req)
	if s.Metrics != nil {
		s.Metrics.RecordHTTPRequest("cse", r.Method, r.URL.Path, strconv.Itoa(resp.RSC), time.Since(reqStart))
	}
	writeResponse(w, resp, format)
}

// handleUpperTester implements the Upper-Tester hook's HTTP transport,
// grounded on original_source/tests/testUpperTester.py's protocol: the
// command arrives in the X-M2M-UTCMD header (falling back to a raw text
// body for non-Python test clients), the result is echoed back in
// X-M2M-UTRSP, and X-M2M-RSC carries 2000 on success.
func (s *Server) handleUpperTester(w http.ResponseWriter, r *http.Request) {
	cmd := r.Header.Get("X-M2M-UTCMD")
	if cmd == "" {
		body, _ := io.ReadAll(r.Body)
		cmd = strings.TrimSpace(string(body))
	}

	resp, err := s.Tester.HandleCommand(r.Context(), cmd)
	if err != nil {
		w.Header().Set("X-M2M-UTRSP", err.Error())
		w.Header().Set("X-M2M-RSC", "4000")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.Header().Set("X-M2M-UTRSP", resp)
	w.Header().Set("X-M2M-RSC", "2000")
	w.WriteHeader(http.StatusOK)
}
