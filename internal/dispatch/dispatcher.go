package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/onem2m-cse/cse/infrastructure/errors"
	"github.com/onem2m-cse/cse/infrastructure/logging"
	"github.com/onem2m-cse/cse/infrastructure/metrics"
	"github.com/onem2m-cse/cse/internal/acp"
	"github.com/onem2m-cse/cse/internal/eventbus"
	"github.com/onem2m-cse/cse/internal/policy"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/resource/rilock"
	"github.com/onem2m-cse/cse/internal/store"
)

// SubVerifier is the narrow notify.Notifier surface handleCreate/handleDelete
// need: the vrq verification handshake for a subscription's nu targets on
// create, and the sud deletion notice when a subscription is torn down.
// *notify.Notifier satisfies this directly, so cmd/cseserver wires it in
// with no adapter required.
type SubVerifier interface {
	VerifyNewTarget(ctx context.Context, subRI, target string) (bool, error)
	NotifyDeletion(ctx context.Context, sub store.SubscriptionRecord)
}

// CRSRegistrar is the narrow notify.CRSTracker surface handleCreate/
// handleDelete need to wire a <CRS>'s rrat source subscriptions in on create
// and drop the registration on delete. *notify.CRSTracker's Register takes a
// notify-package config struct this package doesn't import, so
// cmd/cseserver adapts it to this flat-parameter shape.
type CRSRegistrar interface {
	Register(ri string, nu, rrat []string, eem int, periodic bool, tws time.Duration)
	Unregister(crsRI string)
}

// Dispatcher drives the CRUDN pipeline of spec.md §4.1 against a Store,
// the policy Validator (§4.2), the resource.Registry's activation hooks,
// the acp.Evaluator, and the eventbus for notifier fan-out (§4.3).
type Dispatcher struct {
	Store      store.Store
	Validator  *policy.Validator
	Behaviors  *resource.Registry
	ACP        *acp.Evaluator
	Bus        *eventbus.Bus
	Locks      *rilock.Registry
	Log        *logging.Logger
	Metrics    *metrics.Metrics
	CSEBaseRI  string
	MaxRequestHistory int

	// Verifier and CRSRegistrar are optional: nil disables the verification
	// handshake and CRS source-subscription wiring respectively (e.g. in
	// tests that exercise plain CRUD without a Notifier).
	Verifier     SubVerifier
	CRSRegistrar CRSRegistrar

	pch *pchQueue
}

// New wires a Dispatcher from its collaborators. Verifier and CRSRegistrar
// are left nil; set them on the returned Dispatcher once the caller's
// Notifier/CRSTracker exist (cmd/cseserver does this right after
// constructing both).
func New(st store.Store, validator *policy.Validator, behaviors *resource.Registry, acpEval *acp.Evaluator, bus *eventbus.Bus, locks *rilock.Registry, log *logging.Logger, m *metrics.Metrics, cseBaseRI string, maxRequestHistory int) *Dispatcher {
	return &Dispatcher{
		Store: st, Validator: validator, Behaviors: behaviors, ACP: acpEval,
		Bus: bus, Locks: locks, Log: log, Metrics: m, CSEBaseRI: cseBaseRI, MaxRequestHistory: maxRequestHistory,
		pch: newPCHQueue(),
	}
}

// Dispatch runs the full pipeline for req and returns its Response. It
// returns no Go error: every failure, including a context cancellation
// while the request is parked until its oet, is reflected as a
// non-2000-class RSC in the Response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	now := time.Now()
	resp := d.dispatch(ctx, req, now)
	d.recordRequest(ctx, req, resp, now)
	if d.Metrics != nil {
		d.Metrics.RecordDispatch(operationLabel(req.Operation), req.Ty.String(), fmt.Sprintf("%d", resp.RSC), time.Since(now))
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request, now time.Time) *Response {
	// Step 2: framing validation.
	if !req.RQET.IsZero() && req.RQET.Before(now) {
		return d.fail(req, errors.RequestTimeout())
	}
	if !req.RSET.IsZero() && !req.RQET.IsZero() && req.RSET.Before(req.RQET) {
		return d.fail(req, errors.BadRequest("rset precedes rqet"))
	}
	if !req.OET.IsZero() && req.OET.After(now) {
		select {
		case <-time.After(req.OET.Sub(now)):
		case <-ctx.Done():
			return d.fail(req, errors.RequestTimeout())
		}
	}

	// Step 1: resolve target.
	ri, err := d.resolveTarget(ctx, req.To)
	if err != nil {
		if err == store.ErrNotFound {
			return d.fail(req, errors.NotFound(req.To))
		}
		return d.fail(req, errors.Internal("resolving target", err))
	}

	release, lockErr := d.Locks.Lock(ctx, ri)
	if lockErr != nil {
		return d.fail(req, errors.Internal("acquiring resource lock", lockErr))
	}
	defer release()

	switch req.Operation {
	case resource.OpCreate:
		return d.handleCreate(ctx, req, ri, now)
	case resource.OpRetrieve:
		return d.handleRetrieve(ctx, req, ri)
	case resource.OpUpdate:
		return d.handleUpdate(ctx, req, ri, now)
	case resource.OpDelete:
		return d.handleDelete(ctx, req, ri, now)
	case resource.OpNotify:
		return d.handleNotify(ctx, req, ri, now)
	default:
		return d.fail(req, errors.OperationNotAllowed(operationLabel(req.Operation), ""))
	}
}

// resolveTarget implements spec.md §4.1 step 1 for the local-CSE case:
// "" and "/" name the CSEBase, an address starting with "/" is looked up
// as a structured name, and any other address is looked up as a bare ri.
// A "<cse>/<ri>" form is not split, so it resolves to not found unless a
// resource is stored under that exact ri. A to-address naming a different
// CSE-ID is not forwarded, here or in the transports.
func (d *Dispatcher) resolveTarget(ctx context.Context, to string) (string, error) {
	if to == "" || to == "/" {
		return d.CSEBaseRI, nil
	}
	if strings.HasPrefix(to, "/") {
		ri, err := d.Store.GetRIBySRN(ctx, to)
		if err != nil {
			return "", err
		}
		return ri, nil
	}
	if _, err := d.Store.GetResource(ctx, to); err == nil {
		return to, nil
	} else if err != store.ErrNotFound {
		return "", err
	}
	return "", store.ErrNotFound
}

func (d *Dispatcher) fail(req *Request, se *errors.ServiceError) *Response {
	return &Response{RSC: int(se.RSC), RQI: req.RQI, To: req.To, PC: se, OT: time.Now()}
}

func (d *Dispatcher) recordRequest(ctx context.Context, req *Request, resp *Response, now time.Time) {
	rec := store.RecordedRequest{
		Timestamp: now, Op: operationLabel(req.Operation), To: req.To,
		From: req.Originator, RQI: req.RQI, RSC: resp.RSC,
	}
	if err := d.Store.RecordRequest(ctx, rec, d.MaxRequestHistory); err != nil && d.Log != nil {
		d.Log.WithError(err).WithFields(map[string]interface{}{"rqi": req.RQI}).Error("record request failed")
	}
}

func operationLabel(op resource.Operation) string {
	switch op {
	case resource.OpCreate:
		return "create"
	case resource.OpRetrieve:
		return "retrieve"
	case resource.OpUpdate:
		return "update"
	case resource.OpDelete:
		return "delete"
	case resource.OpNotify:
		return "notify"
	default:
		return "unknown"
	}
}
