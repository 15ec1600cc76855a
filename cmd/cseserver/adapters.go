package main

import (
	"context"
	"time"

	"github.com/onem2m-cse/cse/internal/actioneval"
	"github.com/onem2m-cse/cse/internal/announce"
	"github.com/onem2m-cse/cse/internal/dispatch"
	"github.com/onem2m-cse/cse/internal/eventbus"
	"github.com/onem2m-cse/cse/internal/group"
	"github.com/onem2m-cse/cse/internal/notify"
)

// announceEventHandler drives the Announcer from the dispatcher's commit
// events (spec.md §4.5), addressing mirrors by RI (rather than structured
// name) since the eventbus.Event carries only RIs. Delete is routed through
// UnannounceDeleted, not UnannounceAll, because the dispatcher's delete path
// has already removed the resource row by the time it publishes the event.
func announceEventHandler(a *announce.Announcer) eventbus.Handler {
	return func(ctx context.Context, ev eventbus.Event) {
		if ev.Target == nil || len(ev.Target.AT) == 0 {
			return
		}
		switch ev.Kind {
		case eventbus.KindCreateDirectChild:
			_ = a.Announce(ctx, ev.Target, "/"+ev.ParentRI, "/"+ev.Target.RI)
		case eventbus.KindUpdateResource:
			_ = a.Update(ctx, ev.Target)
		case eventbus.KindDeleteResource:
			a.UnannounceDeleted(ctx, ev.Target)
		}
	}
}

// dispatchAdapter bridges the dispatcher's full Request/Response shape to
// the narrow request/response shapes internal/group and internal/actioneval
// depend on, avoiding the import cycle each of those packages' doc comments
// calls out (dispatch wires them in, not the reverse).
type dispatchAdapter struct {
	d *dispatch.Dispatcher
}

func (a dispatchAdapter) Dispatch(ctx context.Context, req group.SubRequest) group.SubResponse {
	resp := a.d.Dispatch(ctx, &dispatch.Request{
		Operation:  req.Operation,
		To:         req.To,
		Originator: req.Originator,
		Ty:         req.Ty,
		Payload:    req.Payload,
		RQI:        req.RQI,
	})
	return group.SubResponse{RSC: resp.RSC, RQI: resp.RQI, To: resp.To, PC: resp.PC}
}

func (a dispatchAdapter) DispatchAction(ctx context.Context, req actioneval.ActionRequest) actioneval.ActionResponse {
	resp := a.d.Dispatch(ctx, &dispatch.Request{
		Operation:  req.Operation,
		To:         req.To,
		Originator: req.Originator,
		Payload:    req.Payload,
	})
	return actioneval.ActionResponse{RSC: resp.RSC, PC: resp.PC}
}

// actionDispatcher narrows dispatchAdapter to the actioneval.ActionDispatcher
// interface, since Go interface satisfaction is structural but actioneval
// and group each declare their own single-method "Dispatch" interface with
// different request/response types - one adapter value can't implement both
// under the same method name.
type actionDispatcher struct{ a dispatchAdapter }

func (d actionDispatcher) Dispatch(ctx context.Context, req actioneval.ActionRequest) actioneval.ActionResponse {
	return d.a.DispatchAction(ctx, req)
}

// crsRegistrarAdapter bridges dispatch.CRSRegistrar's flat parameters to
// *notify.CRSTracker.Register's notify.CRSConfig, since dispatch declares
// its own narrow interface rather than importing notify (mirroring
// dispatchAdapter's role the other direction).
type crsRegistrarAdapter struct {
	tracker *notify.CRSTracker
}

func (a crsRegistrarAdapter) Register(ri string, nu, rrat []string, eem int, periodic bool, tws time.Duration) {
	twt := notify.WindowSliding
	if periodic {
		twt = notify.WindowPeriodic
	}
	mode := notify.EventEvaluationMode(eem)
	if mode != notify.EventEvaluationAny {
		mode = notify.EventEvaluationAll
	}
	a.tracker.Register(notify.CRSConfig{RI: ri, Nu: nu, Rrat: rrat, Eem: mode, Twt: twt, Tws: tws})
}

func (a crsRegistrarAdapter) Unregister(crsRI string) {
	a.tracker.Unregister(crsRI)
}

// endpointResolver adapts the configured remote-CSE-ID-to-URL map to
// internal/announce's EndpointResolver, used by HTTPRemoteClient
// (announcement mirroring).
type endpointResolver struct {
	endpoints map[string]string
}

func (r endpointResolver) ResolveCSEEndpoint(cseID string) (string, error) {
	if base, ok := r.endpoints[cseID]; ok {
		return base, nil
	}
	return "", errUnknownCSE(cseID)
}

type errUnknownCSE string

func (e errUnknownCSE) Error() string { return "no registered endpoint for cse-id " + string(e) }
