package notify

import (
	"github.com/onem2m-cse/cse/internal/eventbus"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
)

// netForKind maps an eventbus.Kind to its oneM2M net (notificationEventType)
// value; the two enumerations share numbering by construction.
func netForKind(k eventbus.Kind) int {
	return int(k)
}

// matchesNet reports whether sub is listening for this event's net value.
func matchesNet(sub store.SubscriptionRecord, net int) bool {
	if len(sub.Net) == 0 {
		return net == int(eventbus.KindUpdateResource) || net == int(eventbus.KindDeleteResource)
	}
	for _, n := range sub.Net {
		if n == net {
			return true
		}
	}
	return false
}

// matchesChildType reports whether sub's chty filter (direct-child events
// only) admits ev.Target's type. An empty chty admits every type.
func matchesChildType(sub store.SubscriptionRecord, ev eventbus.Event) bool {
	if ev.Kind != eventbus.KindCreateDirectChild && ev.Kind != eventbus.KindDeleteDirectChild {
		return true
	}
	if len(sub.EncChty) == 0 {
		return true
	}
	for _, ty := range sub.EncChty {
		if ty == ev.Target.Ty {
			return true
		}
	}
	return false
}

// matchesAttributeFilter reports whether sub's enc/atr filter intersects
// the changed-attribute set of a resourceUpdate event. Non-update events
// and subscriptions without an atr filter always match.
func matchesAttributeFilter(sub store.SubscriptionRecord, ev eventbus.Event) bool {
	if ev.Kind != eventbus.KindUpdateResource || len(sub.EncAtr) == 0 {
		return true
	}
	if len(ev.ChangedAttrs) == 0 {
		return false
	}
	for _, attr := range sub.EncAtr {
		if ev.ChangedAttrs[attr] {
			return true
		}
	}
	return false
}

// evaluates reports whether sub should fire for ev, per spec.md §4.3's
// subscription-evaluation rule: net match, then chty (direct-child events
// only), then enc/atr (resourceUpdate events only).
func evaluates(sub store.SubscriptionRecord, ev eventbus.Event) bool {
	net := netForKind(ev.Kind)
	return matchesNet(sub, net) && matchesChildType(sub, ev) && matchesAttributeFilter(sub, ev)
}

// buildEnvelope constructs the {m2m:sgn: {...}} notification content for
// sub reacting to ev, shaped by sub.Nct (notificationContentType):
//
//	all                  - the full target resource representation
//	modifiedAttributes   - only the attributes named in ev.ChangedAttrs
//	ri                   - the target's resource identifier only
//	triggerPayload       - reserved for AE trigger delivery (transport-specific)
//	timeSeriesNotification - missing-data-point report (§4.3 CRS windowing)
func buildEnvelope(sub store.SubscriptionRecord, ev eventbus.Event) map[string]interface{} {
	sgn := map[string]interface{}{
		"sur": sub.RI,
		"nev": map[string]interface{}{
			"net": netForKind(ev.Kind),
		},
	}
	nev := sgn["nev"].(map[string]interface{})

	switch sub.Nct {
	case "ri":
		nev["rep"] = map[string]interface{}{"ri": ev.Target.RI}
	case "modifiedAttributes":
		nev["rep"] = modifiedAttributes(ev)
	case "triggerPayload":
		nev["rep"] = ev.Target
	case "timeSeriesNotification":
		nev["rep"] = map[string]interface{}{"ri": ev.Target.RI, "net": netForKind(ev.Kind)}
	default: // "all" and unset
		nev["rep"] = ev.Target
	}

	if ev.Originator != "" {
		sgn["cr"] = ev.Originator
	}
	return map[string]interface{}{"m2m:sgn": sgn}
}

func modifiedAttributes(ev eventbus.Event) map[string]interface{} {
	out := make(map[string]interface{}, len(ev.ChangedAttrs)+1)
	out["ri"] = ev.Target.RI
	for attr := range ev.ChangedAttrs {
		if v, ok := ev.Target.Get(attr); ok {
			out[attr] = v
		}
	}
	return out
}

// verificationEnvelope is the {m2m:sgn: {vrq: true, sur: ...}} handshake
// sent once when a subscription's nu target is (re)established.
func verificationEnvelope(subRI string) map[string]interface{} {
	return map[string]interface{}{"m2m:sgn": map[string]interface{}{"vrq": true, "sur": subRI}}
}

// deletionEnvelope is the {m2m:sgn: {sud: true, sur: ...}} notice sent,
// when a subscription is deleted, to every nu target and to sub.Su (the
// subscriberURI) when it is set and not already a nu target, per spec.md §4.3.
func deletionEnvelope(subRI string) map[string]interface{} {
	return map[string]interface{}{"m2m:sgn": map[string]interface{}{"sud": true, "sur": subRI}}
}

// batchEnvelope aggregates pending notifications into a single
// {m2m:agn: {m2m:sgn: [...]}} delivery, per spec.md §4.3's batching (bn).
func batchEnvelope(pending []store.PendingNotification) map[string]interface{} {
	sgns := make([]interface{}, 0, len(pending))
	for _, p := range pending {
		if sgn, ok := p.Envelope["m2m:sgn"]; ok {
			sgns = append(sgns, sgn)
		}
	}
	return map[string]interface{}{"m2m:agn": map[string]interface{}{"m2m:sgn": sgns}}
}
