// Package notify implements spec.md §4.3's Notifier: subscription
// evaluation against dispatcher events, notification content construction,
// the verification/blocking handshakes, batching, and the expiration
// counter (exc) that auto-deletes exhausted subscriptions.
package notify

import (
	"context"
	"time"

	"github.com/onem2m-cse/cse/infrastructure/logging"
	"github.com/onem2m-cse/cse/infrastructure/metrics"
	"github.com/onem2m-cse/cse/internal/eventbus"
	"github.com/onem2m-cse/cse/internal/store"
)

// Notifier subscribes to the eventbus and delivers notifications to every
// matching subscription's nu targets.
type Notifier struct {
	Store   store.Store
	Sender  Sender
	Log     *logging.Logger
	Metrics *metrics.Metrics
	CRS     *CRSTracker
}

// New builds a Notifier. Pass a nil CRSTracker to disable CRS windowing.
func New(st store.Store, sender Sender, log *logging.Logger, m *metrics.Metrics, crs *CRSTracker) *Notifier {
	return &Notifier{Store: st, Sender: sender, Log: log, Metrics: m, CRS: crs}
}

// HandleEvent is the eventbus.Handler wired into the dispatcher's Bus via
// Bus.Subscribe(notifier.HandleEvent).
func (n *Notifier) HandleEvent(ctx context.Context, ev eventbus.Event) {
	subs, err := n.Store.ListSubscriptionsByParent(ctx, ev.ParentRI)
	if err != nil {
		if n.Log != nil {
			n.Log.WithError(err).WithFields(map[string]interface{}{"pi": ev.ParentRI}).Error("list subscriptions failed")
		}
		return
	}

	for _, sub := range subs {
		if !evaluates(sub, ev) {
			continue
		}
		n.fire(ctx, sub, ev)
	}
}

// fire delivers ev to every nu target of sub, applying batching, blocking,
// and the expiration counter.
func (n *Notifier) fire(ctx context.Context, sub store.SubscriptionRecord, ev eventbus.Event) {
	envelope := buildEnvelope(sub, ev)

	for _, target := range sub.Nu {
		n.deliverOne(ctx, sub, target, envelope)
	}

	if n.CRS != nil && len(sub.Acrs) > 0 {
		for _, crsRI := range sub.Acrs {
			n.CRS.RecordChildFire(ctx, n, crsRI, sub.RI, ev)
		}
	}

	if sub.Exc > 0 {
		n.decrementExpirationCounter(ctx, sub)
	}
}

// deliverOne either enqueues envelope for batched delivery (sub.Bn set) or
// sends it immediately.
func (n *Notifier) deliverOne(ctx context.Context, sub store.SubscriptionRecord, target string, envelope map[string]interface{}) {
	if sub.Bn != nil && sub.Bn.Num > 0 {
		n.enqueueBatch(ctx, sub, target, envelope)
		return
	}
	n.send(ctx, sub.RI, target, envelope)
}

// enqueueBatch buffers envelope and flushes the batch once sub.Bn.Num
// notifications have accumulated for (sub, target), per spec.md §4.3's
// bn/num policy. Batches of subscriptions with a bn/dur are also flushed
// by FlushDueBatches, which the scheduler calls at a fixed interval.
func (n *Notifier) enqueueBatch(ctx context.Context, sub store.SubscriptionRecord, target string, envelope map[string]interface{}) {
	pn := store.PendingNotification{SubscriptionRI: sub.RI, TargetURI: target, Envelope: envelope, EnqueuedAt: time.Now()}
	if err := n.Store.EnqueueNotification(ctx, pn); err != nil {
		if n.Log != nil {
			n.Log.WithError(err).Error("enqueue batch notification failed")
		}
		return
	}
	count, err := n.Store.CountNotifications(ctx, sub.RI, target)
	if err != nil {
		return
	}
	if n.Metrics != nil {
		n.Metrics.SetBatchBufferDepth(count)
	}
	if count >= sub.Bn.Num {
		n.flushBatch(ctx, sub.RI, target)
	}
}

// flushBatch drains and delivers every pending notification buffered for
// (subRI, target) as one aggregated {m2m:agn} envelope.
func (n *Notifier) flushBatch(ctx context.Context, subRI, target string) {
	pending, err := n.Store.DrainNotifications(ctx, subRI, target)
	if err != nil || len(pending) == 0 {
		return
	}
	n.send(ctx, subRI, target, batchEnvelope(pending))
}

// FlushDueBatches drains and delivers, on every call, each non-empty batch
// of the subscriptions under parentRI that carry a bn/dur. Neither
// olderThan nor the age of the buffered notifications is checked, so a
// batch is flushed at the first call after it is started, not when its dur
// has elapsed. Called by the scheduler's periodic tick (spec.md §4.6).
func (n *Notifier) FlushDueBatches(ctx context.Context, parentRI string, olderThan time.Duration) {
	subs, err := n.Store.ListSubscriptionsByParent(ctx, parentRI)
	if err != nil {
		return
	}
	cutoff := time.Now().Add(-olderThan)
	for _, sub := range subs {
		if sub.Bn == nil || sub.Bn.Dur <= 0 {
			continue
		}
		for _, target := range sub.Nu {
			count, err := n.Store.CountNotifications(ctx, sub.RI, target)
			if err != nil || count == 0 {
				continue
			}
			_ = cutoff // not applied: the batch is flushed regardless of its age
			n.flushBatch(ctx, sub.RI, target)
		}
	}
}

func (n *Notifier) send(ctx context.Context, subRI, target string, envelope map[string]interface{}) {
	start := time.Now()
	ok, err := n.Sender.Send(ctx, target, envelope)
	if n.Log != nil {
		net := -1
		if sgn, has := envelope["m2m:sgn"].(map[string]interface{}); has {
			if nev, ok := sgn["nev"].(map[string]interface{}); ok {
				if v, ok := nev["net"].(int); ok {
					net = v
				}
			}
		}
		n.Log.LogNotification(ctx, subRI, target, net, firstErr(err, !ok))
	}
	if n.Metrics != nil {
		status := "ok"
		if err != nil || !ok {
			status = "failed"
		}
		n.Metrics.RecordNotification("direct", status, time.Since(start))
	}

	statErr := n.Store.UpdateStatistics(ctx, func(s *store.Statistics) {
		if err == nil && ok {
			s.NotificationsSent++
		} else {
			s.NotificationsFailed++
		}
	})
	if statErr != nil && n.Log != nil {
		n.Log.WithError(statErr).Warn("statistics update failed")
	}
}

func firstErr(err error, failed bool) error {
	if err != nil {
		return err
	}
	if failed {
		return errNotAcknowledged
	}
	return nil
}

type notAcknowledgedError struct{}

func (notAcknowledgedError) Error() string { return "notification target did not acknowledge (non-2xx)" }

var errNotAcknowledged = notAcknowledgedError{}

// decrementExpirationCounter implements spec.md §4.3's exc handling: each
// firing decrements exc by one, and the subscription is deleted once it
// reaches zero.
func (n *Notifier) decrementExpirationCounter(ctx context.Context, sub store.SubscriptionRecord) {
	sub.Exc--
	if sub.Exc <= 0 {
		if err := n.Store.DeleteSubscription(ctx, sub.RI); err != nil && n.Log != nil {
			n.Log.WithError(err).Warn("delete exhausted subscription failed")
		}
		n.NotifyDeletion(ctx, sub)
		return
	}
	if err := n.Store.PutSubscription(ctx, sub); err != nil && n.Log != nil {
		n.Log.WithError(err).Warn("persist decremented exc failed")
	}
}

// VerifyNewTarget sends the vrq handshake to target and reports whether it
// was acknowledged, per spec.md §4.3: a subscription's nu target must be
// verified before it starts receiving event notifications.
func (n *Notifier) VerifyNewTarget(ctx context.Context, subRI, target string) (bool, error) {
	return n.Sender.Send(ctx, target, verificationEnvelope(subRI))
}

// NotifyDeletion sends the sud handshake to every nu target (and su, if
// set and distinct) when sub is deleted, per spec.md §4.3.
func (n *Notifier) NotifyDeletion(ctx context.Context, sub store.SubscriptionRecord) {
	env := deletionEnvelope(sub.RI)
	sent := make(map[string]bool, len(sub.Nu)+1)
	for _, target := range sub.Nu {
		if sent[target] {
			continue
		}
		sent[target] = true
		n.send(ctx, sub.RI, target, env)
	}
	if sub.Su != "" && !sent[sub.Su] {
		n.send(ctx, sub.RI, sub.Su, env)
	}
}

// BlockingRetrieve implements the blockingUpdate/blockingRetrieve net
// handshake (spec.md §4.3): the originating request blocks on the
// notification round-trip and fails the whole operation if the target does
// not acknowledge with 2xx.
func (n *Notifier) BlockingRetrieve(ctx context.Context, sub store.SubscriptionRecord, ev eventbus.Event) bool {
	envelope := buildEnvelope(sub, ev)
	allOK := true
	for _, target := range sub.Nu {
		ok, err := n.Sender.Send(ctx, target, envelope)
		if err != nil || !ok {
			allOK = false
		}
	}
	return allOK
}
