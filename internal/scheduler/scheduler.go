// Package scheduler implements spec.md §4.6's background scheduler: the
// periodic/cron-like/one-shot task families and the concrete jobs built on
// top of them (resource expiry sweep, time-series missing-data monitor,
// time-sync beacon, action/dependency evaluation, batch-notification
// flush, and schedule gating for notification paths).
package scheduler

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/onem2m-cse/cse/infrastructure/logging"
	"github.com/onem2m-cse/cse/infrastructure/metrics"
	"github.com/onem2m-cse/cse/internal/eventbus"
	"github.com/onem2m-cse/cse/internal/notify"
	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
)

// ActionEvaluator re-evaluates one <ACTR>'s criterion, per spec.md §4.6's
// "Action evaluator" task. Implemented by internal/actioneval; kept as an
// interface here to avoid a scheduler<->actioneval import cycle (actioneval
// needs the resource tree and store, scheduler only needs to drive ticks).
type ActionEvaluator interface {
	Evaluate(ctx context.Context, rec store.ActionRecord, now time.Time) error
}

// Scheduler drives the three task families over a Store and its
// collaborators. Safe for concurrent use; each Add* call spawns one
// goroutine for its task.
type Scheduler struct {
	Store     store.Store
	Notifier  *notify.Notifier
	Beacon    notify.Sender
	Evaluator ActionEvaluator
	Bus       *eventbus.Bus
	Log       *logging.Logger
	Metrics   *metrics.Metrics

	jobs *jobTable
}

// New builds a Scheduler. Notifier/Beacon/Evaluator/Bus may be nil to
// disable the jobs that depend on them.
func New(st store.Store, notifier *notify.Notifier, beacon notify.Sender, evaluator ActionEvaluator, bus *eventbus.Bus, log *logging.Logger, m *metrics.Metrics) *Scheduler {
	return &Scheduler{Store: st, Notifier: notifier, Beacon: beacon, Evaluator: evaluator, Bus: bus, Log: log, Metrics: m, jobs: newJobTable()}
}

// AddPeriodic registers (or idempotently replaces) a named repeating task.
// end is optional; a zero Time means "runs forever".
func (s *Scheduler) AddPeriodic(name string, period time.Duration, end time.Time, fn jobFunc) {
	stop := make(chan struct{})
	s.jobs.replace(name, stop)
	go s.runPeriodic(periodicJob{name: name, period: period, end: end, fn: fn, stop: stop})
}

// AddOneShot registers a task firing once at the absolute UTC timestamp at.
func (s *Scheduler) AddOneShot(name string, at time.Time, fn jobFunc) {
	stop := make(chan struct{})
	s.jobs.replace(name, stop)
	go s.runOneShot(oneShotJob{name: name, at: at, fn: fn, stop: stop})
}

// AddCron registers a task driven by a 7-field schedule string.
func (s *Scheduler) AddCron(name, expr string, fn jobFunc) error {
	sched, err := ParseCronSchedule(expr)
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	s.jobs.replace(name, stop)
	go s.runCron(cronJob{name: name, schedule: sched, fn: fn, stop: stop})
	return nil
}

// Cancel stops and forgets the named task, whichever family it belongs to.
func (s *Scheduler) Cancel(name string) { s.jobs.cancel(name) }

// Stop cancels every registered task.
func (s *Scheduler) Stop() { s.jobs.cancelAll() }

func (s *Scheduler) runPeriodic(job periodicJob) {
	ticker := time.NewTicker(job.period)
	defer ticker.Stop()
	for {
		select {
		case <-job.stop:
			return
		case now := <-ticker.C:
			if !job.end.IsZero() && now.After(job.end) {
				return
			}
			s.runTask(job.name, job.fn, now)
		}
	}
}

func (s *Scheduler) runOneShot(job oneShotJob) {
	delay := time.Until(job.at)
	if delay < 0 {
		delay = 0
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-job.stop:
		return
	case now := <-timer.C:
		s.runTask(job.name, job.fn, now)
	}
}

func (s *Scheduler) runCron(job cronJob) {
	for {
		next := job.schedule.Next(time.Now())
		if next.IsZero() {
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-job.stop:
			timer.Stop()
			return
		case now := <-timer.C:
			s.runTask(job.name, job.fn, now)
		}
	}
}

func (s *Scheduler) runTask(name string, fn jobFunc, firedAt time.Time) {
	defer func() {
		if r := recover(); r != nil && s.Log != nil {
			s.Log.WithFields(map[string]interface{}{"task": name, "panic": r}).Error("scheduled task panicked")
		}
	}()
	fn(context.Background(), firedAt)
	if s.Metrics != nil {
		s.Metrics.RecordScheduledTaskRun(name, "ok")
	}
}

// StartResourceExpirySweep registers the periodic expiry sweep: every
// interval, delete every resource whose et has passed, per spec.md §4.6.
func (s *Scheduler) StartResourceExpirySweep(interval time.Duration) {
	s.AddPeriodic("resource-expiry-sweep", interval, time.Time{}, func(ctx context.Context, now time.Time) {
		expired, err := s.Store.ListExpiredResources(ctx, now)
		if err != nil {
			if s.Log != nil {
				s.Log.WithError(err).Error("expiry sweep: list expired resources failed")
			}
			return
		}
		for _, r := range expired {
			s.expireOne(ctx, r, now)
		}
	})
}

func (s *Scheduler) expireOne(ctx context.Context, r *resource.Resource, now time.Time) {
	if err := s.Store.DeleteResource(ctx, r.RI); err != nil {
		if s.Log != nil {
			s.Log.WithError(err).WithFields(map[string]interface{}{"ri": r.RI}).Warn("expiry sweep: delete failed")
		}
		return
	}
	_ = s.Store.DeleteIdentifier(ctx, r.RI)
	if r.PI != "" {
		_ = s.Store.RemoveChild(ctx, r.PI, r.RI)
	}
	if err := s.Store.UpdateStatistics(ctx, func(st *store.Statistics) { st.DeletedResources++ }); err != nil && s.Log != nil {
		s.Log.WithError(err).Warn("expiry sweep: statistics update failed")
	}
	if s.Bus != nil {
		s.Bus.Publish(ctx, eventbus.Event{Kind: eventbus.KindDeleteResource, Target: r, ParentRI: r.RI, Originator: "CSE"})
		if r.PI != "" {
			s.Bus.Publish(ctx, eventbus.Event{Kind: eventbus.KindDeleteDirectChild, Target: r, ParentRI: r.PI, Originator: "CSE"})
		}
	}
}

// StartTimeSyncBeacon registers a <TSB>'s periodic push of
// {m2m:tsbn: {tbr, ctm}} to every URI in bcnu, per spec.md §4.6.
func (s *Scheduler) StartTimeSyncBeacon(tsbRI string, period time.Duration, bcnu []string) {
	if s.Beacon == nil {
		return
	}
	s.AddPeriodic("tsb-beacon-"+tsbRI, period, time.Time{}, func(ctx context.Context, now time.Time) {
		envelope := map[string]interface{}{
			"m2m:tsbn": map[string]interface{}{"tbr": tsbRI, "ctm": now.UTC().Format(time.RFC3339)},
		}
		for _, uri := range bcnu {
			if _, err := s.Beacon.Send(ctx, uri, envelope); err != nil && s.Log != nil {
				s.Log.WithError(err).WithFields(map[string]interface{}{"tsb": tsbRI, "target": uri}).Warn("time-sync beacon delivery failed")
			}
		}
	})
}

// StartActionEvaluation registers the periodic re-evaluation of every
// active <ACTR>, per spec.md §4.6's "Action evaluator".
func (s *Scheduler) StartActionEvaluation(interval time.Duration) {
	if s.Evaluator == nil {
		return
	}
	s.AddPeriodic("action-evaluation", interval, time.Time{}, func(ctx context.Context, now time.Time) {
		actions, err := s.Store.ListActiveActions(ctx)
		if err != nil {
			return
		}
		for _, rec := range actions {
			if err := s.Evaluator.Evaluate(ctx, rec, now); err != nil && s.Log != nil {
				s.Log.WithError(err).WithFields(map[string]interface{}{"actr": rec.RI}).Warn("action evaluation failed")
			}
		}
	})
}

// StartBatchFlush registers the periodic bn/dur-based batch flush for
// subscriptions filed under parentRI, per spec.md §4.3's batching policy.
func (s *Scheduler) StartBatchFlush(parentRI string, checkInterval, maxAge time.Duration) {
	if s.Notifier == nil {
		return
	}
	s.AddPeriodic("batch-flush-"+parentRI, checkInterval, time.Time{}, func(ctx context.Context, now time.Time) {
		s.Notifier.FlushDueBatches(ctx, parentRI, maxAge)
	})
}

// StartTimeSeriesMonitor registers the periodic missing-data check for one
// active <TS>, per spec.md §4.6: wake every pei, and if no <TSI> carrying
// the expected dgt arrived within mdt of it, publish a
// KindMissingDataPoints event so subscriptions watching this <TS> fire
// (spec.md §9 decision: no separate mdc/mdn persisted counter stage).
func (s *Scheduler) StartTimeSeriesMonitor(tsRI string, pei, mdt time.Duration) {
	if s.Bus == nil {
		return
	}
	lastDgt := s.latestDataGenerationTime(context.Background(), tsRI)
	s.AddPeriodic("ts-monitor-"+tsRI, pei, time.Time{}, func(ctx context.Context, now time.Time) {
		expected := lastDgt.Add(pei)
		if now.Before(expected.Add(mdt)) {
			return
		}
		latest := s.latestDataGenerationTime(ctx, tsRI)
		if latest.After(lastDgt) {
			lastDgt = latest
			return
		}
		ts, err := s.Store.GetResource(ctx, tsRI)
		if err != nil {
			return
		}
		s.Bus.Publish(ctx, eventbus.Event{Kind: eventbus.KindMissingDataPoints, Target: ts, ParentRI: tsRI})
		lastDgt = expected
	})
}

func (s *Scheduler) latestDataGenerationTime(ctx context.Context, tsRI string) time.Time {
	children, err := s.Store.ListChildren(ctx, tsRI)
	if err != nil {
		return time.Now()
	}
	latest := time.Time{}
	for _, c := range children {
		if c.Ty != resource.TypeTSI {
			continue
		}
		child, err := s.Store.GetResource(ctx, c.RI)
		if err != nil {
			continue
		}
		if dgt, ok := child.Get("dgt"); ok {
			if t, ok := dgt.(time.Time); ok && t.After(latest) {
				latest = t
			}
		}
	}
	if latest.IsZero() {
		return time.Now()
	}
	return latest
}

// StartHostStatistics registers a periodic sample of host CPU/memory
// utilization into the host CPU/memory gauges of Metrics; the store's
// statistics singleton is not touched, and nothing is sampled when Metrics
// is nil.
func (s *Scheduler) StartHostStatistics(interval time.Duration) {
	s.AddPeriodic("host-statistics", interval, time.Time{}, func(ctx context.Context, now time.Time) {
		if s.Metrics == nil {
			return
		}
		if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
			s.Metrics.SetHostCPUPercent(percents[0])
		}
		if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
			s.Metrics.SetHostMemoryPercent(vm.UsedPercent)
		}
	})
}
