package notify

import (
	"context"
	"sync"
	"time"

	"github.com/onem2m-cse/cse/internal/eventbus"
)

// WindowType is a CRS's twt (time window type).
type WindowType int

const (
	WindowPeriodic WindowType = iota
	WindowSliding
)

// EventEvaluationMode is a CRS's eem: whether ALL or ANY source
// subscription must fire within the window to emit a CRS notification.
type EventEvaluationMode int

const (
	EventEvaluationAll EventEvaluationMode = iota + 1
	EventEvaluationAny
)

// CRSConfig is a registered <CRS> resource's windowing parameters, per
// spec.md §4.3's "CRS windowing" and the GLOSSARY's CRS entry.
type CRSConfig struct {
	RI   string
	Nu   []string
	Rrat []string // source subscription ris (encapsulated conditions)
	Eem  EventEvaluationMode
	Twt  WindowType
	Tws  time.Duration
}

type crsState struct {
	mu        sync.Mutex
	lastSeen  map[string]time.Time // source subscription ri -> last fire time
	windowEnd time.Time            // periodic windows only
}

// CRSTracker holds runtime windowing state for registered CRS resources.
// State is in-memory only (spec.md §9 decision: CRS windows don't survive
// a restart, matching the polling-channel queue decision).
type CRSTracker struct {
	mu      sync.RWMutex
	configs map[string]*CRSConfig
	state   map[string]*crsState
}

// NewCRSTracker builds an empty tracker.
func NewCRSTracker() *CRSTracker {
	return &CRSTracker{configs: make(map[string]*CRSConfig), state: make(map[string]*crsState)}
}

// Register adds or replaces a CRS's windowing configuration.
func (t *CRSTracker) Register(cfg CRSConfig) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.configs[cfg.RI] = &cfg
	t.state[cfg.RI] = &crsState{lastSeen: make(map[string]time.Time)}
}

// Unregister drops a CRS's windowing state, called on <CRS> deletion.
func (t *CRSTracker) Unregister(crsRI string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.configs, crsRI)
	delete(t.state, crsRI)
}

// RecordChildFire is invoked once per source subscription firing, for each
// CRS it feeds (sub.Acrs), and applies the sliding-window rule inline;
// periodic windows are evaluated by Tick instead.
func (t *CRSTracker) RecordChildFire(ctx context.Context, n *Notifier, crsRI, sourceSubRI string, ev eventbus.Event) {
	t.mu.RLock()
	cfg, okCfg := t.configs[crsRI]
	st, okState := t.state[crsRI]
	t.mu.RUnlock()
	if !okCfg || !okState {
		return
	}

	st.mu.Lock()
	st.lastSeen[sourceSubRI] = time.Now()
	if cfg.Twt == WindowPeriodic {
		st.mu.Unlock()
		return
	}
	fire := t.evaluateLocked(cfg, st, time.Now())
	if fire {
		st.lastSeen = make(map[string]time.Time)
	}
	st.mu.Unlock()

	if fire {
		t.emit(ctx, n, cfg, ev)
	}
}

// evaluateLocked checks whether cfg's eem condition is satisfied given the
// sources that have fired within cfg.Tws of now. Caller holds st.mu.
func (t *CRSTracker) evaluateLocked(cfg *CRSConfig, st *crsState, now time.Time) bool {
	withinWindow := func(ts time.Time) bool { return !ts.IsZero() && now.Sub(ts) <= cfg.Tws }

	switch cfg.Eem {
	case EventEvaluationAny:
		for _, src := range cfg.Rrat {
			if withinWindow(st.lastSeen[src]) {
				return true
			}
		}
		return false
	default: // EventEvaluationAll
		for _, src := range cfg.Rrat {
			if !withinWindow(st.lastSeen[src]) {
				return false
			}
		}
		return len(cfg.Rrat) > 0
	}
}

// Tick evaluates the CRS named by crsRI and emits a notification (then
// resets the window) when its eem condition holds. No scheduler job in
// this module calls Tick, so a periodic-window CRS emits only when a
// caller invokes it.
func (t *CRSTracker) Tick(ctx context.Context, n *Notifier, crsRI string) {
	t.mu.RLock()
	cfg, okCfg := t.configs[crsRI]
	st, okState := t.state[crsRI]
	t.mu.RUnlock()
	if !okCfg || !okState || cfg.Twt != WindowPeriodic {
		return
	}

	st.mu.Lock()
	fire := t.evaluateLocked(cfg, st, time.Now())
	st.lastSeen = make(map[string]time.Time)
	st.mu.Unlock()

	if fire {
		t.emit(ctx, n, cfg, eventbus.Event{Kind: eventbus.KindUpdateResource})
	}
}

// emit sends the CRS's own notification ({m2m:sgn: {sur: <crs ri>, ...}})
// to every nu target, bypassing per-subscription Nct shaping since a CRS
// notification always reports that the aggregate condition was met.
func (t *CRSTracker) emit(ctx context.Context, n *Notifier, cfg *CRSConfig, ev eventbus.Event) {
	env := map[string]interface{}{
		"m2m:sgn": map[string]interface{}{
			"sur": cfg.RI,
			"nev": map[string]interface{}{"net": netForKind(ev.Kind)},
		},
	}
	for _, target := range cfg.Nu {
		n.send(ctx, cfg.RI, target, env)
	}
}
