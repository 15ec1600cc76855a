// Package uppertester implements spec.md line 50's "Upper Tester hook":
// reset and expiration-shortening operations exposed to integration tests.
// Grounded on SPEC_FULL.md §4a, which traces this to the original's
// X-M2M-UTCMD HTTP debug header handling exercised by
// tests/testUpperTester.py ("Status", "Reset",
// "enableShortRequestExpiration <n>", "disableShortRequestExpiration",
// "enableShortResourceExpiration <n>", "disableShortResourceExpiration").
// Transport-agnostic: internal/transport/httptransport maps the
// X-M2M-UTCMD header onto HandleCommand and the returned Status onto the
// X-M2M-UTRSP response header.
package uppertester

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onem2m-cse/cse/infrastructure/logging"
	"github.com/onem2m-cse/cse/internal/store"
)

// Status mirrors the original's CSEStatus enum, reported via the UTRSP
// header in response to a "Status" command.
type Status string

const (
	StatusStopped   Status = "STOPPED"
	StatusStarting  Status = "STARTING"
	StatusRunning   Status = "RUNNING"
	StatusStopping  Status = "STOPPING"
	StatusResetting Status = "RESETTING"
)

// Tester drives the Upper-Tester operations against the CSE's store.
// cmd/cseserver wires it in only when cfg.Server.EnableUpperTester is set.
type Tester struct {
	Store     store.Store
	CSEBaseRI string
	Log       *logging.Logger

	mu                         sync.Mutex
	status                     Status
	requestExpirationOverride  time.Duration // 0 disables the override
	resourceExpirationOverride time.Duration
	scheduleGatingEnabled      bool
}

// New builds a Tester for the CSEBase resource at cseBaseRI.
func New(st store.Store, cseBaseRI string, log *logging.Logger) *Tester {
	return &Tester{Store: st, CSEBaseRI: cseBaseRI, Log: log, status: StatusRunning, scheduleGatingEnabled: true}
}

// HandleCommand parses and executes one X-M2M-UTCMD header value, returning
// the text to report back as X-M2M-UTRSP.
func (t *Tester) HandleCommand(ctx context.Context, cmd string) (string, error) {
	fields := strings.Fields(strings.TrimSpace(cmd))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty upper-tester command")
	}

	switch fields[0] {
	case "Status":
		return string(t.Status()), nil

	case "Reset":
		if err := t.Reset(ctx); err != nil {
			return "", err
		}
		return string(StatusRunning), nil

	case "enableShortRequestExpiration":
		seconds, err := parseSeconds(fields)
		if err != nil {
			return "", err
		}
		t.SetRequestExpirationOverride(time.Duration(seconds) * time.Second)
		return "OK", nil

	case "disableShortRequestExpiration":
		t.SetRequestExpirationOverride(0)
		return "OK", nil

	case "enableShortResourceExpiration":
		seconds, err := parseSeconds(fields)
		if err != nil {
			return "", err
		}
		t.SetResourceExpirationOverride(time.Duration(seconds) * time.Second)
		return "OK", nil

	case "disableShortResourceExpiration":
		t.SetResourceExpirationOverride(0)
		return "OK", nil

	case "enableScheduleGating":
		t.SetScheduleGatingEnabled(true)
		return "OK", nil

	case "disableScheduleGating":
		t.SetScheduleGatingEnabled(false)
		return "OK", nil

	default:
		return "", fmt.Errorf("unrecognized upper-tester command %q", fields[0])
	}
}

func parseSeconds(fields []string) (int, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("command %q requires a seconds argument", fields[0])
	}
	seconds, err := strconv.Atoi(fields[1])
	if err != nil || seconds <= 0 {
		return 0, fmt.Errorf("invalid seconds argument %q", fields[1])
	}
	return seconds, nil
}

// Status returns the current reported CSE status.
func (t *Tester) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Reset drops every resource under CSEBaseRI (but not the CSEBase itself),
// per SPEC_FULL.md §4a's "Reset(ctx) (drop all non-CSEBase resources)".
func (t *Tester) Reset(ctx context.Context) error {
	t.mu.Lock()
	t.status = StatusResetting
	t.mu.Unlock()

	if err := t.deleteSubtree(ctx, t.CSEBaseRI); err != nil {
		t.mu.Lock()
		t.status = StatusRunning
		t.mu.Unlock()
		return fmt.Errorf("reset: %w", err)
	}

	if base, err := t.Store.GetResource(ctx, t.CSEBaseRI); err == nil {
		base.Touch(time.Now().UTC())
		if err := t.Store.PutResource(ctx, base); err != nil && t.Log != nil {
			t.Log.WithError(err).Warn("upper-tester reset: touching CSEBase failed")
		}
	}

	t.mu.Lock()
	t.status = StatusRunning
	t.mu.Unlock()
	return nil
}

// deleteSubtree recursively deletes every descendant of ri (not ri itself).
func (t *Tester) deleteSubtree(ctx context.Context, ri string) error {
	children, err := t.Store.ListChildren(ctx, ri)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := t.deleteSubtree(ctx, child.RI); err != nil {
			return err
		}
		if err := t.Store.DeleteResource(ctx, child.RI); err != nil {
			return err
		}
		_ = t.Store.DeleteIdentifier(ctx, child.RI)
		_ = t.Store.RemoveChild(ctx, ri, child.RI)
	}
	return nil
}

// SetRequestExpirationOverride sets a forced request-expiration duration
// for subsequently issued requests; 0 disables the override.
func (t *Tester) SetRequestExpirationOverride(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requestExpirationOverride = d
}

// RequestExpirationOverride returns the current override and whether one is
// active. The dispatcher does not read it, so the override does not change
// the rqet of dispatched requests.
func (t *Tester) RequestExpirationOverride() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.requestExpirationOverride, t.requestExpirationOverride > 0
}

// SetResourceExpirationOverride sets a forced resource-expiration duration
// for subsequently created resources; 0 disables the override.
func (t *Tester) SetResourceExpirationOverride(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resourceExpirationOverride = d
}

// ResourceExpirationOverride returns the current override and whether one
// is active. Resource creation does not read it, so the override does not
// change the et of created resources.
func (t *Tester) ResourceExpirationOverride() (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resourceExpirationOverride, t.resourceExpirationOverride > 0
}

// SetScheduleGatingEnabled sets the flag ScheduleGatingEnabled reports. No
// notification path reads it: notifications are not gated by <schedule>
// resources.
func (t *Tester) SetScheduleGatingEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scheduleGatingEnabled = enabled
}

// ScheduleGatingEnabled reports whether schedule gating is currently active.
func (t *Tester) ScheduleGatingEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scheduleGatingEnabled
}
