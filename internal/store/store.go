// Package store defines the persisted-state abstraction over the logical
// tables spec.md §6 names: resources, identifiers, srn, children,
// subscriptions, batchNotifications, actions, requests, schedules,
// statistics. Concrete backends (memstore, sqlstore) implement Store;
// components depend only on this interface.
package store

import (
	"context"
	"time"

	"github.com/onem2m-cse/cse/internal/resource"
)

// IdentifierEntry is the identifiers(ri -> {rn, srn, ty}) row, per spec.md §3.
type IdentifierEntry struct {
	RI  string
	RN  string
	SRN string
	Ty  resource.Type
}

// ChildRef is one entry of children(pi -> [(ri, ty)]).
type ChildRef struct {
	RI string
	Ty resource.Type
}

// SubscriptionRecord is the flattened derived view of a <subscription>
// resource, per spec.md §3.
type SubscriptionRecord struct {
	RI      string
	PI      string // monitored resource's ri
	Net     []int
	Nct     string
	EncAtr  []string // enc/atr attribute filter
	EncChty []resource.Type
	Nu      []string
	Bn      *BatchPolicy
	Ln      bool
	Exc     int
	Cr      string
	Nec     int
	Nse     bool
	Su      string
	Acrs    []string // CRS back-references this subscription feeds
}

// BatchPolicy is a subscription's bn (batch notification) policy.
type BatchPolicy struct {
	Num int
	Dur time.Duration
}

// PendingNotification is one buffered notification awaiting a batch flush.
type PendingNotification struct {
	SubscriptionRI string
	TargetURI      string
	Envelope       map[string]interface{}
	EnqueuedAt     time.Time
}

// ActionRecord is the actions(ri -> actionRecord) row backing <ACTR>/<DEPR>
// evaluation state the scheduler drives.
type ActionRecord struct {
	RI          string
	Evm         string // off|once|periodic|continuous
	Prst        string // off|armed|fired
	OrcRI       string // subject resource
	Ecp         int    // evaluation period (ms), 0 when unset
	LastEvalAt  time.Time
	DependencyRIs []string
}

// RecordedRequest is one requests(ts -> recordedRequest) row.
type RecordedRequest struct {
	Timestamp time.Time
	Op        string
	To        string
	From      string
	RQI       string
	RSC       int
}

// ScheduleRecord is the schedules(ri -> scheduleRecord) row for a <schedule>
// resource's cron-like window.
type ScheduleRecord struct {
	RI           string
	OwnerRI      string // the SUB/CRS/NOD/CSEBase this schedule is attached to
	ScheduleExpr string // 7-field cron-like string
}

// Statistics is the statistics(singleton) row.
type Statistics struct {
	ResourceCount      int
	NotificationsSent  int64
	NotificationsFailed int64
	DeletedResources   int64
	StartedAt          time.Time
}

// ErrNotFound is returned by Get* methods when no row exists for the key.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "store: not found" }

// Store is the full persisted-state abstraction, implemented by memstore
// (in-process, tests/dev) and sqlstore (Postgres via sqlx, production).
type Store interface {
	ResourceStore
	IdentifierStore
	ChildStore
	SubscriptionStore
	BatchNotificationStore
	ActionStore
	RequestStore
	ScheduleStore
	StatisticsStore
}

// ResourceStore implements resources(ri -> document) with upsert-by-ri.
type ResourceStore interface {
	PutResource(ctx context.Context, r *resource.Resource) error
	GetResource(ctx context.Context, ri string) (*resource.Resource, error)
	DeleteResource(ctx context.Context, ri string) error
	ListExpiredResources(ctx context.Context, now time.Time) ([]*resource.Resource, error)
}

// IdentifierStore implements identifiers(ri -> {rn,srn,ty}) and srn(srn -> ri).
type IdentifierStore interface {
	PutIdentifier(ctx context.Context, entry IdentifierEntry) error
	GetIdentifierByRI(ctx context.Context, ri string) (IdentifierEntry, error)
	GetRIBySRN(ctx context.Context, srn string) (string, error)
	DeleteIdentifier(ctx context.Context, ri string) error
}

// ChildStore implements children(pi -> [(ri, ty)]).
type ChildStore interface {
	AddChild(ctx context.Context, pi string, child ChildRef) error
	RemoveChild(ctx context.Context, pi string, ri string) error
	ListChildren(ctx context.Context, pi string) ([]ChildRef, error)
	// FindChildByName resolves a single child's ri from its parent and rn,
	// for (pi, rn) uniqueness checks and structured-name resolution.
	FindChildByName(ctx context.Context, pi, rn string) (string, error)
}

// SubscriptionStore implements subscriptions(ri -> subRecord), indexed by
// the monitored resource (pi) for fast evaluation per spec.md §4.3.
type SubscriptionStore interface {
	PutSubscription(ctx context.Context, rec SubscriptionRecord) error
	GetSubscription(ctx context.Context, ri string) (SubscriptionRecord, error)
	DeleteSubscription(ctx context.Context, ri string) error
	ListSubscriptionsByParent(ctx context.Context, pi string) ([]SubscriptionRecord, error)
}

// BatchNotificationStore implements batchNotifications([ri, nu, ts, envelope]).
type BatchNotificationStore interface {
	EnqueueNotification(ctx context.Context, n PendingNotification) error
	DrainNotifications(ctx context.Context, subRI, targetURI string) ([]PendingNotification, error)
	CountNotifications(ctx context.Context, subRI, targetURI string) (int, error)
}

// ActionStore implements actions(ri -> actionRecord).
type ActionStore interface {
	PutAction(ctx context.Context, rec ActionRecord) error
	GetAction(ctx context.Context, ri string) (ActionRecord, error)
	DeleteAction(ctx context.Context, ri string) error
	ListActiveActions(ctx context.Context) ([]ActionRecord, error)
}

// RequestStore implements requests(ts -> recordedRequest), capped at a
// configured maximum (spec.md §8: "Recorded request table size never
// exceeds the configured maximum").
type RequestStore interface {
	RecordRequest(ctx context.Context, rec RecordedRequest, maxSize int) error
	ListRequests(ctx context.Context, limit int) ([]RecordedRequest, error)
}

// ScheduleStore implements schedules(ri -> scheduleRecord).
type ScheduleStore interface {
	PutSchedule(ctx context.Context, rec ScheduleRecord) error
	GetSchedule(ctx context.Context, ri string) (ScheduleRecord, error)
	DeleteSchedule(ctx context.Context, ri string) error
	ListSchedulesByOwner(ctx context.Context, ownerRI string) ([]ScheduleRecord, error)
}

// StatisticsStore implements statistics(singleton).
type StatisticsStore interface {
	GetStatistics(ctx context.Context) (Statistics, error)
	UpdateStatistics(ctx context.Context, fn func(*Statistics)) error
}

// Lookup adapts a Store to the narrow resource.Lookup interface behaviors
// need for cross-resource checks (e.g. <ACTR>'s orc).
type Lookup struct {
	Store ResourceStore
}

func (l Lookup) GetByRI(ctx context.Context, ri string) (*resource.Resource, bool, error) {
	r, err := l.Store.GetResource(ctx, ri)
	if err == ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}
