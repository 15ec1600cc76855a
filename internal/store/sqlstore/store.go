package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
)

// Store is a PostgreSQL-backed store.Store, grounded on the teacher's
// internal/app/storage/postgres/store.go: database/sql handles with manual
// Scan, sql.NullString/sql.NullTime conversions, and a fetch-existing-then-
// merge pattern is avoided here because Resource documents are stored
// whole as JSONB rather than column-per-attribute.
type Store struct {
	db *sqlx.DB
}

// New wraps an already-opened *sqlx.DB (see Open) as a store.Store.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func fromNullTime(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time
}

// --- ResourceStore ---

func (s *Store) PutResource(ctx context.Context, r *resource.Resource) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal resource %s: %w", r.RI, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cse_resources (ri, ty, pi, rn, document, ct, lt, et)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ri) DO UPDATE SET
			ty = EXCLUDED.ty, pi = EXCLUDED.pi, rn = EXCLUDED.rn,
			document = EXCLUDED.document, ct = EXCLUDED.ct, lt = EXCLUDED.lt, et = EXCLUDED.et
	`, r.RI, int(r.Ty), r.PI, r.RN, doc, r.CT, r.LT, toNullTime(r.ET))
	if err != nil {
		return fmt.Errorf("put resource %s: %w", r.RI, err)
	}
	return nil
}

func (s *Store) GetResource(ctx context.Context, ri string) (*resource.Resource, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM cse_resources WHERE ri = $1`, ri).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get resource %s: %w", ri, err)
	}
	var r resource.Resource
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("unmarshal resource %s: %w", ri, err)
	}
	return &r, nil
}

func (s *Store) DeleteResource(ctx context.Context, ri string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cse_resources WHERE ri = $1`, ri); err != nil {
		return fmt.Errorf("delete resource %s: %w", ri, err)
	}
	return nil
}

func (s *Store) ListExpiredResources(ctx context.Context, now time.Time) ([]*resource.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM cse_resources WHERE et IS NOT NULL AND et <= $1 ORDER BY ri`, now)
	if err != nil {
		return nil, fmt.Errorf("list expired resources: %w", err)
	}
	defer rows.Close()

	var out []*resource.Resource
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan expired resource: %w", err)
		}
		var r resource.Resource
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("unmarshal expired resource: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- IdentifierStore ---

func (s *Store) PutIdentifier(ctx context.Context, entry store.IdentifierEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cse_identifiers (ri, rn, srn, ty)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (ri) DO UPDATE SET rn = EXCLUDED.rn, srn = EXCLUDED.srn, ty = EXCLUDED.ty
	`, entry.RI, entry.RN, entry.SRN, int(entry.Ty))
	if err != nil {
		return fmt.Errorf("put identifier %s: %w", entry.RI, err)
	}
	return nil
}

func (s *Store) GetIdentifierByRI(ctx context.Context, ri string) (store.IdentifierEntry, error) {
	var e store.IdentifierEntry
	var ty int
	err := s.db.QueryRowContext(ctx, `SELECT ri, rn, srn, ty FROM cse_identifiers WHERE ri = $1`, ri).
		Scan(&e.RI, &e.RN, &e.SRN, &ty)
	if err == sql.ErrNoRows {
		return store.IdentifierEntry{}, store.ErrNotFound
	}
	if err != nil {
		return store.IdentifierEntry{}, fmt.Errorf("get identifier %s: %w", ri, err)
	}
	e.Ty = resource.Type(ty)
	return e, nil
}

func (s *Store) GetRIBySRN(ctx context.Context, srn string) (string, error) {
	var ri string
	err := s.db.QueryRowContext(ctx, `SELECT ri FROM cse_identifiers WHERE srn = $1`, srn).Scan(&ri)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get ri by srn %s: %w", srn, err)
	}
	return ri, nil
}

func (s *Store) DeleteIdentifier(ctx context.Context, ri string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cse_identifiers WHERE ri = $1`, ri); err != nil {
		return fmt.Errorf("delete identifier %s: %w", ri, err)
	}
	return nil
}

// --- ChildStore ---

func (s *Store) AddChild(ctx context.Context, pi string, child store.ChildRef) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cse_children (pi, ri, ty) VALUES ($1, $2, $3)
		ON CONFLICT (pi, ri) DO UPDATE SET ty = EXCLUDED.ty
	`, pi, child.RI, int(child.Ty))
	if err != nil {
		return fmt.Errorf("add child %s to %s: %w", child.RI, pi, err)
	}
	return nil
}

func (s *Store) RemoveChild(ctx context.Context, pi string, ri string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cse_children WHERE pi = $1 AND ri = $2`, pi, ri); err != nil {
		return fmt.Errorf("remove child %s from %s: %w", ri, pi, err)
	}
	return nil
}

func (s *Store) ListChildren(ctx context.Context, pi string) ([]store.ChildRef, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ri, ty FROM cse_children WHERE pi = $1 ORDER BY ri`, pi)
	if err != nil {
		return nil, fmt.Errorf("list children of %s: %w", pi, err)
	}
	defer rows.Close()

	var out []store.ChildRef
	for rows.Next() {
		var c store.ChildRef
		var ty int
		if err := rows.Scan(&c.RI, &ty); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		c.Ty = resource.Type(ty)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) FindChildByName(ctx context.Context, pi, rn string) (string, error) {
	var ri string
	err := s.db.QueryRowContext(ctx, `
		SELECT c.ri FROM cse_children c JOIN cse_identifiers i ON i.ri = c.ri
		WHERE c.pi = $1 AND i.rn = $2
	`, pi, rn).Scan(&ri)
	if err == sql.ErrNoRows {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find child %s/%s: %w", pi, rn, err)
	}
	return ri, nil
}

// --- SubscriptionStore ---

func (s *Store) PutSubscription(ctx context.Context, rec store.SubscriptionRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal subscription %s: %w", rec.RI, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cse_subscriptions (ri, pi, document) VALUES ($1, $2, $3)
		ON CONFLICT (ri) DO UPDATE SET pi = EXCLUDED.pi, document = EXCLUDED.document
	`, rec.RI, rec.PI, doc)
	if err != nil {
		return fmt.Errorf("put subscription %s: %w", rec.RI, err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, ri string) (store.SubscriptionRecord, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM cse_subscriptions WHERE ri = $1`, ri).Scan(&doc)
	if err == sql.ErrNoRows {
		return store.SubscriptionRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.SubscriptionRecord{}, fmt.Errorf("get subscription %s: %w", ri, err)
	}
	var rec store.SubscriptionRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return store.SubscriptionRecord{}, fmt.Errorf("unmarshal subscription %s: %w", ri, err)
	}
	return rec, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, ri string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cse_subscriptions WHERE ri = $1`, ri); err != nil {
		return fmt.Errorf("delete subscription %s: %w", ri, err)
	}
	return nil
}

func (s *Store) ListSubscriptionsByParent(ctx context.Context, pi string) ([]store.SubscriptionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM cse_subscriptions WHERE pi = $1 ORDER BY ri`, pi)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions of %s: %w", pi, err)
	}
	defer rows.Close()

	var out []store.SubscriptionRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		var rec store.SubscriptionRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal subscription: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- BatchNotificationStore ---

func (s *Store) EnqueueNotification(ctx context.Context, n store.PendingNotification) error {
	env, err := json.Marshal(n.Envelope)
	if err != nil {
		return fmt.Errorf("marshal notification envelope: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cse_batch_notifications (sub_ri, target_uri, envelope, enqueued_at)
		VALUES ($1, $2, $3, $4)
	`, n.SubscriptionRI, n.TargetURI, env, n.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("enqueue notification for %s: %w", n.SubscriptionRI, err)
	}
	return nil
}

func (s *Store) DrainNotifications(ctx context.Context, subRI, targetURI string) ([]store.PendingNotification, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin drain tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT envelope, enqueued_at FROM cse_batch_notifications
		WHERE sub_ri = $1 AND target_uri = $2 ORDER BY id
	`, subRI, targetURI)
	if err != nil {
		return nil, fmt.Errorf("query pending notifications: %w", err)
	}

	var out []store.PendingNotification
	for rows.Next() {
		var env []byte
		var enqueuedAt time.Time
		if err := rows.Scan(&env, &enqueuedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan pending notification: %w", err)
		}
		var envelope map[string]interface{}
		if err := json.Unmarshal(env, &envelope); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshal notification envelope: %w", err)
		}
		out = append(out, store.PendingNotification{
			SubscriptionRI: subRI, TargetURI: targetURI, Envelope: envelope, EnqueuedAt: enqueuedAt,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM cse_batch_notifications WHERE sub_ri = $1 AND target_uri = $2
	`, subRI, targetURI); err != nil {
		return nil, fmt.Errorf("clear drained notifications: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit drain tx: %w", err)
	}
	return out, nil
}

func (s *Store) CountNotifications(ctx context.Context, subRI, targetURI string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM cse_batch_notifications WHERE sub_ri = $1 AND target_uri = $2
	`, subRI, targetURI).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count notifications for %s: %w", subRI, err)
	}
	return count, nil
}

// --- ActionStore ---

func (s *Store) PutAction(ctx context.Context, rec store.ActionRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal action %s: %w", rec.RI, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cse_actions (ri, document) VALUES ($1, $2)
		ON CONFLICT (ri) DO UPDATE SET document = EXCLUDED.document
	`, rec.RI, doc)
	if err != nil {
		return fmt.Errorf("put action %s: %w", rec.RI, err)
	}
	return nil
}

func (s *Store) GetAction(ctx context.Context, ri string) (store.ActionRecord, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT document FROM cse_actions WHERE ri = $1`, ri).Scan(&doc)
	if err == sql.ErrNoRows {
		return store.ActionRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.ActionRecord{}, fmt.Errorf("get action %s: %w", ri, err)
	}
	var rec store.ActionRecord
	if err := json.Unmarshal(doc, &rec); err != nil {
		return store.ActionRecord{}, fmt.Errorf("unmarshal action %s: %w", ri, err)
	}
	return rec, nil
}

func (s *Store) DeleteAction(ctx context.Context, ri string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cse_actions WHERE ri = $1`, ri); err != nil {
		return fmt.Errorf("delete action %s: %w", ri, err)
	}
	return nil
}

func (s *Store) ListActiveActions(ctx context.Context) ([]store.ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM cse_actions ORDER BY ri`)
	if err != nil {
		return nil, fmt.Errorf("list active actions: %w", err)
	}
	defer rows.Close()

	var out []store.ActionRecord
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		var rec store.ActionRecord
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal action: %w", err)
		}
		if rec.Evm != "off" {
			out = append(out, rec)
		}
	}
	return out, rows.Err()
}

// --- RequestStore ---

func (s *Store) RecordRequest(ctx context.Context, rec store.RecordedRequest, maxSize int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record request tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cse_requests (ts, op, "to", "from", rqi, rsc) VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.Timestamp, rec.Op, rec.To, rec.From, rec.RQI, rec.RSC)
	if err != nil {
		return fmt.Errorf("record request: %w", err)
	}

	if maxSize > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM cse_requests WHERE id IN (
				SELECT id FROM cse_requests ORDER BY id DESC OFFSET $1
			)
		`, maxSize)
		if err != nil {
			return fmt.Errorf("trim request history: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) ListRequests(ctx context.Context, limit int) ([]store.RecordedRequest, error) {
	query := `SELECT ts, op, "to", "from", rqi, rsc FROM cse_requests ORDER BY id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var out []store.RecordedRequest
	for rows.Next() {
		var rec store.RecordedRequest
		if err := rows.Scan(&rec.Timestamp, &rec.Op, &rec.To, &rec.From, &rec.RQI, &rec.RSC); err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// --- ScheduleStore ---

func (s *Store) PutSchedule(ctx context.Context, rec store.ScheduleRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cse_schedules (ri, owner_ri, schedule) VALUES ($1, $2, $3)
		ON CONFLICT (ri) DO UPDATE SET owner_ri = EXCLUDED.owner_ri, schedule = EXCLUDED.schedule
	`, rec.RI, rec.OwnerRI, rec.ScheduleExpr)
	if err != nil {
		return fmt.Errorf("put schedule %s: %w", rec.RI, err)
	}
	return nil
}

func (s *Store) GetSchedule(ctx context.Context, ri string) (store.ScheduleRecord, error) {
	var rec store.ScheduleRecord
	err := s.db.QueryRowContext(ctx, `SELECT ri, owner_ri, schedule FROM cse_schedules WHERE ri = $1`, ri).
		Scan(&rec.RI, &rec.OwnerRI, &rec.ScheduleExpr)
	if err == sql.ErrNoRows {
		return store.ScheduleRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.ScheduleRecord{}, fmt.Errorf("get schedule %s: %w", ri, err)
	}
	return rec, nil
}

func (s *Store) DeleteSchedule(ctx context.Context, ri string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cse_schedules WHERE ri = $1`, ri); err != nil {
		return fmt.Errorf("delete schedule %s: %w", ri, err)
	}
	return nil
}

func (s *Store) ListSchedulesByOwner(ctx context.Context, ownerRI string) ([]store.ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ri, owner_ri, schedule FROM cse_schedules WHERE owner_ri = $1 ORDER BY ri`, ownerRI)
	if err != nil {
		return nil, fmt.Errorf("list schedules of %s: %w", ownerRI, err)
	}
	defer rows.Close()

	var out []store.ScheduleRecord
	for rows.Next() {
		var rec store.ScheduleRecord
		if err := rows.Scan(&rec.RI, &rec.OwnerRI, &rec.ScheduleExpr); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- StatisticsStore ---

func (s *Store) GetStatistics(ctx context.Context) (store.Statistics, error) {
	var st store.Statistics
	err := s.db.QueryRowContext(ctx, `
		SELECT resource_count, notifications_sent, notifications_failed, deleted_resources, started_at
		FROM cse_statistics WHERE id = 1
	`).Scan(&st.ResourceCount, &st.NotificationsSent, &st.NotificationsFailed, &st.DeletedResources, &st.StartedAt)
	if err == sql.ErrNoRows {
		return store.Statistics{StartedAt: time.Now()}, nil
	}
	if err != nil {
		return store.Statistics{}, fmt.Errorf("get statistics: %w", err)
	}
	return st, nil
}

func (s *Store) UpdateStatistics(ctx context.Context, fn func(*store.Statistics)) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin statistics tx: %w", err)
	}
	defer tx.Rollback()

	var st store.Statistics
	err = tx.QueryRowContext(ctx, `
		SELECT resource_count, notifications_sent, notifications_failed, deleted_resources, started_at
		FROM cse_statistics WHERE id = 1 FOR UPDATE
	`).Scan(&st.ResourceCount, &st.NotificationsSent, &st.NotificationsFailed, &st.DeletedResources, &st.StartedAt)
	if err == sql.ErrNoRows {
		st = store.Statistics{StartedAt: time.Now()}
	} else if err != nil {
		return fmt.Errorf("read statistics: %w", err)
	}

	fn(&st)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cse_statistics (id, resource_count, notifications_sent, notifications_failed, deleted_resources, started_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			resource_count = EXCLUDED.resource_count,
			notifications_sent = EXCLUDED.notifications_sent,
			notifications_failed = EXCLUDED.notifications_failed,
			deleted_resources = EXCLUDED.deleted_resources,
			started_at = EXCLUDED.started_at
	`, st.ResourceCount, st.NotificationsSent, st.NotificationsFailed, st.DeletedResources, st.StartedAt)
	if err != nil {
		return fmt.Errorf("write statistics: %w", err)
	}

	return tx.Commit()
}

var _ store.Store = (*Store)(nil)
