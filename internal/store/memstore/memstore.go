// Package memstore is an in-process implementation of store.Store, used by
// unit tests and single-process/dev deployments. It is the reference
// semantics every other backend (sqlstore) must match.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/onem2m-cse/cse/internal/resource"
	"github.com/onem2m-cse/cse/internal/store"
)

// Store is a mutex-guarded in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	resources   map[string]*resource.Resource
	identifiers map[string]store.IdentifierEntry
	srnIndex    map[string]string
	children    map[string][]store.ChildRef
	subs        map[string]store.SubscriptionRecord
	batches     map[string][]store.PendingNotification // key: subRI+"\x00"+targetURI
	actions     map[string]store.ActionRecord
	requests    []store.RecordedRequest
	schedules   map[string]store.ScheduleRecord
	stats       store.Statistics
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		resources:   make(map[string]*resource.Resource),
		identifiers: make(map[string]store.IdentifierEntry),
		srnIndex:    make(map[string]string),
		children:    make(map[string][]store.ChildRef),
		subs:        make(map[string]store.SubscriptionRecord),
		batches:     make(map[string][]store.PendingNotification),
		actions:     make(map[string]store.ActionRecord),
		schedules:   make(map[string]store.ScheduleRecord),
		stats:       store.Statistics{StartedAt: time.Now()},
	}
}

func batchKey(subRI, targetURI string) string { return subRI + "\x00" + targetURI }

// --- ResourceStore ---

func (s *Store) PutResource(_ context.Context, r *resource.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.RI] = r.Clone()
	return nil
}

func (s *Store) GetResource(_ context.Context, ri string) (*resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[ri]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *Store) DeleteResource(_ context.Context, ri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, ri)
	return nil
}

func (s *Store) ListExpiredResources(_ context.Context, now time.Time) ([]*resource.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*resource.Resource
	for _, r := range s.resources {
		if r.Expired(now) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RI < out[j].RI })
	return out, nil
}

// --- IdentifierStore ---

func (s *Store) PutIdentifier(_ context.Context, entry store.IdentifierEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identifiers[entry.RI] = entry
	s.srnIndex[entry.SRN] = entry.RI
	return nil
}

func (s *Store) GetIdentifierByRI(_ context.Context, ri string) (store.IdentifierEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.identifiers[ri]
	if !ok {
		return store.IdentifierEntry{}, store.ErrNotFound
	}
	return e, nil
}

func (s *Store) GetRIBySRN(_ context.Context, srn string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ri, ok := s.srnIndex[srn]
	if !ok {
		return "", store.ErrNotFound
	}
	return ri, nil
}

func (s *Store) DeleteIdentifier(_ context.Context, ri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.identifiers[ri]; ok {
		delete(s.srnIndex, e.SRN)
	}
	delete(s.identifiers, ri)
	return nil
}

// --- ChildStore ---

func (s *Store) AddChild(_ context.Context, pi string, child store.ChildRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[pi] = append(s.children[pi], child)
	return nil
}

func (s *Store) RemoveChild(_ context.Context, pi string, ri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.children[pi]
	for i, c := range list {
		if c.RI == ri {
			s.children[pi] = append(list[:i], list[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) ListChildren(_ context.Context, pi string) ([]store.ChildRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.ChildRef, len(s.children[pi]))
	copy(out, s.children[pi])
	return out, nil
}

func (s *Store) FindChildByName(_ context.Context, pi, rn string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.children[pi] {
		e, ok := s.identifiers[c.RI]
		if ok && e.RN == rn {
			return c.RI, nil
		}
	}
	return "", store.ErrNotFound
}

// --- SubscriptionStore ---

func (s *Store) PutSubscription(_ context.Context, rec store.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[rec.RI] = rec
	return nil
}

func (s *Store) GetSubscription(_ context.Context, ri string) (store.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.subs[ri]
	if !ok {
		return store.SubscriptionRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) DeleteSubscription(_ context.Context, ri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, ri)
	return nil
}

func (s *Store) ListSubscriptionsByParent(_ context.Context, pi string) ([]store.SubscriptionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.SubscriptionRecord
	for _, rec := range s.subs {
		if rec.PI == pi {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RI < out[j].RI })
	return out, nil
}

// --- BatchNotificationStore ---

func (s *Store) EnqueueNotification(_ context.Context, n store.PendingNotification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := batchKey(n.SubscriptionRI, n.TargetURI)
	s.batches[key] = append(s.batches[key], n)
	return nil
}

func (s *Store) DrainNotifications(_ context.Context, subRI, targetURI string) ([]store.PendingNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := batchKey(subRI, targetURI)
	out := s.batches[key]
	delete(s.batches, key)
	return out, nil
}

func (s *Store) CountNotifications(_ context.Context, subRI, targetURI string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.batches[batchKey(subRI, targetURI)]), nil
}

// --- ActionStore ---

func (s *Store) PutAction(_ context.Context, rec store.ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[rec.RI] = rec
	return nil
}

func (s *Store) GetAction(_ context.Context, ri string) (store.ActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.actions[ri]
	if !ok {
		return store.ActionRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) DeleteAction(_ context.Context, ri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, ri)
	return nil
}

func (s *Store) ListActiveActions(_ context.Context) ([]store.ActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ActionRecord
	for _, rec := range s.actions {
		if rec.Evm != "off" {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RI < out[j].RI })
	return out, nil
}

// --- RequestStore ---

func (s *Store) RecordRequest(_ context.Context, rec store.RecordedRequest, maxSize int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, rec)
	if maxSize > 0 && len(s.requests) > maxSize {
		s.requests = s.requests[len(s.requests)-maxSize:]
	}
	return nil
}

func (s *Store) ListRequests(_ context.Context, limit int) ([]store.RecordedRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.requests) {
		limit = len(s.requests)
	}
	out := make([]store.RecordedRequest, limit)
	copy(out, s.requests[len(s.requests)-limit:])
	return out, nil
}

// --- ScheduleStore ---

func (s *Store) PutSchedule(_ context.Context, rec store.ScheduleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[rec.RI] = rec
	return nil
}

func (s *Store) GetSchedule(_ context.Context, ri string) (store.ScheduleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.schedules[ri]
	if !ok {
		return store.ScheduleRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) DeleteSchedule(_ context.Context, ri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, ri)
	return nil
}

func (s *Store) ListSchedulesByOwner(_ context.Context, ownerRI string) ([]store.ScheduleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.ScheduleRecord
	for _, rec := range s.schedules {
		if rec.OwnerRI == ownerRI {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RI < out[j].RI })
	return out, nil
}

// --- StatisticsStore ---

func (s *Store) GetStatistics(_ context.Context) (store.Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats, nil
}

func (s *Store) UpdateStatistics(_ context.Context, fn func(*store.Statistics)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
	return nil
}

var _ store.Store = (*Store)(nil)
