// Package memstore holds planners, users and the reminder ledger in process
// memory. It backs the CLI tool, local runs driven by a seed file, and the
// engine tests. Nothing survives a restart.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"mealreminder/internal/types"
)

type logRecord struct {
	entry     types.ReminderLogEntry
	expiresAt time.Time
}

// Store implements reminder.PlannerRepository and reminder.ReminderLog.
type Store struct {
	mu       sync.Mutex
	planners map[string]types.PlannerDocument
	users    map[string]types.UserRecord
	logs     map[string]logRecord
	clock    types.Clock
}

// New returns an empty store.
func New() *Store {
	return &Store{
		planners: make(map[string]types.PlannerDocument),
		users:    make(map[string]types.UserRecord),
		logs:     make(map[string]logRecord),
		clock:    types.RealClock{},
	}
}

// FromSeed returns a store preloaded with the fixture.
func FromSeed(seed *types.SeedFile) *Store {
	s := New()
	if seed == nil {
		return s
	}
	for _, p := range seed.Planners {
		s.planners[p.OwnerID] = p
	}
	for _, u := range seed.Users {
		s.users[u.ID] = u.Record()
	}
	return s
}

// Load reads a seed file from disk into a new store.
func Load(path string) (*Store, error) {
	seed, err := types.LoadSeedFile(path)
	if err != nil {
		return nil, err
	}
	return FromSeed(seed), nil
}

// WithClock overrides the clock used for claim expiry.
func (s *Store) WithClock(c types.Clock) *Store {
	s.clock = c
	return s
}

// PutPlanner adds or replaces a planner document.
func (s *Store) PutPlanner(doc types.PlannerDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planners[doc.OwnerID] = doc
}

// PutUser adds or replaces a user profile.
func (s *Store) PutUser(u types.UserDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u.Record()
}

// ListAllPlanners returns every planner ordered by owner ID.
func (s *Store) ListAllPlanners(ctx context.Context) ([]types.PlannerConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.PlannerConfig, 0, len(s.planners))
	for _, doc := range s.planners {
		out = append(out, doc.Normalize())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OwnerID < out[j].OwnerID })
	return out, nil
}

// ResolveEmail returns the planner's cached owner email or the first address
// on the stored user record. An unknown owner resolves to "".
func (s *Store) ResolveEmail(ctx context.Context, ownerID string, planner types.PlannerConfig) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[ownerID]; ok {
		return types.ResolveRecipient(planner, &u), nil
	}
	return types.ResolveRecipient(planner, nil), nil
}

// live reports whether rec blocks a new claim at now.
func (rec logRecord) live(now time.Time) bool {
	return rec.entry.Status == types.LogStatusSent || rec.expiresAt.After(now)
}

// Exists reports whether key has a sent entry or an unexpired pending claim.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.logs[key]
	return ok && rec.live(s.clock.Now()), nil
}

// Claim records a pending entry unless a live one already holds the key. A
// pending claim older than ttl is replaced.
func (s *Store) Claim(ctx context.Context, entry types.ReminderLogEntry, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claimedAt := entry.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = s.clock.Now()
	}
	key := entry.Key()
	if rec, ok := s.logs[key]; ok && rec.live(claimedAt) {
		return false, nil
	}
	entry.Status = types.LogStatusPending
	entry.ClaimedAt = claimedAt
	entry.MessageID = ""
	entry.SentAt = time.Time{}
	s.logs[key] = logRecord{entry: entry, expiresAt: claimedAt.Add(ttl)}
	return true, nil
}

// Confirm marks the entry sent. An entry that is already sent is left as is.
func (s *Store) Confirm(ctx context.Context, entry types.ReminderLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.logs[entry.Key()]; ok && rec.entry.Status == types.LogStatusSent {
		return nil
	}
	s.writeSent(entry)
	return nil
}

// Overwrite stores entry as sent, replacing whatever the key held.
func (s *Store) Overwrite(ctx context.Context, entry types.ReminderLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeSent(entry)
	return nil
}

func (s *Store) writeSent(entry types.ReminderLogEntry) {
	if entry.SentAt.IsZero() {
		entry.SentAt = s.clock.Now()
	}
	if entry.ClaimedAt.IsZero() {
		entry.ClaimedAt = entry.SentAt
	}
	entry.Status = types.LogStatusSent
	s.logs[entry.Key()] = logRecord{entry: entry, expiresAt: entry.SentAt}
}

// Release drops a pending claim. Sent entries are never removed.
func (s *Store) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.logs[key]; ok && rec.entry.Status == types.LogStatusPending {
		delete(s.logs, key)
	}
	return nil
}

// Get returns a copy of the entry under key, or nil.
func (s *Store) Get(ctx context.Context, key string) (*types.ReminderLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.logs[key]
	if !ok {
		return nil, nil
	}
	e := rec.entry
	return &e, nil
}

// Entries returns every ledger entry ordered by key.
func (s *Store) Entries() []types.ReminderLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.ReminderLogEntry, 0, len(s.logs))
	for _, rec := range s.logs {
		out = append(out, rec.entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }
