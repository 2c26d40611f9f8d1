// Package session keeps the signed-in user and the last fetched records
// snapshot in an injected key/value Store.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/records"
)

var ErrNotSignedIn = errors.New("not signed in")

// Store is the persistence behind a Session. Get reports ok=false for a
// missing key; Delete of a missing key is not an error.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

const (
	keyUserID  = "user_id"
	keyProfile = "profile"
	keyRecords = "records"
)

// snapshot is stored as one value so the records and their fetch time
// cannot drift apart.
type snapshot struct {
	FetchedAt time.Time     `json:"fetched_at"`
	Outdated  bool          `json:"outdated,omitempty"`
	Records   []records.Raw `json:"records"`
}

// Session is a typed view over a Store. It holds no state of its own, so
// several Sessions over the same store and namespace observe each other.
type Session struct {
	store     Store
	namespace string
	now       func() time.Time
}

type Option func(*Session)

// WithNamespace prefixes every key, letting one store hold many sessions
// (the HTTP server keeps one per user).
func WithNamespace(ns string) Option {
	return func(s *Session) { s.namespace = strings.TrimSpace(ns) }
}

// WithClock overrides the clock used to stamp snapshots.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

func New(store Store, opts ...Option) *Session {
	s := &Session{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Namespace returns the key prefix, empty for the default session.
func (s *Session) Namespace() string { return s.namespace }

func (s *Session) key(k string) string {
	if s.namespace == "" {
		return k
	}
	return s.namespace + ":" + k
}

// UserID returns the signed-in user id or ErrNotSignedIn.
func (s *Session) UserID(ctx context.Context) (string, error) {
	v, ok, err := s.store.Get(ctx, s.key(keyUserID))
	if err != nil {
		return "", fmt.Errorf("read user id: %w", err)
	}
	if !ok || strings.TrimSpace(v) == "" {
		return "", ErrNotSignedIn
	}
	return v, nil
}

func (s *Session) SetUserID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("empty user id")
	}
	if err := s.store.Set(ctx, s.key(keyUserID), id); err != nil {
		return fmt.Errorf("store user id: %w", err)
	}
	return nil
}

// Profile returns the stored account. A signed-in user without a stored
// profile gets an Account carrying only the id.
func (s *Session) Profile(ctx context.Context) (core.Account, error) {
	id, err := s.UserID(ctx)
	if err != nil {
		return core.Account{}, err
	}
	v, ok, err := s.store.Get(ctx, s.key(keyProfile))
	if err != nil {
		return core.Account{}, fmt.Errorf("read profile: %w", err)
	}
	if !ok {
		return core.Account{ID: id}, nil
	}
	var a core.Account
	if err := json.Unmarshal([]byte(v), &a); err != nil {
		return core.Account{}, fmt.Errorf("decode profile: %w", err)
	}
	if a.ID == "" {
		a.ID = id
	}
	return a, nil
}

func (s *Session) SaveProfile(ctx context.Context, a core.Account) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := s.store.Set(ctx, s.key(keyProfile), string(b)); err != nil {
		return fmt.Errorf("store profile: %w", err)
	}
	return nil
}

func (s *Session) snapshot(ctx context.Context) (snapshot, bool, error) {
	v, ok, err := s.store.Get(ctx, s.key(keyRecords))
	if err != nil {
		return snapshot{}, false, fmt.Errorf("read records: %w", err)
	}
	if !ok || v == "" {
		return snapshot{}, false, nil
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(v), &snap); err != nil {
		return snapshot{}, false, fmt.Errorf("decode records: %w", err)
	}
	if snap.Records == nil {
		snap.Records = []records.Raw{}
	}
	return snap, true, nil
}

func (s *Session) putSnapshot(ctx context.Context, snap snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	if err := s.store.Set(ctx, s.key(keyRecords), string(b)); err != nil {
		return fmt.Errorf("store records: %w", err)
	}
	return nil
}

// Records returns the last saved snapshot and when it was taken. A missing
// snapshot yields an empty list and a zero time.
func (s *Session) Records(ctx context.Context) ([]records.Raw, time.Time, error) {
	snap, ok, err := s.snapshot(ctx)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !ok {
		return []records.Raw{}, time.Time{}, nil
	}
	return snap.Records, snap.FetchedAt, nil
}

// SaveRecords replaces the snapshot wholesale and clears the outdated mark.
func (s *Session) SaveRecords(ctx context.Context, raws []records.Raw) error {
	if raws == nil {
		raws = []records.Raw{}
	}
	return s.putSnapshot(ctx, snapshot{FetchedAt: s.now().UTC(), Records: raws})
}

// SnapshotTime is zero when no snapshot was saved.
func (s *Session) SnapshotTime(ctx context.Context) (time.Time, error) {
	snap, _, err := s.snapshot(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return snap.FetchedAt, nil
}

// MarkOutdated flags the stored snapshot as behind the data service, so the
// next read fetches again. Without a snapshot there is nothing to mark.
func (s *Session) MarkOutdated(ctx context.Context) error {
	snap, ok, err := s.snapshot(ctx)
	if err != nil || !ok || snap.Outdated {
		return err
	}
	snap.Outdated = true
	return s.putSnapshot(ctx, snap)
}

// Outdated reports whether MarkOutdated was called since the last SaveRecords.
func (s *Session) Outdated(ctx context.Context) (bool, error) {
	snap, _, err := s.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return snap.Outdated, nil
}

// Clear signs out: every key of this session is removed.
func (s *Session) Clear(ctx context.Context) error {
	var errs []error
	for _, k := range []string{keyUserID, keyProfile, keyRecords} {
		if err := s.store.Delete(ctx, s.key(k)); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}
