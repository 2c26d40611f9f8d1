package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/filter"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/records"
	"fintrack/internal/remote"
	"fintrack/internal/session"
	"fintrack/internal/storage"
)

// RecordSource is the data service as seen by the transaction service.
type RecordSource interface {
	FetchRecords(ctx context.Context, userID string) ([]records.Raw, error)
	SaveRecord(ctx context.Context, rec remote.NewRecord) (string, error)
}

// Outbox queues saves the data service could not accept right now.
type Outbox interface {
	EnqueueSave(ctx context.Context, userID string, payload []byte) (storage.PendingSave, error)
}

// Notifier wakes the outbox worker up.
type Notifier interface {
	PublishPendingSave(ctx context.Context, id, userID string) error
}

// Snapshot is a user's normalized transaction list.
type Snapshot struct {
	Transactions []core.Transaction
	Issues       []records.ParseFailure
	FetchedAt    time.Time
	// Stale is set when a refresh failed and the stored snapshot was served.
	Stale bool
	// Outdated is set when a save happened after FetchedAt.
	Outdated bool
}

type Dashboard struct {
	Summary   core.Summary
	Expenses  []core.CategoryAmount
	Income    []core.CategoryAmount
	Recent    []core.Transaction
	Count     int
	Issues    int
	FetchedAt time.Time
	Stale     bool
}

type History struct {
	Transactions []core.Transaction
	Summary      core.Summary
	Total        int
	Stale        bool
}

// NewTransaction is user input from the add form.
type NewTransaction struct {
	Title    string
	Amount   string
	Type     string
	Category string
	Note     string
	// Date defaults to now.
	Date time.Time
}

type AddResult struct {
	Transaction core.Transaction
	RemoteID    string
	// Queued means the save sits in the outbox, keyed by PendingID.
	Queued    bool
	PendingID string
}

type TransactionConfig struct {
	Normalizer records.Normalizer
	Cache      *cache.LRUCache[Snapshot]
	Outbox     Outbox
	Notifier   Notifier
	Metrics    metrics.Collector
	Logger     *log.Logger
}

type TransactionService struct {
	source     RecordSource
	normalizer records.Normalizer
	cache      *cache.LRUCache[Snapshot]
	outbox     Outbox
	notifier   Notifier
	metrics    metrics.Collector
	logger     *log.Logger
	group      singleflight.Group
}

func NewTransactionService(source RecordSource, cfg TransactionConfig) *TransactionService {
	s := &TransactionService{
		source:     source,
		normalizer: cfg.Normalizer,
		cache:      cfg.Cache,
		outbox:     cfg.Outbox,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
	if s.cache == nil {
		s.cache = cache.NewLRUCache[Snapshot](256, 5*time.Minute)
	}
	if s.metrics == nil {
		s.metrics = metrics.NoOpCollector{}
	}
	if s.logger == nil {
		s.logger = log.Discard()
	}
	s.logger = s.logger.WithComponent(log.ComponentTxn)
	return s
}

// Cache exposes the list cache so it can join a cache.Manager.
func (s *TransactionService) Cache() *cache.LRUCache[Snapshot] { return s.cache }

func (s *TransactionService) now() time.Time {
	if s.normalizer.Now != nil {
		return s.normalizer.Now().In(s.location())
	}
	return time.Now().In(s.location())
}

func (s *TransactionService) location() *time.Location {
	if s.normalizer.Location != nil {
		return s.normalizer.Location
	}
	return time.Local
}

func cacheKey(sess *session.Session, userID string) string {
	return sess.Namespace() + "|" + userID
}

// Refresh fetches the user's records, persists the raw snapshot and caches
// the normalized list. Concurrent refreshes of one user share a single
// fetch. When the fetch fails and a stored snapshot exists, that snapshot is
// returned with Stale set.
func (s *TransactionService) Refresh(ctx context.Context, sess *session.Session) (Snapshot, error) {
	userID, err := sess.UserID(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	key := cacheKey(sess, userID)

	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.refresh(ctx, sess, userID, key)
	})
	if err != nil {
		return Snapshot{}, err
	}
	if shared {
		s.logger.DebugContext(ctx, "Refresh shared with a concurrent caller", log.FieldUserID, userID)
	}
	return v.(Snapshot), nil
}

func (s *TransactionService) refresh(ctx context.Context, sess *session.Session, userID, key string) (Snapshot, error) {
	raws, fetchErr := s.source.FetchRecords(ctx, userID)
	if fetchErr != nil {
		stored, at, err := sess.Records(ctx)
		if err != nil || at.IsZero() {
			return Snapshot{}, fmt.Errorf("fetch records: %w", fetchErr)
		}
		s.logger.WarnContext(ctx, "Fetch failed, serving stored snapshot",
			log.FieldUserID, userID,
			log.FieldError, fetchErr,
			"snapshot_at", at)

		snap, err := s.normalize(ctx, stored, at)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Stale = true
		return snap, nil
	}

	if err := sess.SaveRecords(ctx, raws); err != nil {
		// the fresh list is still usable, only the offline copy is behind
		s.logger.ErrorContext(ctx, "Failed to persist records snapshot", log.FieldUserID, userID, log.FieldError, err)
	}

	snap, err := s.normalize(ctx, raws, s.now())
	if err != nil {
		return Snapshot{}, err
	}
	s.cache.Set(key, snap)

	s.logger.InfoContext(ctx, "Records refreshed",
		log.FieldUserID, userID,
		log.FieldCount, len(snap.Transactions),
		log.FieldIssues, len(snap.Issues))
	return snap, nil
}

func (s *TransactionService) normalize(ctx context.Context, raws []records.Raw, at time.Time) (Snapshot, error) {
	batch, err := s.normalizer.NormalizeAll(raws)
	s.metrics.RecordNormalizeIssues(len(batch.Issues))
	for _, issue := range batch.Issues {
		s.logger.WarnContext(ctx, "Record could not be normalized",
			log.FieldRecordID, issue.RecordID,
			"field", issue.Field,
			log.FieldError, issue.Err)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("normalize records: %w", err)
	}
	return Snapshot{Transactions: batch.Transactions, Issues: batch.Issues, FetchedAt: at}, nil
}

// Load returns the cached list, else the stored snapshot, without touching
// the network. A user with no snapshot gets an empty list.
func (s *TransactionService) Load(ctx context.Context, sess *session.Session) (Snapshot, error) {
	userID, err := sess.UserID(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	key := cacheKey(sess, userID)

	if snap, ok := s.cache.Get(key); ok {
		s.metrics.RecordCacheLookup(true)
		return snap, nil
	}
	s.metrics.RecordCacheLookup(false)

	raws, at, err := sess.Records(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	outdated, err := sess.Outdated(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	snap, err := s.normalize(ctx, raws, at)
	if err != nil {
		return Snapshot{}, err
	}
	snap.Outdated = outdated
	if !at.IsZero() && !outdated {
		s.cache.Set(key, snap)
	}
	return snap, nil
}

// current loads the list and refreshes it when nothing was ever fetched or
// a save happened since the last fetch.
func (s *TransactionService) current(ctx context.Context, sess *session.Session) (Snapshot, error) {
	snap, err := s.Load(ctx, sess)
	if err != nil {
		return Snapshot{}, err
	}
	if !snap.FetchedAt.IsZero() && !snap.Outdated {
		return snap, nil
	}
	return s.Refresh(ctx, sess)
}

// invalidate drops the cached list and marks the stored snapshot outdated.
func (s *TransactionService) invalidate(ctx context.Context, sess *session.Session, userID string) {
	s.cache.Delete(cacheKey(sess, userID))
	if err := sess.MarkOutdated(ctx); err != nil {
		s.logger.WarnContext(ctx, "Failed to mark snapshot outdated", log.FieldUserID, userID, log.FieldError, err)
	}
}

// Dashboard summarizes every transaction and lists the most recent ones;
// recent <= 0 lists all of them.
func (s *TransactionService) Dashboard(ctx context.Context, sess *session.Session, recent int) (Dashboard, error) {
	snap, err := s.current(ctx, sess)
	if err != nil {
		return Dashboard{}, err
	}

	sorted := filter.ApplyAt(snap.Transactions, filter.Spec{}, s.now())
	if recent > 0 && len(sorted) > recent {
		sorted = sorted[:recent]
	}
	return Dashboard{
		Summary:   core.Aggregate(snap.Transactions),
		Expenses:  core.ByCategory(snap.Transactions, core.Expense),
		Income:    core.ByCategory(snap.Transactions, core.Income),
		Recent:    sorted,
		Count:     len(snap.Transactions),
		Issues:    len(snap.Issues),
		FetchedAt: snap.FetchedAt,
		Stale:     snap.Stale,
	}, nil
}

// History applies spec and summarizes what matched.
func (s *TransactionService) History(ctx context.Context, sess *session.Session, spec filter.Spec) (History, error) {
	snap, err := s.current(ctx, sess)
	if err != nil {
		return History{}, err
	}
	list := filter.ApplyAt(snap.Transactions, spec, s.now())
	return History{
		Transactions: list,
		Summary:      core.Aggregate(list),
		Total:        len(snap.Transactions),
		Stale:        snap.Stale,
	}, nil
}

// Validate checks add-form input and builds the transaction it describes.
func (s *TransactionService) Validate(in NewTransaction) (core.Transaction, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return core.Transaction{}, invalid("title", "title is required", core.ErrEmptyTitle)
	}
	cents, err := core.ParseDecimalToCents(in.Amount)
	if err != nil {
		return core.Transaction{}, invalid("amount", "enter a valid amount greater than zero", err)
	}
	typ, err := core.ParseType(in.Type)
	if err != nil {
		return core.Transaction{}, invalid("type", "type must be income or expense", err)
	}
	if strings.TrimSpace(in.Category) == "" {
		return core.Transaction{}, invalid("category", "category is required", core.ErrEmptyCategory)
	}

	date := in.Date
	if date.IsZero() {
		date = s.now()
	}
	return core.Transaction{
		Title:    title,
		Amount:   core.Money{Cents: cents},
		Type:     typ,
		Category: core.CanonicalCategory(in.Category),
		Date:     date,
		Note:     strings.TrimSpace(in.Note),
	}, nil
}

// Add validates and saves a transaction. When the data service is
// unreachable and an outbox is configured the save is queued instead and
// the result reports Queued.
func (s *TransactionService) Add(ctx context.Context, sess *session.Session, in NewTransaction) (AddResult, error) {
	userID, err := sess.UserID(ctx)
	if err != nil {
		return AddResult{}, err
	}
	tx, err := s.Validate(in)
	if err != nil {
		return AddResult{}, err
	}

	rec := remote.NewRecordFrom(userID, tx)
	remoteID, saveErr := s.source.SaveRecord(ctx, rec)
	if saveErr == nil {
		s.invalidate(ctx, sess, userID)
		tx.ID = remoteID
		return AddResult{Transaction: tx, RemoteID: remoteID}, nil
	}
	if s.outbox == nil || !remote.IsTemporary(saveErr) || errors.Is(saveErr, context.Canceled) {
		return AddResult{}, fmt.Errorf("save record: %w", saveErr)
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return AddResult{}, fmt.Errorf("encode pending save: %w", err)
	}
	ps, err := s.outbox.EnqueueSave(ctx, userID, payload)
	if err != nil {
		return AddResult{}, errors.Join(fmt.Errorf("save record: %w", saveErr), err)
	}

	if s.notifier != nil {
		if err := s.notifier.PublishPendingSave(ctx, ps.ID, userID); err != nil {
			// the worker's poll still finds it
			s.logger.WarnContext(ctx, "Failed to publish pending save", log.FieldPendingID, ps.ID, log.FieldError, err)
		}
	}
	s.invalidate(ctx, sess, userID)

	s.logger.WarnContext(ctx, "Data service unavailable, save queued",
		log.FieldUserID, userID,
		log.FieldPendingID, ps.ID,
		log.FieldError, saveErr)

	tx.ID = ps.ID
	return AddResult{Transaction: tx, Queued: true, PendingID: ps.ID}, nil
}
