package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/filter"
	"fintrack/internal/records"
	"fintrack/internal/remote"
	"fintrack/internal/session"
	"fintrack/internal/storage"
)

var now = time.Date(2025, 9, 10, 15, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu       sync.Mutex
	raws     []records.Raw
	fetchErr error
	saveErr  error
	saved    []remote.NewRecord
	fetches  atomic.Int32
	gate     chan struct{}
}

func (f *fakeSource) FetchRecords(_ context.Context, userID string) ([]records.Raw, error) {
	f.fetches.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.raws, nil
}

func (f *fakeSource) SaveRecord(_ context.Context, rec remote.NewRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.saved = append(f.saved, rec)
	return fmt.Sprintf("srv-%d", len(f.saved)), nil
}

type fakeOutbox struct {
	payloads [][]byte
	err      error
}

func (f *fakeOutbox) EnqueueSave(_ context.Context, userID string, payload []byte) (storage.PendingSave, error) {
	if f.err != nil {
		return storage.PendingSave{}, f.err
	}
	f.payloads = append(f.payloads, payload)
	return storage.PendingSave{ID: fmt.Sprintf("p-%d", len(f.payloads)), UserID: userID, Status: storage.StatusPending}, nil
}

type fakeNotifier struct {
	ids []string
	err error
}

func (f *fakeNotifier) PublishPendingSave(_ context.Context, id, _ string) error {
	f.ids = append(f.ids, id)
	return f.err
}

func sampleRaws() []records.Raw {
	return []records.Raw{
		{ID: "1", Title: "Salary", Amount: "3000", Type: records.Descriptor{Value: "income"}, Category: records.Descriptor{Value: "salary"}, CreatedAt: "2025-09-01 09:00:00"},
		{ID: "2", Title: "Lunch", Amount: "45.50", Type: records.Descriptor{Value: "expense"}, Category: records.Descriptor{Value: "food"}, CreatedAt: "2025-09-09 12:30:00"},
		{ID: "3", Title: "Bus pass", Amount: "30", Type: records.Descriptor{Label: "Expense"}, Category: records.Descriptor{Value: "transportation"}, CreatedAt: "2025-09-10 08:00:00"},
		{ID: "4", Title: "Groceries", Amount: "82.25", Type: records.Descriptor{Value: "expense"}, Category: records.Descriptor{Value: "food"}, CreatedAt: "Aug 28, 2025 6:15:00 PM"},
	}
}

func newService(src *fakeSource, policy records.Policy) *TransactionService {
	return NewTransactionService(src, TransactionConfig{
		Normalizer: records.Normalizer{Location: time.UTC, Now: func() time.Time { return now }, Policy: policy},
	})
}

func signedIn(t *testing.T, store session.Store, userID string) *session.Session {
	t.Helper()
	sess := session.New(store)
	require.NoError(t, sess.SetUserID(context.Background(), userID))
	return sess
}

func TestRefresh_PersistsAndCaches(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{raws: sampleRaws()}
	svc := newService(src, records.FallbackNow)
	sess := signedIn(t, session.NewMemoryStore(), "42")

	snap, err := svc.Refresh(ctx, sess)
	require.NoError(t, err)
	assert.Len(t, snap.Transactions, 4)
	assert.Empty(t, snap.Issues)
	assert.False(t, snap.Stale)
	assert.Equal(t, now, snap.FetchedAt)

	stored, _, err := sess.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleRaws(), stored)

	// served from cache, no second fetch
	loaded, err := svc.Load(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, snap.Transactions, loaded.Transactions)
	assert.Equal(t, int32(1), src.fetches.Load())
}

func TestRefresh_FallsBackToSnapshot(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{raws: sampleRaws()}
	svc := newService(src, records.FallbackNow)
	sess := signedIn(t, session.NewMemoryStore(), "42")

	_, err := svc.Refresh(ctx, sess)
	require.NoError(t, err)

	src.fetchErr = remote.ErrUnavailable
	snap, err := svc.Refresh(ctx, sess)
	require.NoError(t, err)
	assert.True(t, snap.Stale)
	assert.Len(t, snap.Transactions, 4)
}

func TestRefresh_NoSnapshotReturnsError(t *testing.T) {
	src := &fakeSource{fetchErr: remote.ErrUnavailable}
	svc := newService(src, records.FallbackNow)
	sess := signedIn(t, session.NewMemoryStore(), "42")

	_, err := svc.Refresh(context.Background(), sess)
	assert.ErrorIs(t, err, remote.ErrUnavailable)
}

func TestRefresh_NotSignedIn(t *testing.T) {
	svc := newService(&fakeSource{}, records.FallbackNow)
	_, err := svc.Refresh(context.Background(), session.New(session.NewMemoryStore()))
	assert.ErrorIs(t, err, session.ErrNotSignedIn)
}

func TestRefresh_ConcurrentCallsShareOneFetch(t *testing.T) {
	src := &fakeSource{raws: sampleRaws(), gate: make(chan struct{})}
	svc := newService(src, records.FallbackNow)
	sess := signedIn(t, session.NewMemoryStore(), "42")

	var wg sync.WaitGroup
	results := make([]int, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := svc.Refresh(context.Background(), sess)
			if err == nil {
				results[i] = len(snap.Transactions)
			}
		}(i)
	}

	require.Eventually(t, func() bool { return src.fetches.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	assert.Equal(t, int32(1), src.fetches.Load())
	assert.Equal(t, []int{4, 4, 4, 4, 4}, results)
}

func TestRefresh_PolicyIsApplied(t *testing.T) {
	raws := append(sampleRaws(),
		records.Raw{ID: "5", Title: "Odd date", Amount: "5", Type: records.Descriptor{Value: "expense"}, CreatedAt: "yesterday"},
		records.Raw{ID: "6", Title: "No type", Amount: "5", CreatedAt: "2025-09-01"},
	)

	snap, err := newService(&fakeSource{raws: raws}, records.FallbackNow).Refresh(context.Background(), signedIn(t, session.NewMemoryStore(), "1"))
	require.NoError(t, err)
	assert.Len(t, snap.Transactions, 5)
	assert.Len(t, snap.Issues, 2)

	snap, err = newService(&fakeSource{raws: raws}, records.Drop).Refresh(context.Background(), signedIn(t, session.NewMemoryStore(), "1"))
	require.NoError(t, err)
	assert.Len(t, snap.Transactions, 4)

	_, err = newService(&fakeSource{raws: raws}, records.Reject).Refresh(context.Background(), signedIn(t, session.NewMemoryStore(), "1"))
	assert.ErrorIs(t, err, records.ErrParseFailure)
}

func TestLoad_WithoutSnapshot(t *testing.T) {
	svc := newService(&fakeSource{}, records.FallbackNow)
	snap, err := svc.Load(context.Background(), signedIn(t, session.NewMemoryStore(), "42"))
	require.NoError(t, err)
	assert.Empty(t, snap.Transactions)
	assert.True(t, snap.FetchedAt.IsZero())
}

func TestLoad_FromStoredSnapshot(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	sess := signedIn(t, store, "42")
	require.NoError(t, sess.SaveRecords(ctx, sampleRaws()))

	src := &fakeSource{}
	snap, err := newService(src, records.FallbackNow).Load(ctx, sess)
	require.NoError(t, err)
	assert.Len(t, snap.Transactions, 4)
	assert.Zero(t, src.fetches.Load())
}

func TestDashboard(t *testing.T) {
	src := &fakeSource{raws: sampleRaws()}
	svc := newService(src, records.FallbackNow)
	sess := signedIn(t, session.NewMemoryStore(), "42")

	d, err := svc.Dashboard(context.Background(), sess, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.fetches.Load(), "first dashboard fetches")

	assert.Equal(t, int64(300000), d.Summary.Income.Cents)
	assert.Equal(t, int64(15775), d.Summary.Expense.Cents)
	assert.Equal(t, int64(284225), d.Summary.Balance.Cents)
	assert.Equal(t, 4, d.Count)

	require.Len(t, d.Recent, 2)
	assert.Equal(t, "3", d.Recent[0].ID)
	assert.Equal(t, "2", d.Recent[1].ID)

	require.Len(t, d.Expenses, 2)
	assert.Equal(t, core.Food, d.Expenses[0].Name)
	assert.Equal(t, int64(12775), d.Expenses[0].Amount.Cents)
	assert.Equal(t, core.Transport, d.Expenses[1].Name)
	require.Len(t, d.Income, 1)
	assert.Equal(t, core.Salary, d.Income[0].Name)

	all, err := svc.Dashboard(context.Background(), sess, 0)
	require.NoError(t, err)
	assert.Len(t, all.Recent, 4)
	assert.Equal(t, int32(1), src.fetches.Load())
}

func TestHistory(t *testing.T) {
	svc := newService(&fakeSource{raws: sampleRaws()}, records.FallbackNow)
	sess := signedIn(t, session.NewMemoryStore(), "42")

	h, err := svc.History(context.Background(), sess, filter.Spec{Type: core.Expense, Bucket: filter.ThisWeek})
	require.NoError(t, err)
	require.Len(t, h.Transactions, 2)
	assert.Equal(t, "3", h.Transactions[0].ID)
	assert.Equal(t, "2", h.Transactions[1].ID)
	assert.Equal(t, int64(7550), h.Summary.Expense.Cents)
	assert.Zero(t, h.Summary.Income.Cents)
	assert.Equal(t, 4, h.Total)

	h, err = svc.History(context.Background(), sess, filter.Spec{Query: "GROC"})
	require.NoError(t, err)
	require.Len(t, h.Transactions, 1)
	assert.Equal(t, "4", h.Transactions[0].ID)
}

func TestAdd_Saves(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{raws: sampleRaws()}
	svc := newService(src, records.FallbackNow)
	sess := signedIn(t, session.NewMemoryStore(), "42")
	_, err := svc.Refresh(ctx, sess)
	require.NoError(t, err)
	require.Equal(t, 1, svc.Cache().Size())

	res, err := svc.Add(ctx, sess, NewTransaction{Title: " Taxi ", Amount: "12,5", Type: "Expense", Category: "Transport", Note: "airport"})
	require.NoError(t, err)
	assert.False(t, res.Queued)
	assert.Equal(t, "srv-1", res.RemoteID)
	assert.Equal(t, "Taxi", res.Transaction.Title)
	assert.Equal(t, int64(1250), res.Transaction.Amount.Cents)
	assert.Equal(t, now, res.Transaction.Date)

	require.Len(t, src.saved, 1)
	assert.Equal(t, "42", src.saved[0].UserID)
	assert.Equal(t, "transportation", src.saved[0].Category)
	assert.Equal(t, "expense", src.saved[0].Type)
	assert.Equal(t, "12.50", src.saved[0].Amount.String())

	assert.Zero(t, svc.Cache().Size(), "add invalidates the cached list")
}

func TestAdd_NextReadFetchesAgain(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{raws: sampleRaws()}
	svc := newService(src, records.FallbackNow)
	sess := signedIn(t, session.NewMemoryStore(), "42")

	d, err := svc.Dashboard(ctx, sess, 0)
	require.NoError(t, err)
	require.Equal(t, 4, d.Count)

	_, err = svc.Add(ctx, sess, NewTransaction{Title: "Taxi", Amount: "12.50", Type: "expense", Category: "transportation"})
	require.NoError(t, err)
	src.mu.Lock()
	src.raws = append(sampleRaws(), records.Raw{ID: "srv-1", Title: "Taxi", Amount: "12.50",
		Type: records.Descriptor{Value: "expense"}, Category: records.Descriptor{Value: "transportation"}, CreatedAt: "2025-09-10 14:00:00"})
	src.mu.Unlock()

	outdated, err := sess.Outdated(ctx)
	require.NoError(t, err)
	assert.True(t, outdated)

	d, err = svc.Dashboard(ctx, sess, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, d.Count)
	assert.Equal(t, "srv-1", d.Recent[0].ID)
	assert.Equal(t, int32(2), src.fetches.Load())

	// fetched again, so the next read is served from the cache
	_, err = svc.History(ctx, sess, filter.Spec{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.fetches.Load())
	outdated, err = sess.Outdated(ctx)
	require.NoError(t, err)
	assert.False(t, outdated)
}

func TestAdd_Validation(t *testing.T) {
	valid := NewTransaction{Title: "Tea", Amount: "3", Type: "expense", Category: "Food"}
	tests := []struct {
		name   string
		mutate func(*NewTransaction)
		field  string
		is     error
	}{
		{"empty title", func(n *NewTransaction) { n.Title = "  " }, "title", core.ErrEmptyTitle},
		{"zero amount", func(n *NewTransaction) { n.Amount = "0" }, "amount", core.ErrInvalidAmount},
		{"negative amount", func(n *NewTransaction) { n.Amount = "-3" }, "amount", core.ErrInvalidAmount},
		{"text amount", func(n *NewTransaction) { n.Amount = "abc" }, "amount", core.ErrInvalidAmount},
		{"bad type", func(n *NewTransaction) { n.Type = "transfer" }, "type", core.ErrInvalidType},
		{"no category", func(n *NewTransaction) { n.Category = "" }, "category", core.ErrEmptyCategory},
	}

	src := &fakeSource{}
	svc := newService(src, records.FallbackNow)
	sess := signedIn(t, session.NewMemoryStore(), "42")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := svc.Add(context.Background(), sess, in)
			require.ErrorIs(t, err, ErrValidation)
			assert.ErrorIs(t, err, tt.is)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
	assert.Empty(t, src.saved)
}

func TestAdd_QueuesWhenServiceUnavailable(t *testing.T) {
	src := &fakeSource{saveErr: fmt.Errorf("save_record: %w", remote.ErrUnavailable)}
	outbox := &fakeOutbox{}
	notifier := &fakeNotifier{err: errors.New("broker down")}
	svc := NewTransactionService(src, TransactionConfig{
		Normalizer: records.Normalizer{Location: time.UTC, Now: func() time.Time { return now }},
		Outbox:     outbox,
		Notifier:   notifier,
	})
	sess := signedIn(t, session.NewMemoryStore(), "42")

	res, err := svc.Add(context.Background(), sess, NewTransaction{Title: "Rent", Amount: "900", Type: "expense", Category: "Bills"})
	require.NoError(t, err, "a failed publish does not fail the add")
	assert.True(t, res.Queued)
	assert.Equal(t, "p-1", res.PendingID)
	assert.Equal(t, "p-1", res.Transaction.ID)
	require.Len(t, outbox.payloads, 1)
	assert.Contains(t, string(outbox.payloads[0]), `"title":"Rent"`)
	assert.Equal(t, []string{"p-1"}, notifier.ids)
}

func TestAdd_PermanentErrorsAreNotQueued(t *testing.T) {
	outbox := &fakeOutbox{}
	src := &fakeSource{saveErr: &remote.APIError{Op: remote.OpSaveRecord, StatusCode: 400, Message: "bad"}}
	svc := NewTransactionService(src, TransactionConfig{Outbox: outbox})
	sess := signedIn(t, session.NewMemoryStore(), "42")

	_, err := svc.Add(context.Background(), sess, NewTransaction{Title: "Rent", Amount: "900", Type: "expense", Category: "Bills"})
	var apiErr *remote.APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Empty(t, outbox.payloads)
}

func TestAdd_WithoutOutboxReturnsError(t *testing.T) {
	src := &fakeSource{saveErr: remote.ErrUnavailable}
	svc := newService(src, records.FallbackNow)
	sess := signedIn(t, session.NewMemoryStore(), "42")

	_, err := svc.Add(context.Background(), sess, NewTransaction{Title: "Rent", Amount: "900", Type: "expense", Category: "Bills"})
	assert.ErrorIs(t, err, remote.ErrUnavailable)
}
