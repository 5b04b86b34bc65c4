package background_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bastionauth/bastion/internal/background"
	"github.com/bastionauth/bastion/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockReclaimStore implements ReclaimStore over a map with the same
// conditional-reset semantics as the Postgres repository.
type MockReclaimStore struct {
	mu      sync.Mutex
	records map[string]*models.LoginLockout

	findErr    error
	failEmails map[string]bool
}

func NewMockReclaimStore() *MockReclaimStore {
	return &MockReclaimStore{
		records:    make(map[string]*models.LoginLockout),
		failEmails: make(map[string]bool),
	}
}

func (m *MockReclaimStore) AddLocked(email string, lockoutEnd time.Time) {
	end := lockoutEnd
	m.records[email] = &models.LoginLockout{
		Email:      email,
		Attempts:   5,
		IsLocked:   true,
		LockoutEnd: &end,
	}
}

func (m *MockReclaimStore) FindExpiredLockouts(ctx context.Context, now time.Time) ([]models.LoginLockout, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}

	var expired []models.LoginLockout
	for _, rec := range m.records {
		if rec.IsLocked && rec.LockoutEnd != nil && !rec.LockoutEnd.After(now) {
			expired = append(expired, *rec)
		}
	}
	return expired, nil
}

func (m *MockReclaimStore) ReclaimExpired(ctx context.Context, email string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failEmails[email] {
		return false, models.ErrStoreUnavailable
	}

	rec, ok := m.records[email]
	if !ok || !rec.IsLocked || rec.LockoutEnd == nil || rec.LockoutEnd.After(now) {
		return false, nil
	}

	rec.Attempts = 0
	rec.IsLocked = false
	rec.LockoutEnd = nil
	return true, nil
}

// MockReclaimMetrics counts reclaim metric emissions
type MockReclaimMetrics struct {
	mu        sync.Mutex
	reclaimed int
	failures  int
	runs      map[string]int
}

func NewMockReclaimMetrics() *MockReclaimMetrics {
	return &MockReclaimMetrics{runs: make(map[string]int)}
}

func (m *MockReclaimMetrics) AddReclaimedLockouts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reclaimed += n
}

func (m *MockReclaimMetrics) AddReclaimFailures(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures += n
}

func (m *MockReclaimMetrics) IncrementReclaimRuns(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[status]++
}

func (m *MockReclaimMetrics) Runs(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs[status]
}

// MockBlacklistPurger records purge invocations
type MockBlacklistPurger struct {
	mu    sync.Mutex
	calls int
}

func (m *MockBlacklistPurger) PurgeExpired(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return 3, nil
}

func newReclaimer(t *testing.T, store *MockReclaimStore, metrics *MockReclaimMetrics) *background.Reclaimer {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	reclaimer, err := background.NewReclaimer(store, metrics, logger, 5*time.Minute)
	require.NoError(t, err)
	return reclaimer
}

func TestNewReclaimer_RejectsNonPositiveInterval(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	_, err := background.NewReclaimer(NewMockReclaimStore(), NewMockReclaimMetrics(), logger, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	_, err = background.NewReclaimer(NewMockReclaimStore(), NewMockReclaimMetrics(), logger, -time.Minute)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestRunNow_ResetsOnlyExpiredLockouts(t *testing.T) {
	store := NewMockReclaimStore()
	store.AddLocked("expired@example.com", time.Now().Add(-time.Minute))
	store.AddLocked("active@example.com", time.Now().Add(10*time.Minute))
	metrics := NewMockReclaimMetrics()
	reclaimer := newReclaimer(t, store, metrics)

	result, err := reclaimer.RunNow(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Reclaimed)
	assert.Equal(t, 0, result.Failed)

	assert.False(t, store.records["expired@example.com"].IsLocked)
	assert.Equal(t, 0, store.records["expired@example.com"].Attempts)
	assert.Nil(t, store.records["expired@example.com"].LockoutEnd)

	assert.True(t, store.records["active@example.com"].IsLocked,
		"a lockout still inside its window must survive the pass")
}

func TestRunNow_EmptyBatchIsCleanRun(t *testing.T) {
	store := NewMockReclaimStore()
	metrics := NewMockReclaimMetrics()
	reclaimer := newReclaimer(t, store, metrics)

	result, err := reclaimer.RunNow(context.Background())

	require.NoError(t, err)
	assert.Equal(t, background.ReclaimResult{}, result)
	assert.Equal(t, 1, metrics.Runs("ok"))
}

func TestRunNow_PerRecordFailureDoesNotAbortBatch(t *testing.T) {
	store := NewMockReclaimStore()
	store.AddLocked("a@example.com", time.Now().Add(-time.Minute))
	store.AddLocked("b@example.com", time.Now().Add(-time.Minute))
	store.AddLocked("c@example.com", time.Now().Add(-time.Minute))
	store.failEmails["b@example.com"] = true
	metrics := NewMockReclaimMetrics()
	reclaimer := newReclaimer(t, store, metrics)

	result, err := reclaimer.RunNow(context.Background())

	require.NoError(t, err, "individual record failures are absorbed, not surfaced")
	assert.Equal(t, 2, result.Reclaimed)
	assert.Equal(t, 1, result.Failed)

	assert.False(t, store.records["a@example.com"].IsLocked)
	assert.True(t, store.records["b@example.com"].IsLocked, "the failed record stays locked until a later pass")
	assert.False(t, store.records["c@example.com"].IsLocked)
	assert.Equal(t, 2, metrics.reclaimed)
	assert.Equal(t, 1, metrics.failures)
}

func TestRunNow_QueryErrorAbortsRun(t *testing.T) {
	store := NewMockReclaimStore()
	store.findErr = errors.New("connection refused")
	metrics := NewMockReclaimMetrics()
	reclaimer := newReclaimer(t, store, metrics)

	_, err := reclaimer.RunNow(context.Background())

	require.Error(t, err)
	assert.Equal(t, 1, metrics.Runs("error"))
	assert.Equal(t, 0, metrics.Runs("ok"))
}

func TestRunNow_RecoveredRecordReclaimedOnLaterPass(t *testing.T) {
	store := NewMockReclaimStore()
	store.AddLocked("flaky@example.com", time.Now().Add(-time.Minute))
	store.failEmails["flaky@example.com"] = true
	metrics := NewMockReclaimMetrics()
	reclaimer := newReclaimer(t, store, metrics)
	ctx := context.Background()

	result, err := reclaimer.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)

	store.mu.Lock()
	store.failEmails["flaky@example.com"] = false
	store.mu.Unlock()

	result, err = reclaimer.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reclaimed)
	assert.False(t, store.records["flaky@example.com"].IsLocked)
}

func TestRunNow_InvokesBlacklistPurger(t *testing.T) {
	store := NewMockReclaimStore()
	metrics := NewMockReclaimMetrics()
	reclaimer := newReclaimer(t, store, metrics)
	purger := &MockBlacklistPurger{}
	reclaimer.SetBlacklistPurger(purger)

	_, err := reclaimer.RunNow(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, purger.calls)
}

func TestRunNow_ConcurrentCallsSerialize(t *testing.T) {
	store := NewMockReclaimStore()
	for i := 0; i < 10; i++ {
		store.AddLocked(string(rune('a'+i))+"@example.com", time.Now().Add(-time.Minute))
	}
	metrics := NewMockReclaimMetrics()
	reclaimer := newReclaimer(t, store, metrics)
	ctx := context.Background()

	var wg sync.WaitGroup
	totals := make([]background.ReclaimResult, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := reclaimer.RunNow(ctx)
			assert.NoError(t, err)
			totals[i] = result
		}(i)
	}
	wg.Wait()

	// Runs are serialized, so each lockout is reclaimed exactly once across
	// all concurrent triggers
	sum := 0
	for _, r := range totals {
		sum += r.Reclaimed
	}
	assert.Equal(t, 10, sum)
}

func TestStartAndStop(t *testing.T) {
	store := NewMockReclaimStore()
	store.AddLocked("expired@example.com", time.Now().Add(-time.Minute))
	metrics := NewMockReclaimMetrics()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	reclaimer, err := background.NewReclaimer(store, metrics, logger, time.Hour)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		reclaimer.Start(context.Background())
		close(done)
	}()

	// The loop runs once immediately on startup
	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return !store.records["expired@example.com"].IsLocked
	}, 2*time.Second, 10*time.Millisecond)

	reclaimer.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reclaimer did not stop")
	}
}
