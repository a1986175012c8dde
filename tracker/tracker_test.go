package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"adunlock/logger"
	"adunlock/metrics"
	"adunlock/models"
	"adunlock/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type TrackerSuite struct {
	suite.Suite
	open    func(t *testing.T) store.Store
	store   store.Store
	tracker *Tracker
	metrics *metrics.Metrics
	now     time.Time
}

func (s *TrackerSuite) SetupTest() {
	s.store = s.open(s.T())
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.tracker = New(s.store,
		WithLogger(logger.Discard()),
		WithMetrics(s.metrics),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *TrackerSuite) TearDownTest() {
	_ = s.store.Close()
}

func (s *TrackerSuite) snapshot() *models.State {
	snap, err := s.tracker.Snapshot(context.Background())
	s.Require().NoError(err)
	return snap
}

func (s *TrackerSuite) TestCompletionIsIdempotent() {
	ctx := context.Background()

	first, err := s.tracker.ApplyCompletion(ctx, "u1", "s1", 3)
	s.Require().NoError(err)
	s.False(first.AlreadyCompleted)

	s.now = s.now.Add(time.Minute)
	second, err := s.tracker.ApplyCompletion(ctx, "u1", "s1", 3)
	s.Require().NoError(err)
	s.True(second.AlreadyCompleted)

	keys, err := s.tracker.GetStatus(ctx, "u1", "s1")
	s.Require().NoError(err)
	s.Equal([]int{3}, keys)

	snap := s.snapshot()
	s.Len(snap.Completed["s1"], 1)
	s.Equal(s.now, snap.Users["u1"].LastActive, "duplicate refreshes lastActive")

	s.Equal(1.0, testutil.ToFloat64(s.metrics.Completions.WithLabelValues(metrics.OutcomeNew)))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Completions.WithLabelValues(metrics.OutcomeDuplicate)))
}

func (s *TrackerSuite) TestCompletionRemovesPending() {
	ctx := context.Background()

	_, err := s.tracker.RegisterPending(ctx, "u1", "s1", 0, map[string]string{"adUrl": "https://ads.example/x"})
	s.Require().NoError(err)
	s.Contains(s.snapshot().Pending, "u1:s1:0")

	_, err = s.tracker.ApplyCompletion(ctx, "u1", "s1", 0)
	s.Require().NoError(err)
	s.NotContains(s.snapshot().Pending, "u1:s1:0")
}

func (s *TrackerSuite) TestCompletionWithoutPending() {
	ctx := context.Background()

	out, err := s.tracker.ApplyCompletion(ctx, "u2", "s9", 7)
	s.Require().NoError(err)
	s.False(out.AlreadyCompleted)

	keys, err := s.tracker.GetStatus(ctx, "u2", "s9")
	s.Require().NoError(err)
	s.Equal([]int{7}, keys)
	s.Empty(s.snapshot().Pending)
}

func (s *TrackerSuite) TestKeyIndexNormalization() {
	ctx := context.Background()

	_, err := s.tracker.ApplyCompletion(ctx, "u1", "s1", "2")
	s.Require().NoError(err)
	out, err := s.tracker.ApplyCompletion(ctx, "u1", "s1", 2)
	s.Require().NoError(err)
	s.True(out.AlreadyCompleted)

	keys, err := s.tracker.GetStatus(ctx, "u1", "s1")
	s.Require().NoError(err)
	s.Equal([]int{2}, keys)
	s.Len(s.snapshot().Completed["s1"], 1)
}

func (s *TrackerSuite) TestPendingKeyUsesNormalizedIndex() {
	ctx := context.Background()

	_, err := s.tracker.RegisterPending(ctx, "u1", "s1", "4", nil)
	s.Require().NoError(err)
	_, err = s.tracker.ApplyCompletion(ctx, "u1", "s1", 4.0)
	s.Require().NoError(err)
	s.Empty(s.snapshot().Pending)
}

func (s *TrackerSuite) TestIsolation() {
	ctx := context.Background()

	_, err := s.tracker.ApplyCompletion(ctx, "u1", "s1", 1)
	s.Require().NoError(err)

	for _, pair := range [][2]string{{"u2", "s1"}, {"u1", "s2"}} {
		keys, err := s.tracker.GetStatus(ctx, pair[0], pair[1])
		s.Require().NoError(err)
		s.Empty(keys, pair)
	}
}

func (s *TrackerSuite) TestStats() {
	ctx := context.Background()

	_, err := s.tracker.ApplyCompletion(ctx, "u1", "s1", 0)
	s.Require().NoError(err)
	_, err = s.tracker.ApplyCompletion(ctx, "u1", "s1", 1)
	s.Require().NoError(err)
	_, err = s.tracker.ApplyCompletion(ctx, "u2", "s1", 0)
	s.Require().NoError(err)
	_, err = s.tracker.RegisterPending(ctx, "u3", "s1", 5, nil)
	s.Require().NoError(err)

	stats, err := s.tracker.GetStats(ctx)
	s.Require().NoError(err)
	s.Equal(models.Stats{TotalUsers: 2, TotalCompletions: 3, PendingCount: 1}, stats)
}

func (s *TrackerSuite) TestAliceScenario() {
	ctx := context.Background()

	_, err := s.tracker.RegisterPending(ctx, "alice", "scriptA", 0, nil)
	s.Require().NoError(err)
	stats, err := s.tracker.GetStats(ctx)
	s.Require().NoError(err)
	s.Equal(1, stats.PendingCount)

	_, err = s.tracker.ApplyCompletion(ctx, "alice", "scriptA", 0)
	s.Require().NoError(err)
	_, err = s.tracker.RegisterPending(ctx, "alice", "scriptA", 1, nil)
	s.Require().NoError(err)
	_, err = s.tracker.ApplyCompletion(ctx, "alice", "scriptA", 1)
	s.Require().NoError(err)
	out, err := s.tracker.ApplyCompletion(ctx, "alice", "scriptA", 1)
	s.Require().NoError(err)
	s.True(out.AlreadyCompleted)

	keys, err := s.tracker.GetStatus(ctx, "alice", "scriptA")
	s.Require().NoError(err)
	s.Equal([]int{0, 1}, keys)

	stats, err = s.tracker.GetStats(ctx)
	s.Require().NoError(err)
	s.Equal(models.Stats{TotalUsers: 1, TotalCompletions: 2, PendingCount: 0}, stats)
}

func (s *TrackerSuite) TestUnknownLookupIsEmpty() {
	keys, err := s.tracker.GetStatus(context.Background(), "ghost", "nothing")
	s.Require().NoError(err)
	s.NotNil(keys)
	s.Empty(keys)

	stats, err := s.tracker.GetStats(context.Background())
	s.Require().NoError(err)
	s.Equal(models.Stats{}, stats)
}

func (s *TrackerSuite) TestRegisterPendingDoesNotCreateUser() {
	ctx := context.Background()

	req, err := s.tracker.RegisterPending(ctx, " u1 ", "s1", 0, map[string]string{"ip": "10.0.0.1"})
	s.Require().NoError(err)
	s.Equal("u1", req.UserID)
	s.NotEmpty(req.ID)
	s.Equal(s.now, req.RegisteredAt)

	snap := s.snapshot()
	s.Empty(snap.Users)
	s.Empty(snap.Completed)
	s.Equal("10.0.0.1", snap.Pending["u1:s1:0"].Metadata["ip"])
}

func (s *TrackerSuite) TestRegisterPendingReplacesPrevious() {
	ctx := context.Background()

	first, err := s.tracker.RegisterPending(ctx, "u1", "s1", 0, map[string]string{"try": "1"})
	s.Require().NoError(err)
	s.now = s.now.Add(time.Second)
	second, err := s.tracker.RegisterPending(ctx, "u1", "s1", 0, map[string]string{"try": "2"})
	s.Require().NoError(err)
	s.NotEqual(first.ID, second.ID)

	snap := s.snapshot()
	s.Len(snap.Pending, 1)
	s.Equal("2", snap.Pending["u1:s1:0"].Metadata["try"])
}

func (s *TrackerSuite) TestValidationRejectsWithoutMutation() {
	ctx := context.Background()

	cases := []struct {
		user, script string
		key          any
		field        string
	}{
		{"", "s1", 0, "userId"},
		{"u1", "  ", 0, "scriptId"},
		{"u1", "s1", nil, "keyIndex"},
		{"u1", "s1", -1, "keyIndex"},
		{"u1", "s1", "abc", "keyIndex"},
		{"u1", "s1", 1.5, "keyIndex"},
	}
	for _, tc := range cases {
		_, err := s.tracker.ApplyCompletion(ctx, tc.user, tc.script, tc.key)
		var ve *ValidationError
		s.Require().True(errors.As(err, &ve), "%v", tc)
		s.Equal(tc.field, ve.Field)

		_, err = s.tracker.RegisterPending(ctx, tc.user, tc.script, tc.key, nil)
		s.True(IsValidation(err))
	}

	snap := s.snapshot()
	s.Empty(snap.Pending)
	s.Empty(snap.Completed)
	s.Empty(snap.Users)
}

func (s *TrackerSuite) TestIdsWithSeparatorRejected() {
	ctx := context.Background()

	_, err := s.tracker.RegisterPending(ctx, "a", "c", 0, nil)
	s.Require().NoError(err)

	_, err = s.tracker.RegisterPending(ctx, "a:b", "c", 0, nil)
	var ve *ValidationError
	s.Require().True(errors.As(err, &ve))
	s.Equal("userId", ve.Field)
	s.Equal("must not contain ':'", ve.Reason)

	_, err = s.tracker.ApplyCompletion(ctx, "a", "b:c", 0)
	s.Require().True(errors.As(err, &ve))
	s.Equal("scriptId", ve.Field)

	snap := s.snapshot()
	s.Len(snap.Pending, 1)
	s.Contains(snap.Pending, "a:c:0")
	s.Empty(snap.Completed)
}

func (s *TrackerSuite) TestGetStatusIgnoresCallerCancellation() {
	_, err := s.tracker.ApplyCompletion(context.Background(), "u1", "s1", 2)
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	keys, err := s.tracker.GetStatus(ctx, "u1", "s1")
	s.Require().NoError(err)
	s.Equal([]int{2}, keys)
}

func (s *TrackerSuite) TestGetStatusValidation() {
	_, err := s.tracker.GetStatus(context.Background(), "", "s1")
	s.True(IsValidation(err))
	_, err = s.tracker.GetStatus(context.Background(), "u1", "")
	s.True(IsValidation(err))
}

func (s *TrackerSuite) TestPurgePending() {
	ctx := context.Background()

	_, err := s.tracker.RegisterPending(ctx, "u1", "s1", 0, nil)
	s.Require().NoError(err)
	s.now = s.now.Add(48 * time.Hour)
	_, err = s.tracker.RegisterPending(ctx, "u1", "s1", 1, nil)
	s.Require().NoError(err)
	_, err = s.tracker.ApplyCompletion(ctx, "u2", "s1", 0)
	s.Require().NoError(err)

	removed, err := s.tracker.PurgePending(ctx, 24*time.Hour)
	s.Require().NoError(err)
	s.Equal(1, removed)

	snap := s.snapshot()
	s.Contains(snap.Pending, "u1:s1:1")
	s.NotContains(snap.Pending, "u1:s1:0")
	s.Len(snap.Completed["s1"], 1)

	_, err = s.tracker.PurgePending(ctx, 0)
	s.True(IsValidation(err))
}

func (s *TrackerSuite) TestSnapshotIsDetached() {
	ctx := context.Background()
	_, err := s.tracker.ApplyCompletion(ctx, "u1", "s1", 0)
	s.Require().NoError(err)

	snap := s.snapshot()
	snap.Users["u1"].Keys("s1").Add(99)
	delete(snap.Completed, "s1")

	keys, err := s.tracker.GetStatus(ctx, "u1", "s1")
	s.Require().NoError(err)
	s.Equal([]int{0}, keys)
	s.Len(s.snapshot().Completed["s1"], 1)
}

func (s *TrackerSuite) TestConcurrentCompletions() {
	ctx := context.Background()

	const keys = 30
	var wg sync.WaitGroup
	for i := 0; i < keys; i++ {
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(k int) {
				defer wg.Done()
				_, err := s.tracker.ApplyCompletion(ctx, "u1", "s1", k)
				s.NoError(err)
			}(i)
		}
	}
	wg.Wait()

	got, err := s.tracker.GetStatus(ctx, "u1", "s1")
	s.Require().NoError(err)
	s.Len(got, keys)
	s.Len(s.snapshot().Completed["s1"], keys, "each key is logged once")
}

func TestTrackerMemoryStore(t *testing.T) {
	suite.Run(t, &TrackerSuite{open: func(*testing.T) store.Store {
		return store.NewMemoryStore()
	}})
}

func TestTrackerFileStore(t *testing.T) {
	suite.Run(t, &TrackerSuite{open: func(t *testing.T) store.Store {
		st, err := store.OpenFileStore(filepath.Join(t.TempDir(), "state.json"))
		require.NoError(t, err)
		return st
	}})
}

func TestTrackerSQLiteStore(t *testing.T) {
	suite.Run(t, &TrackerSuite{open: func(t *testing.T) store.Store {
		st, err := store.OpenGormStore("sqlite://" + filepath.Join(t.TempDir(), "state.db"))
		require.NoError(t, err)
		return st
	}})
}

// failingStore runs fn on a scratch copy and then reports a write failure.
type failingStore struct {
	store.Store
	err error
}

func (f failingStore) Update(ctx context.Context, fn func(*models.State) error) error {
	scratch := models.NewState()
	if err := fn(scratch); err != nil {
		return err
	}
	return f.err
}

func TestStorageFailureIsWrappedAndAtomic(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	diskFull := errors.New("disk full")
	m := metrics.New(prometheus.NewRegistry())
	trk := New(failingStore{Store: mem, err: diskFull}, WithLogger(logger.Discard()), WithMetrics(m))

	_, err := trk.ApplyCompletion(ctx, "u1", "s1", 0)
	require.Error(t, err)

	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, opApplyCompletion, se.Op)
	assert.ErrorIs(t, err, diskFull)
	assert.False(t, IsValidation(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageErrors.WithLabelValues(opApplyCompletion)))

	keys, err := trk.GetStatus(ctx, "u1", "s1")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey(" alice ", "scriptA", "3")
	require.NoError(t, err)
	assert.Equal(t, Key{UserID: "alice", ScriptID: "scriptA", KeyIndex: 3}, key)
	assert.Equal(t, "alice:scriptA:3", key.String())

	_, err = ParseKey("alice", "scriptA", nil)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "is required", ve.Reason)
	assert.Equal(t, "invalid keyIndex: is required", ve.Error())
}
