// Package tracker owns the unlock-key lifecycle: a key is registered as
// pending when a user is sent to the ad network, and becomes completed
// exactly once when the network confirms it.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"adunlock/metrics"
	"adunlock/models"
	"adunlock/store"
	"adunlock/utils"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	opRegisterPending = "register_pending"
	opApplyCompletion = "apply_completion"
	opGetStatus       = "get_status"
	opGetStats        = "get_stats"
	opSnapshot        = "snapshot"
	opPurgePending    = "purge_pending"
)

// CompletionOutcome tells the caller whether the key had been unlocked before.
type CompletionOutcome struct {
	AlreadyCompleted bool `json:"alreadyCompleted"`
}

type Tracker struct {
	store   store.Store
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	newID   func() string

	// coalesces identical concurrent status reads (key-gate pages poll)
	statusReads singleflight.Group
}

type Option func(*Tracker)

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// New returns a Tracker over st. The caller owns st and closes it on shutdown.
func New(st store.Store, opts ...Option) *Tracker {
	t := &Tracker{
		store: st,
		log:   slog.Default(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RegisterPending records that userID was sent to unlock keyIndex of scriptID.
// A repeated request for the same key replaces the previous pending entry.
func (t *Tracker) RegisterPending(ctx context.Context, userID, scriptID string, keyIndex any, metadata map[string]string) (models.PendingRequest, error) {
	start := time.Now()
	defer t.metrics.ObserveOperation(opRegisterPending, start)

	key, err := ParseKey(userID, scriptID, keyIndex)
	if err != nil {
		return models.PendingRequest{}, err
	}

	req := models.PendingRequest{
		ID:           t.newID(),
		UserID:       key.UserID,
		ScriptID:     key.ScriptID,
		KeyIndex:     key.KeyIndex,
		RegisteredAt: t.now().UTC(),
		Metadata:     copyMetadata(metadata),
	}
	err = t.store.Update(ctx, func(st *models.State) error {
		st.Pending[key.String()] = req
		return nil
	})
	if err != nil {
		return models.PendingRequest{}, t.storageError(opRegisterPending, err)
	}

	t.metrics.IncrementPendingRegistered()
	t.log.Debug("pending unlock registered",
		"user_id", key.UserID, "script_id", key.ScriptID, "key_index", key.KeyIndex)
	return req, nil
}

// ApplyCompletion marks the key completed. Re-delivery of the same completion
// only refreshes the user's lastActive and reports AlreadyCompleted. A pending
// entry is not required.
func (t *Tracker) ApplyCompletion(ctx context.Context, userID, scriptID string, keyIndex any) (CompletionOutcome, error) {
	start := time.Now()
	defer t.metrics.ObserveOperation(opApplyCompletion, start)

	key, err := ParseKey(userID, scriptID, keyIndex)
	if err != nil {
		return CompletionOutcome{}, err
	}

	now := t.now().UTC()
	record := models.CompletionRecord{
		ID:          t.newID(),
		UserID:      key.UserID,
		ScriptID:    key.ScriptID,
		KeyIndex:    key.KeyIndex,
		CompletedAt: now,
	}

	var outcome CompletionOutcome
	err = t.store.Update(ctx, func(st *models.State) error {
		outcome = CompletionOutcome{}

		user := st.User(key.UserID)
		keys := user.Keys(key.ScriptID)
		user.LastActive = now
		if !keys.Add(key.KeyIndex) {
			outcome.AlreadyCompleted = true
			return nil
		}
		st.Completed[key.ScriptID] = append(st.Completed[key.ScriptID], record)
		delete(st.Pending, key.String())
		return nil
	})
	if err != nil {
		return CompletionOutcome{}, t.storageError(opApplyCompletion, err)
	}

	t.metrics.IncrementCompletion(outcome.AlreadyCompleted)
	if outcome.AlreadyCompleted {
		t.log.Debug("duplicate completion ignored",
			"user_id", key.UserID, "script_id", key.ScriptID, "key_index", key.KeyIndex)
	} else {
		t.log.Info("key unlocked",
			"user_id", key.UserID, "script_id", key.ScriptID, "key_index", key.KeyIndex)
	}
	return outcome, nil
}

// GetStatus returns the completed key indexes in ascending order. Unknown
// users or scripts yield an empty, non-nil slice.
func (t *Tracker) GetStatus(ctx context.Context, userID, scriptID string) ([]int, error) {
	start := time.Now()
	defer t.metrics.ObserveOperation(opGetStatus, start)

	userID = strings.TrimSpace(userID)
	scriptID = strings.TrimSpace(scriptID)
	if userID == "" {
		return nil, &ValidationError{Field: "userId", Reason: "is required"}
	}
	if scriptID == "" {
		return nil, &ValidationError{Field: "scriptId", Reason: "is required"}
	}

	// shared by every caller in the flight
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := t.statusReads.Do(userID+"\x00"+scriptID, func() (any, error) {
		var keys []int
		err := t.store.View(flightCtx, func(st *models.State) error {
			keys = st.CompletedKeys(userID, scriptID).Sorted()
			return nil
		})
		return keys, err
	})
	if err != nil {
		return nil, t.storageError(opGetStatus, err)
	}
	// callers sharing a flight must not share the slice
	shared := v.([]int)
	keys := make([]int, len(shared))
	copy(keys, shared)
	return keys, nil
}

// GetStats counts users, completion events and pending requests.
func (t *Tracker) GetStats(ctx context.Context) (models.Stats, error) {
	start := time.Now()
	defer t.metrics.ObserveOperation(opGetStats, start)

	var stats models.Stats
	err := t.store.View(ctx, func(st *models.State) error {
		stats = st.Stats()
		return nil
	})
	if err != nil {
		return models.Stats{}, t.storageError(opGetStats, err)
	}
	return stats, nil
}

// Snapshot returns a deep copy of the three state views.
func (t *Tracker) Snapshot(ctx context.Context) (*models.State, error) {
	start := time.Now()
	defer t.metrics.ObserveOperation(opSnapshot, start)

	var snap *models.State
	err := t.store.View(ctx, func(st *models.State) error {
		snap = st.Clone()
		return nil
	})
	if err != nil {
		return nil, t.storageError(opSnapshot, err)
	}
	return snap, nil
}

// PurgePending drops pending requests registered more than olderThan ago and
// returns how many were removed. Completed keys are never touched.
func (t *Tracker) PurgePending(ctx context.Context, olderThan time.Duration) (int, error) {
	start := time.Now()
	defer t.metrics.ObserveOperation(opPurgePending, start)

	if olderThan <= 0 {
		return 0, &ValidationError{Field: "olderThan", Reason: "must be a positive duration"}
	}
	cutoff := t.now().UTC().Add(-olderThan)

	var removed int
	err := t.store.Update(ctx, func(st *models.State) error {
		removed = 0
		for key, req := range st.Pending {
			if req.RegisteredAt.Before(cutoff) {
				delete(st.Pending, key)
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, t.storageError(opPurgePending, err)
	}

	t.metrics.AddPendingPurged(removed)
	t.log.Info("stale pending requests purged", "removed", removed, "cutoff", cutoff)
	return removed, nil
}

func (t *Tracker) storageError(op string, err error) error {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return err
	}
	t.metrics.IncrementStorageError(op)
	t.log.Error("storage operation failed", "op", op, "error", err)
	return &StorageError{Op: op, Err: err}
}

// Key identifies one unlock key of one user.
type Key struct {
	UserID   string
	ScriptID string
	KeyIndex int
}

// ParseKey trims and validates the triple and normalizes keyIndex, which may
// be any Go integer, an integral float or a decimal string.
func ParseKey(userID, scriptID string, keyIndex any) (Key, error) {
	userID = strings.TrimSpace(userID)
	scriptID = strings.TrimSpace(scriptID)
	if userID == "" {
		return Key{}, &ValidationError{Field: "userId", Reason: "is required"}
	}
	if scriptID == "" {
		return Key{}, &ValidationError{Field: "scriptId", Reason: "is required"}
	}
	// ':' separates the parts of the pending key
	if strings.Contains(userID, ":") {
		return Key{}, &ValidationError{Field: "userId", Reason: "must not contain ':'"}
	}
	if strings.Contains(scriptID, ":") {
		return Key{}, &ValidationError{Field: "scriptId", Reason: "must not contain ':'"}
	}
	k, err := utils.NormalizeKeyIndex(keyIndex)
	if err != nil {
		reason := "must be a non-negative integer"
		if errors.Is(err, utils.ErrKeyIndexMissing) {
			reason = "is required"
		}
		return Key{}, &ValidationError{Field: "keyIndex", Reason: reason, Err: err}
	}
	return Key{UserID: userID, ScriptID: scriptID, KeyIndex: k}, nil
}

func (k Key) String() string {
	return models.PendingKey(k.UserID, k.ScriptID, k.KeyIndex)
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
