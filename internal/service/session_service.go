package service

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/metrics"
	"github.com/alpaca-lotto/internal/models"
	"github.com/alpaca-lotto/internal/storage"
	"github.com/alpaca-lotto/internal/types"
)

// sessionStripes is the number of per-owner mutex stripes. Operations on the
// same owner serialize; different owners proceed independently.
const sessionStripes = 64

// SessionKeyStore interface for session key persistence
type SessionKeyStore interface {
	Create(ctx context.Context, key *models.SessionKey) error
	GetByID(ctx context.Context, id string) (*models.SessionKey, error)
	ListByOwner(ctx context.Context, owner string) ([]*models.SessionKey, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	ListExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*models.SessionKey, error)
	CountActive(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionService manages the session key lifecycle. The server clock is
// authoritative for expiry; state is derived from the stored record plus the
// current time, never stored.
type SessionService struct {
	store         SessionKeyStore
	warningWindow time.Duration
	maxDuration   time.Duration
	retainExpired time.Duration
	now           func() time.Time
	stripes       [sessionStripes]sync.Mutex
	logger        *logging.Logger
}

// SessionServiceConfig holds configuration for the session service
type SessionServiceConfig struct {
	// Store is the session key repository. Required.
	Store SessionKeyStore

	// WarningWindow is how close to expiry a key reports expiring_soon.
	// Default: 5 minutes.
	WarningWindow time.Duration

	// MaxDuration caps the requested key lifetime. Default: 24 hours.
	MaxDuration time.Duration

	// RetainExpired is how long expired rows survive before the sweeper
	// prunes them. Default: 24 hours.
	RetainExpired time.Duration

	// Clock overrides the time source for tests. Default: time.Now
	// truncated to seconds.
	Clock func() time.Time

	// Logger for session events. If nil, the global logger is used.
	Logger *logging.Logger
}

// NewSessionService creates a new session service
func NewSessionService(cfg *SessionServiceConfig) (*SessionService, error) {
	if cfg == nil || cfg.Store == nil {
		return nil, fmt.Errorf("session key store is required")
	}

	warningWindow := cfg.WarningWindow
	if warningWindow <= 0 {
		warningWindow = 5 * time.Minute
	}
	maxDuration := cfg.MaxDuration
	if maxDuration <= 0 {
		maxDuration = 24 * time.Hour
	}
	retainExpired := cfg.RetainExpired
	if retainExpired <= 0 {
		retainExpired = 24 * time.Hour
	}

	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().Truncate(time.Second) }
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &SessionService{
		store:         cfg.Store,
		warningWindow: warningWindow,
		maxDuration:   maxDuration,
		retainExpired: retainExpired,
		now:           clock,
		logger:        logger,
	}, nil
}

// lockOwner acquires the mutex stripe for an owner address and returns the
// unlock function. Lock hold time is bounded by the store's call timeouts.
func (s *SessionService) lockOwner(owner string) func() {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(owner)))
	stripe := &s.stripes[h.Sum32()%sessionStripes]
	stripe.Lock()
	return stripe.Unlock
}

// Create issues a new session key for an owner. The key is persisted with
// expiry = now + duration and returned with derived state attached.
func (s *SessionService) Create(ctx context.Context, owner string, durationSeconds int64) (*types.SessionKeyInfo, error) {
	if err := storage.ValidateAddress(owner); err != nil {
		return nil, err
	}
	if durationSeconds <= 0 {
		return nil, &types.ServiceError{
			Code:    "INVALID_DURATION",
			Message: fmt.Sprintf("duration must be positive, got %d", durationSeconds),
			Details: map[string]interface{}{
				"duration": durationSeconds,
			},
		}
	}
	if maxSeconds := int64(s.maxDuration / time.Second); durationSeconds > maxSeconds {
		return nil, &types.ServiceError{
			Code:    "INVALID_DURATION",
			Message: fmt.Sprintf("duration %d exceeds maximum of %d seconds", durationSeconds, maxSeconds),
			Details: map[string]interface{}{
				"duration": durationSeconds,
				"maximum":  maxSeconds,
			},
		}
	}

	unlock := s.lockOwner(owner)
	defer unlock()

	now := s.now()
	row := &models.SessionKey{
		Owner:     strings.ToLower(owner),
		Duration:  durationSeconds,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(durationSeconds) * time.Second),
		Revoked:   false,
	}

	if err := s.store.Create(ctx, row); err != nil {
		return nil, err
	}
	metrics.SessionKeysCreated.Inc()

	s.logger.WithFields(map[string]interface{}{
		"sessionKeyId": row.ID,
		"owner":        row.Owner,
		"duration":     durationSeconds,
	}).Info("Session key created")

	return s.withState(row.ToType()), nil
}

// Get returns a session key with derived state attached
func (s *SessionService) Get(ctx context.Context, id string) (*types.SessionKeyInfo, error) {
	row, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withState(row.ToType()), nil
}

// ListByOwner returns all of an owner's keys with derived state attached
func (s *SessionService) ListByOwner(ctx context.Context, owner string) ([]*types.SessionKeyInfo, error) {
	if err := storage.ValidateAddress(owner); err != nil {
		return nil, err
	}

	rows, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	infos := make([]*types.SessionKeyInfo, len(rows))
	for i, row := range rows {
		infos[i] = s.withState(row.ToType())
	}
	return infos, nil
}

// Revoke marks a key revoked. Revoking an already revoked key is a no-op
// returning the current state; revoking an unknown id is a not-found error.
func (s *SessionService) Revoke(ctx context.Context, id string) (*types.SessionKeyInfo, error) {
	row, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := s.lockOwner(row.Owner)
	defer unlock()

	alreadyRevoked := row.Revoked
	if err := s.store.Revoke(ctx, id, s.now()); err != nil {
		return nil, err
	}
	if !alreadyRevoked {
		metrics.SessionKeysRevoked.Inc()
	}

	// Re-read so the returned record carries the persisted revocation time
	row, err = s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"sessionKeyId": id,
		"owner":        row.Owner,
	}).Info("Session key revoked")

	return s.withState(row.ToType()), nil
}

// IsActive reports whether a key is neither revoked nor expired
func (s *SessionService) IsActive(key *types.SessionKey) bool {
	return !key.Revoked && s.now().Before(key.ExpiresAt)
}

// TimeRemaining returns seconds until expiry, never negative
func (s *SessionService) TimeRemaining(key *types.SessionKey) int64 {
	remaining := int64(key.ExpiresAt.Sub(s.now()) / time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsExpiringWithin reports whether an active key expires inside the window
func (s *SessionService) IsExpiringWithin(key *types.SessionKey, windowSeconds int64) bool {
	return s.IsActive(key) && s.TimeRemaining(key) <= windowSeconds
}

// State derives the observable state for a key at the current instant.
// Expired and Revoked are terminal; ExpiringSoon is Active inside the
// warning window.
func (s *SessionService) State(key *types.SessionKey) types.SessionKeyState {
	if key.Revoked {
		return types.SessionStateRevoked
	}
	if !s.now().Before(key.ExpiresAt) {
		return types.SessionStateExpired
	}
	if s.TimeRemaining(key) <= int64(s.warningWindow/time.Second) {
		return types.SessionStateExpiringSoon
	}
	return types.SessionStateActive
}

// Authorize checks a session key as a credential for an operation by owner.
// A missing, revoked, expired, or foreign key is an authorization failure,
// never a not-found, so callers cannot probe for key existence.
func (s *SessionService) Authorize(ctx context.Context, keyID, owner string) error {
	inactive := func() error {
		return &types.ServiceError{
			Code:    "SESSION_KEY_INACTIVE",
			Message: "session key is not active",
			Details: map[string]interface{}{
				"session_key_id": keyID,
			},
		}
	}

	row, err := s.store.GetByID(ctx, keyID)
	if err != nil {
		if svcErr, ok := err.(*types.ServiceError); ok && svcErr.Code == "SESSION_KEY_NOT_FOUND" {
			return inactive()
		}
		return err
	}

	key := row.ToType()
	if !strings.EqualFold(key.Owner, owner) {
		return inactive()
	}
	if !s.IsActive(key) {
		return inactive()
	}
	return nil
}

// CountActive returns the number of currently active keys
func (s *SessionService) CountActive(ctx context.Context) (int64, error) {
	return s.store.CountActive(ctx, s.now())
}

// SweepResult summarizes one sweeper pass
type SweepResult struct {
	ExpiringSoon int   `json:"expiringSoon"`
	Pruned       int64 `json:"pruned"`
	Active       int64 `json:"active"`
}

// SweepExpired is the cron target. It surfaces keys entering the warning
// window and prunes rows expired longer than the retention period, so
// listings and metrics reflect terminal states without waiting for reads.
func (s *SessionService) SweepExpired(ctx context.Context) (*SweepResult, error) {
	now := s.now()

	expiring, err := s.store.ListExpiringWithin(ctx, now, s.warningWindow)
	if err != nil {
		return nil, err
	}
	for _, key := range expiring {
		s.logger.WithFields(map[string]interface{}{
			"sessionKeyId": key.ID,
			"owner":        key.Owner,
			"expiresAt":    key.ExpiresAt,
		}).Debug("Session key expiring soon")
	}

	pruned, err := s.store.DeleteExpiredBefore(ctx, now.Add(-s.retainExpired))
	if err != nil {
		return nil, err
	}

	active, err := s.store.CountActive(ctx, now)
	if err != nil {
		return nil, err
	}
	metrics.ActiveSessionKeys.Set(float64(active))

	if len(expiring) > 0 || pruned > 0 {
		s.logger.WithFields(map[string]interface{}{
			"expiringSoon": len(expiring),
			"pruned":       pruned,
			"active":       active,
		}).Info("Session key sweep complete")
	}

	return &SweepResult{
		ExpiringSoon: len(expiring),
		Pruned:       pruned,
		Active:       active,
	}, nil
}

// withState attaches the derived state and remaining lifetime to a key
func (s *SessionService) withState(key *types.SessionKey) *types.SessionKeyInfo {
	return &types.SessionKeyInfo{
		SessionKey:    *key,
		State:         s.State(key),
		TimeRemaining: s.TimeRemaining(key),
	}
}
