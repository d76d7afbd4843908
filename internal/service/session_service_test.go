package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/alpaca-lotto/internal/models"
	"github.com/alpaca-lotto/internal/types"
)

// memSessionStore is an in-memory SessionKeyStore with repository semantics
type memSessionStore struct {
	mu   sync.Mutex
	keys map[string]*models.SessionKey
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{keys: make(map[string]*models.SessionKey)}
}

func (m *memSessionStore) Create(ctx context.Context, key *models.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	clone := *key
	m.keys[key.ID] = &clone
	return nil
}

func (m *memSessionStore) GetByID(ctx context.Context, id string) (*models.SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[id]
	if !ok {
		return nil, &types.ServiceError{Code: "SESSION_KEY_NOT_FOUND", Message: "session key not found: " + id}
	}
	clone := *key
	return &clone, nil
}

func (m *memSessionStore) ListByOwner(ctx context.Context, owner string) ([]*models.SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.SessionKey
	for _, key := range m.keys {
		if key.Owner == strings.ToLower(owner) {
			clone := *key
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *memSessionStore) Revoke(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.keys[id]
	if !ok {
		return &types.ServiceError{Code: "SESSION_KEY_NOT_FOUND", Message: "session key not found: " + id}
	}
	if key.Revoked {
		return nil
	}
	key.Revoked = true
	revokedAt := at
	key.RevokedAt = &revokedAt
	return nil
}

func (m *memSessionStore) ListExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*models.SessionKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*models.SessionKey
	limit := now.Add(window)
	for _, key := range m.keys {
		if !key.Revoked && key.ExpiresAt.After(now) && !key.ExpiresAt.After(limit) {
			clone := *key
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (m *memSessionStore) CountActive(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, key := range m.keys {
		if !key.Revoked && key.ExpiresAt.After(now) {
			count++
		}
	}
	return count, nil
}

func (m *memSessionStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pruned int64
	for id, key := range m.keys {
		if key.ExpiresAt.Before(cutoff) {
			delete(m.keys, id)
			pruned++
		}
	}
	return pruned, nil
}

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testOwner = "0x1234567890abcdef1234567890abcdef12345678"

func newTestSessionService(t *testing.T) (*SessionService, *memSessionStore, *fakeClock) {
	t.Helper()
	store := newMemSessionStore()
	clock := newFakeClock()
	svc, err := NewSessionService(&SessionServiceConfig{
		Store:         store,
		WarningWindow: 5 * time.Minute,
		MaxDuration:   24 * time.Hour,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create session service: %v", err)
	}
	return svc, store, clock
}

func TestSessionCreate_InvalidOwner(t *testing.T) {
	svc, _, _ := newTestSessionService(t)

	_, err := svc.Create(context.Background(), "not-an-address", 300)
	if err == nil {
		t.Fatal("expected error for malformed owner")
	}
	svcErr, ok := err.(*types.ServiceError)
	if !ok {
		t.Fatalf("expected *types.ServiceError, got %T", err)
	}
	if svcErr.Code != "INVALID_ADDRESS" {
		t.Errorf("Code = %s, want INVALID_ADDRESS", svcErr.Code)
	}
}

func TestSessionCreate_NonPositiveDuration(t *testing.T) {
	svc, _, _ := newTestSessionService(t)

	for _, duration := range []int64{0, -1, -3600} {
		_, err := svc.Create(context.Background(), testOwner, duration)
		if err == nil {
			t.Fatalf("expected error for duration %d", duration)
		}
		svcErr, ok := err.(*types.ServiceError)
		if !ok {
			t.Fatalf("expected *types.ServiceError, got %T", err)
		}
		if svcErr.Code != "INVALID_DURATION" {
			t.Errorf("Code = %s, want INVALID_DURATION", svcErr.Code)
		}
	}
}

func TestSessionCreate_ExceedsMaxDuration(t *testing.T) {
	svc, _, _ := newTestSessionService(t)

	_, err := svc.Create(context.Background(), testOwner, int64((24*time.Hour)/time.Second)+1)
	if err == nil {
		t.Fatal("expected error for duration beyond the cap")
	}
	svcErr, ok := err.(*types.ServiceError)
	if !ok || svcErr.Code != "INVALID_DURATION" {
		t.Errorf("expected INVALID_DURATION, got %v", err)
	}
}

func TestSessionCreate_SetsExpiry(t *testing.T) {
	svc, _, clock := newTestSessionService(t)

	info, err := svc.Create(context.Background(), testOwner, 300)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if info.ID == "" {
		t.Error("expected a generated id")
	}
	if !info.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", info.CreatedAt, clock.Now())
	}
	wantExpiry := clock.Now().Add(300 * time.Second)
	if !info.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("ExpiresAt = %v, want %v", info.ExpiresAt, wantExpiry)
	}
	if info.TimeRemaining != 300 {
		t.Errorf("TimeRemaining = %d, want 300", info.TimeRemaining)
	}
	// 300s duration with a 5 minute warning window starts out expiring soon
	if info.State != types.SessionStateExpiringSoon {
		t.Errorf("State = %s, want %s", info.State, types.SessionStateExpiringSoon)
	}
}

func TestSessionCreate_NormalizesOwnerCase(t *testing.T) {
	svc, _, _ := newTestSessionService(t)

	info, err := svc.Create(context.Background(), "0x1234567890ABCDEF1234567890ABCDEF12345678", 600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Owner != testOwner {
		t.Errorf("Owner = %s, want lowercased %s", info.Owner, testOwner)
	}
}

func TestSessionLifecycle_ExpiryByTimePassing(t *testing.T) {
	svc, _, clock := newTestSessionService(t)

	info, err := svc.Create(context.Background(), testOwner, 600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	key := &info.SessionKey
	if !svc.IsActive(key) {
		t.Fatal("fresh key should be active")
	}

	// Cross the expiry boundary: at exactly now == expiry the key is dead
	clock.Advance(600 * time.Second)
	if svc.IsActive(key) {
		t.Error("key should be inactive at expiry instant")
	}
	if svc.TimeRemaining(key) != 0 {
		t.Errorf("TimeRemaining = %d, want 0", svc.TimeRemaining(key))
	}
	if svc.State(key) != types.SessionStateExpired {
		t.Errorf("State = %s, want expired", svc.State(key))
	}

	// Time keeps passing; state stays terminal
	clock.Advance(time.Hour)
	if svc.State(key) != types.SessionStateExpired {
		t.Errorf("State = %s, want expired after more time", svc.State(key))
	}
}

func TestSessionLifecycle_ExpiringSoonWindow(t *testing.T) {
	svc, _, clock := newTestSessionService(t)

	info, err := svc.Create(context.Background(), testOwner, 3600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	key := &info.SessionKey

	if svc.State(key) != types.SessionStateActive {
		t.Errorf("State = %s, want active", svc.State(key))
	}
	if svc.IsExpiringWithin(key, 300) {
		t.Error("fresh 1h key should not be expiring within 5m")
	}
	if !svc.IsExpiringWithin(key, 3600) {
		t.Error("1h key should be expiring within 1h")
	}

	// Advance to 4 minutes before expiry, inside the 5 minute window
	clock.Advance(3360 * time.Second)
	if svc.State(key) != types.SessionStateExpiringSoon {
		t.Errorf("State = %s, want expiring_soon", svc.State(key))
	}
	if !svc.IsExpiringWithin(key, 300) {
		t.Error("key 4m from expiry should be expiring within 5m")
	}
}

func TestSessionRevoke_Idempotent(t *testing.T) {
	svc, _, _ := newTestSessionService(t)

	info, err := svc.Create(context.Background(), testOwner, 600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := svc.Revoke(context.Background(), info.ID)
	if err != nil {
		t.Fatalf("first revoke failed: %v", err)
	}
	if !first.Revoked || first.State != types.SessionStateRevoked {
		t.Errorf("first revoke: Revoked = %v, State = %s", first.Revoked, first.State)
	}
	if first.RevokedAt == nil {
		t.Fatal("expected RevokedAt to be set")
	}

	second, err := svc.Revoke(context.Background(), info.ID)
	if err != nil {
		t.Fatalf("second revoke failed: %v", err)
	}
	if !second.Revoked || second.State != types.SessionStateRevoked {
		t.Errorf("second revoke: Revoked = %v, State = %s", second.Revoked, second.State)
	}
	if !second.RevokedAt.Equal(*first.RevokedAt) {
		t.Errorf("second revoke changed RevokedAt: %v != %v", second.RevokedAt, first.RevokedAt)
	}
}

func TestSessionRevoke_UnknownKey(t *testing.T) {
	svc, _, _ := newTestSessionService(t)

	_, err := svc.Revoke(context.Background(), uuid.New().String())
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
	svcErr, ok := err.(*types.ServiceError)
	if !ok || svcErr.Code != "SESSION_KEY_NOT_FOUND" {
		t.Errorf("expected SESSION_KEY_NOT_FOUND, got %v", err)
	}
}

func TestSessionRevoke_ExpiredKeyStaysExpired(t *testing.T) {
	svc, _, clock := newTestSessionService(t)

	info, err := svc.Create(context.Background(), testOwner, 60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clock.Advance(120 * time.Second)

	// Revoking an expired key persists the flag but the derived state is
	// still expired: IsActive is false either way
	revoked, err := svc.Revoke(context.Background(), info.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if revoked.State != types.SessionStateRevoked {
		t.Errorf("State = %s, want revoked", revoked.State)
	}
	if svc.IsActive(&revoked.SessionKey) {
		t.Error("revoked expired key must not be active")
	}
}

func TestSessionAuthorize(t *testing.T) {
	svc, _, clock := newTestSessionService(t)
	ctx := context.Background()

	info, err := svc.Create(ctx, testOwner, 600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Active key owned by the caller authorizes
	if err := svc.Authorize(ctx, info.ID, testOwner); err != nil {
		t.Errorf("expected authorization to pass, got %v", err)
	}

	// Owner is matched case-insensitively
	if err := svc.Authorize(ctx, info.ID, "0x1234567890ABCDEF1234567890ABCDEF12345678"); err != nil {
		t.Errorf("expected case-insensitive owner match, got %v", err)
	}

	// Foreign owner is rejected as inactive, not as not-found
	err = svc.Authorize(ctx, info.ID, "0xffffffffffffffffffffffffffffffffffffffff")
	assertSessionInactive(t, err)

	// Unknown key id is also rejected as inactive
	err = svc.Authorize(ctx, uuid.New().String(), testOwner)
	assertSessionInactive(t, err)

	// Expired key is rejected
	clock.Advance(601 * time.Second)
	err = svc.Authorize(ctx, info.ID, testOwner)
	assertSessionInactive(t, err)
}

func TestSessionAuthorize_RevokedKey(t *testing.T) {
	svc, _, _ := newTestSessionService(t)
	ctx := context.Background()

	info, err := svc.Create(ctx, testOwner, 600)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Revoke(ctx, info.ID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	assertSessionInactive(t, svc.Authorize(ctx, info.ID, testOwner))
}

func assertSessionInactive(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected authorization failure")
	}
	svcErr, ok := err.(*types.ServiceError)
	if !ok || svcErr.Code != "SESSION_KEY_INACTIVE" {
		t.Errorf("expected SESSION_KEY_INACTIVE, got %v", err)
	}
}

func TestSessionListByOwner_AttachesState(t *testing.T) {
	svc, _, _ := newTestSessionService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, testOwner, 7200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Create(ctx, testOwner, 7200); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Revoke(ctx, first.ID); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	infos, err := svc.ListByOwner(ctx, testOwner)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("listed %d keys, want 2", len(infos))
	}

	states := map[string]types.SessionKeyState{}
	for _, info := range infos {
		states[info.ID] = info.State
	}
	if states[first.ID] != types.SessionStateRevoked {
		t.Errorf("first key state = %s, want revoked", states[first.ID])
	}
}

func TestSessionSweep(t *testing.T) {
	store := newMemSessionStore()
	clock := newFakeClock()
	svc, err := NewSessionService(&SessionServiceConfig{
		Store:         store,
		WarningWindow: 5 * time.Minute,
		RetainExpired: time.Hour,
		Clock:         clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to create session service: %v", err)
	}
	ctx := context.Background()

	// One key long expired, one expiring soon, one healthy
	if _, err := svc.Create(ctx, testOwner, 60); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)
	expiring, err := svc.Create(ctx, testOwner, 240)
	if err != nil {
		t.Fatal(err)
	}
	healthy, err := svc.Create(ctx, testOwner, 7200)
	if err != nil {
		t.Fatal(err)
	}

	result, err := svc.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if result.Pruned != 1 {
		t.Errorf("Pruned = %d, want 1", result.Pruned)
	}
	if result.ExpiringSoon != 1 {
		t.Errorf("ExpiringSoon = %d, want 1", result.ExpiringSoon)
	}
	if result.Active != 2 {
		t.Errorf("Active = %d, want 2", result.Active)
	}

	// The pruned key is gone; the others survive
	if _, err := svc.Get(ctx, expiring.ID); err != nil {
		t.Errorf("expiring key should survive sweep: %v", err)
	}
	if _, err := svc.Get(ctx, healthy.ID); err != nil {
		t.Errorf("healthy key should survive sweep: %v", err)
	}
}

// Property: for any positive duration, expiry minus creation equals the
// requested duration exactly.
func TestSessionCreate_ExpiryEqualsDuration_Property(t *testing.T) {
	svc, _, _ := newTestSessionService(t)

	properties := gopter.NewProperties(nil)

	properties.Property("expiry - createdAt == duration", prop.ForAll(
		func(duration int64) bool {
			info, err := svc.Create(context.Background(), testOwner, duration)
			if err != nil {
				return false
			}
			return int64(info.ExpiresAt.Sub(info.CreatedAt)/time.Second) == duration
		},
		gen.Int64Range(1, int64((24*time.Hour)/time.Second)),
	))

	properties.TestingRun(t)
}

// Property: IsActive is false at and after expiry regardless of revocation
func TestSessionIsActive_FalseAfterExpiry_Property(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("now >= expiry implies inactive", prop.ForAll(
		func(duration int64, revoked bool, overshoot int64) bool {
			store := newMemSessionStore()
			clock := newFakeClock()
			svc, err := NewSessionService(&SessionServiceConfig{
				Store: store,
				Clock: clock.Now,
			})
			if err != nil {
				return false
			}

			info, err := svc.Create(context.Background(), testOwner, duration)
			if err != nil {
				return false
			}
			key := info.SessionKey
			key.Revoked = revoked

			clock.Advance(time.Duration(duration+overshoot) * time.Second)
			return !svc.IsActive(&key)
		},
		gen.Int64Range(1, 86400),
		gen.Bool(),
		gen.Int64Range(0, 86400),
	))

	properties.TestingRun(t)
}
