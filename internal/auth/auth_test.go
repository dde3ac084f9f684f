package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestGenerateAndValidateKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, key, err := m.GenerateKey(ctx, "acc_buyer1", RoleUser, "test key")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if !strings.HasPrefix(raw, "vk_") {
		t.Errorf("raw key should have vk_ prefix, got %q", raw)
	}
	if key.AccountID != "acc_buyer1" || key.Role != RoleUser {
		t.Errorf("unexpected key metadata: %+v", key)
	}

	got, err := m.ValidateKey(ctx, raw)
	if err != nil {
		t.Fatalf("ValidateKey failed: %v", err)
	}
	if got.AccountID != "acc_buyer1" {
		t.Errorf("expected acc_buyer1, got %s", got.AccountID)
	}
}

func TestValidateKey_BearerPrefix(t *testing.T) {
	m := NewManager(NewMemoryStore())
	raw, _, err := m.GenerateKey(context.Background(), "acc_1", RoleUser, "")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.ValidateKey(context.Background(), "Bearer "+raw); err != nil {
		t.Errorf("Bearer-prefixed key should validate: %v", err)
	}
}

func TestValidateKey_Invalid(t *testing.T) {
	m := NewManager(NewMemoryStore())

	if _, err := m.ValidateKey(context.Background(), ""); err != ErrNoAPIKey {
		t.Errorf("empty key: got %v, want ErrNoAPIKey", err)
	}
	if _, err := m.ValidateKey(context.Background(), "sk_wrongprefix"); err != ErrInvalidAPIKey {
		t.Errorf("wrong prefix: got %v, want ErrInvalidAPIKey", err)
	}
	if _, err := m.ValidateKey(context.Background(), "vk_deadbeef"); err != ErrInvalidAPIKey {
		t.Errorf("unknown key: got %v, want ErrInvalidAPIKey", err)
	}
}

func TestRevokeKey(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	raw, key, err := m.GenerateKey(ctx, "acc_1", RoleUser, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.RevokeKey(ctx, key.ID, "acc_1"); err != nil {
		t.Fatalf("RevokeKey failed: %v", err)
	}
	if _, err := m.ValidateKey(ctx, raw); err != ErrInvalidAPIKey {
		t.Errorf("revoked key should not validate, got %v", err)
	}
}

func TestRevokeKey_NotOwned(t *testing.T) {
	m := NewManager(NewMemoryStore())
	ctx := context.Background()

	_, key, err := m.GenerateKey(ctx, "acc_1", RoleUser, "")
	if err != nil {
		t.Fatal(err)
	}

	if err := m.RevokeKey(ctx, key.ID, "acc_other"); err != ErrKeyNotFound {
		t.Errorf("revoking another account's key should fail, got %v", err)
	}
}

func TestExpiredKey(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store)
	ctx := context.Background()

	raw, key, err := m.GenerateKey(ctx, "acc_1", RoleUser, "")
	if err != nil {
		t.Fatal(err)
	}
	past := time.Now().Add(-time.Hour)
	key.ExpiresAt = &past
	if err := store.Update(ctx, key); err != nil {
		t.Fatal(err)
	}

	if _, err := m.ValidateKey(ctx, raw); err != ErrInvalidAPIKey {
		t.Errorf("expired key should not validate, got %v", err)
	}
}

func TestAdminRoleDefaultsToUser(t *testing.T) {
	m := NewManager(NewMemoryStore())

	_, key, err := m.GenerateKey(context.Background(), "acc_1", Role("bogus"), "")
	if err != nil {
		t.Fatal(err)
	}
	if key.Role != RoleUser {
		t.Errorf("unknown role should default to user, got %s", key.Role)
	}
}
