package application

import (
	"context"
	"testing"
)

func TestPlannerService_Unlock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	withAdmins := func(admins ...Admin) *memStore {
		settings := DefaultSettings()
		settings.Admins = admins
		auth := false
		return &memStore{settings: &settings, auth: &auth}
	}

	t.Run("valid plaintext credentials unlock", func(t *testing.T) {
		t.Parallel()
		svc := newTestService(t, withAdmins(Admin{Name: "Admin", Password: "5521"}), nil)

		if err := svc.Unlock(ctx, "Admin", "5521"); err != nil {
			t.Fatalf("unlock: %v", err)
		}
		if !svc.Authenticated() || !svc.Unlocked() {
			t.Fatal("expected service unlocked")
		}
	})

	t.Run("name is trimmed before matching", func(t *testing.T) {
		t.Parallel()
		svc := newTestService(t, withAdmins(Admin{Name: "Admin", Password: "5521"}), nil)

		if err := svc.Unlock(ctx, "  Admin  ", "5521"); err != nil {
			t.Fatalf("unlock with padded name: %v", err)
		}
	})

	t.Run("wrong password is rejected without detail", func(t *testing.T) {
		t.Parallel()
		svc := newTestService(t, withAdmins(Admin{Name: "Admin", Password: "5521"}), nil)

		if err := svc.Unlock(ctx, "Admin", "wrong"); err != ErrInvalidCredentials {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
		if err := svc.Unlock(ctx, "Nobody", "5521"); err != ErrInvalidCredentials {
			t.Fatalf("expected ErrInvalidCredentials for unknown name, got %v", err)
		}
		if svc.Authenticated() {
			t.Fatal("expected gate to stay locked")
		}
	})

	t.Run("argon2id hashed password verifies", func(t *testing.T) {
		t.Parallel()
		hash, err := CreatePasswordHash("secret", DefaultArgon2idParams)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		svc := newTestService(t, withAdmins(Admin{Name: "Admin", Password: hash}), nil)

		if err := svc.Unlock(ctx, "Admin", "secret"); err != nil {
			t.Fatalf("unlock with hashed password: %v", err)
		}
		if err := svc.Unlock(ctx, "Admin", "not-secret"); err == nil {
			t.Fatal("expected wrong password to fail against hash")
		}
	})

	t.Run("empty roster means the gate is open", func(t *testing.T) {
		t.Parallel()
		auth := false
		svc := newTestService(t, &memStore{auth: &auth}, nil)

		if !svc.Unlocked() {
			t.Fatal("expected empty roster to leave editing open")
		}
		if err := svc.Unlock(ctx, "anyone", "anything"); err != nil {
			t.Fatalf("unlock with empty roster: %v", err)
		}
	})
}

func TestPlannerService_Lock(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	settings := DefaultSettings()
	settings.Admins = []Admin{{Name: "Admin", Password: "5521"}}
	auth := true
	store := &memStore{settings: &settings, auth: &auth}
	svc := newTestService(t, store, nil)
	publisher := &recordingPublisher{}
	svc.SetPublisher(publisher)

	svc.Lock(ctx)

	if svc.Authenticated() {
		t.Fatal("expected locked")
	}
	if store.auth == nil || *store.auth {
		t.Fatal("expected lock persisted")
	}
	if len(publisher.authStates) != 1 || publisher.authStates[0] {
		t.Fatalf("expected locked auth state broadcast, got %v", publisher.authStates)
	}
}
