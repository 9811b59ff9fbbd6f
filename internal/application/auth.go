package application

import (
	"context"
	"strings"
)

// The authentication gate is a two-state machine: Unlocked (no admins
// configured, or a successful login) and Locked. It guards local mutation
// entry points only; remote updates arriving over the sync channel have
// already passed a peer's gate and are applied regardless.

func (s *PlannerService) setAuthenticatedLocked(ctx context.Context, authenticated bool) {
	s.authenticated = authenticated
	if err := s.store.SaveAuthenticated(ctx, authenticated); err != nil {
		s.loggerWith(ctx, "setAuthenticated").ErrorContext(ctx, "failed to persist auth flag", "error", err)
	}
}

// Unlock validates the credential pair against the admin roster. The error
// never reveals which field was wrong. With an empty roster the gate is
// already open and Unlock simply succeeds.
func (s *PlannerService) Unlock(ctx context.Context, name, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.loggerWith(ctx, "Unlock", "admin", name)

	if len(s.settings.Admins) == 0 {
		s.setAuthenticatedLocked(ctx, true)
		return nil
	}

	name = strings.TrimSpace(name)
	for _, admin := range s.settings.Admins {
		if admin.Name != name {
			continue
		}
		if err := verifyAdminPassword(admin.Password, password); err == nil {
			s.setAuthenticatedLocked(ctx, true)
			logger.InfoContext(ctx, "editing unlocked")
			return nil
		}
	}

	logger.WarnContext(ctx, "unlock rejected", "error_kind", ErrorKind(ErrInvalidCredentials))
	return ErrInvalidCredentials
}

// Lock always moves the gate to Locked and broadcasts the new state together
// with the roster so every peer reflects the same lock.
func (s *PlannerService) Lock(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setAuthenticatedLocked(ctx, false)
	s.publishAuthStateLocked(ctx)
	s.loggerWith(ctx, "Lock").InfoContext(ctx, "editing locked")
}

// Authenticated reports the raw flag, regardless of whether admins exist.
func (s *PlannerService) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}
