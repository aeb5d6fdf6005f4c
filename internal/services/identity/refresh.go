package identity

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"cardsync/internal/logging"
	"cardsync/internal/services"
)

// AccessToken returns a usable access token, refreshing it first when its
// expiry claim falls within the refresh leeway. Opaque tokens without an exp
// claim are returned as-is until the API rejects them.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	if token, ok := s.cachedAccessToken(); ok {
		return token, nil
	}
	return s.refresh(ctx, "")
}

// ForceRefresh replaces stale, the token the API just rejected. Callers that
// lose the race to another refresh receive the already refreshed token.
func (s *Session) ForceRefresh(ctx context.Context, stale string) (string, error) {
	return s.refresh(ctx, stale)
}

// Logout forgets the persisted tokens and returns the session to idle.
func (s *Session) Logout() error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	if err := s.store.Clear(); err != nil {
		return err
	}
	s.stateMu.Lock()
	s.token = Token{}
	s.state = StateIdle
	s.stateMu.Unlock()
	return nil
}

// TokenExpiry reports the exp claim of the current access token, if any.
func (s *Session) TokenExpiry() (time.Time, bool) {
	s.stateMu.RLock()
	raw := s.token.AccessToken
	s.stateMu.RUnlock()
	return tokenExpiry(raw)
}

func (s *Session) cachedAccessToken() (string, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	if s.token.AccessToken != "" && !s.needsRefresh(s.token.AccessToken) {
		return s.token.AccessToken, true
	}
	return "", false
}

func (s *Session) refresh(ctx context.Context, stale string) (string, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.stateMu.RLock()
	current := s.token
	s.stateMu.RUnlock()

	if current.AccessToken != "" {
		if stale == "" && !s.needsRefresh(current.AccessToken) {
			return current.AccessToken, nil
		}
		if stale != "" && current.AccessToken != stale {
			return current.AccessToken, nil
		}
	}
	if current.RefreshToken == "" {
		return "", services.Wrap(services.ErrAuthRequired, stageIdentity, "refresh", "no refresh token; link this device first", nil)
	}

	next, err := s.provider.RefreshToken(ctx, s.clientID, current.RefreshToken)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && (perr.Code == CodeInvalidGrant || perr.StatusCode == 401 || perr.StatusCode == 403) {
			return "", services.Wrap(services.ErrAuthRequired, stageIdentity, "refresh", "refresh token rejected", err)
		}
		return "", services.Wrap(services.ErrTransient, stageIdentity, "refresh", "", err)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	if next.IDToken == "" {
		next.IDToken = current.IDToken
	}

	if err := s.store.Save(next); err != nil {
		return "", services.Wrap(services.ErrTransient, stageIdentity, "persist token", "", err)
	}
	s.stateMu.Lock()
	s.token = next
	s.stateMu.Unlock()

	s.logger.Debug("access token refreshed", logging.String(logging.FieldEventType, "token_refreshed"))
	return next.AccessToken, nil
}

func (s *Session) needsRefresh(raw string) bool {
	exp, ok := tokenExpiry(raw)
	if !ok {
		return false
	}
	return !s.now().Add(refreshLeeway).Before(exp)
}

func tokenExpiry(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
