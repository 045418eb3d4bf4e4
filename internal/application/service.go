package application

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gatekit/portal/internal/domain"
	"github.com/gatekit/portal/internal/ports"
)

// WarnInvalidLogin is the one user-visible warning this flow produces, shown
// on the login form when the provider asserted no email.
const WarnInvalidLogin = "Invalid login. Please try again."

type Service struct {
	cfg      Config
	users    ports.UserRepository
	sessions ports.SessionStore
	states   ports.HandshakeStateStore
	provider ports.IdentityProvider
	nowFn    func() time.Time
}

type Dependencies struct {
	Config   Config
	Users    ports.UserRepository
	Sessions ports.SessionStore
	States   ports.HandshakeStateStore
	Provider ports.IdentityProvider
}

func NewService(deps Dependencies) *Service {
	cfg := deps.Config
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.RememberTTL <= 0 {
		cfg.RememberTTL = 30 * 24 * time.Hour
	}
	if cfg.HandshakeTTL <= 0 {
		cfg.HandshakeTTL = 10 * time.Minute
	}
	return &Service{
		cfg:      cfg,
		users:    deps.Users,
		sessions: deps.Sessions,
		states:   deps.States,
		provider: deps.Provider,
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// CurrentUser resolves the request identity from the client session. A nil
// user means anonymous; a stale user reference is cleared rather than
// surfaced as an error.
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*domain.User, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, nil
	}
	raw, ok, err := s.sessions.Get(ctx, sessionID, ports.SessionKeyUserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		_ = s.sessions.Remove(ctx, sessionID, ports.SessionKeyUserID)
		return nil, nil
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			_ = s.sessions.Remove(ctx, sessionID, ports.SessionKeyUserID)
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// BeginLogin validates the submitted locator, stores the remember flag in
// the client session, records the handshake state and returns the provider
// authorize URL. Errors wrapping domain.ErrInvalidInput belong on the login
// form, not on an error page.
func (s *Service) BeginLogin(ctx context.Context, req BeginLoginRequest) (BeginLoginResponse, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return BeginLoginResponse{}, fmt.Errorf("%w: missing session", domain.ErrInvalidInput)
	}
	issuer, err := s.normalizeLocator(req.Locator)
	if err != nil {
		return BeginLoginResponse{}, err
	}

	remember := "0"
	if req.Remember {
		remember = "1"
	}
	if err := s.sessions.Set(ctx, req.SessionID, ports.SessionKeyRemember, remember); err != nil {
		return BeginLoginResponse{}, err
	}

	state := uuid.NewString()
	nonce := randomHex(16)
	codeVerifier, codeChallenge := generatePKCEVerifierChallenge()
	now := s.nowFn()
	if err := s.states.Put(ctx, state, ports.HandshakeState{
		Issuer:       issuer,
		SessionID:    req.SessionID,
		Nonce:        nonce,
		CodeVerifier: codeVerifier,
		Next:         strings.TrimSpace(req.Next),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.cfg.HandshakeTTL),
	}, s.cfg.HandshakeTTL); err != nil {
		return BeginLoginResponse{}, err
	}

	authorizeURL, err := s.provider.BuildAuthorizeURL(ctx, issuer, s.callbackURL(), state, nonce, codeChallenge)
	if err != nil {
		// The handshake never started; the user stays on the form.
		return BeginLoginResponse{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	slog.Default().InfoContext(ctx, "login handshake started",
		"module", "application",
		"operation", "begin_login",
		"outcome", "success",
		"issuer", issuer,
		"remember", req.Remember,
	)
	return BeginLoginResponse{AuthorizeURL: authorizeURL, State: state}, nil
}

// CompleteLogin is the post-authentication reconciler. It consumes the
// one-shot handshake state, validates the asserted identity, upserts the
// user record, finalizes the session and resolves the redirect target.
func (s *Service) CompleteLogin(ctx context.Context, req CompleteLoginRequest) (CompleteLoginResult, error) {
	if strings.TrimSpace(req.Code) == "" || strings.TrimSpace(req.State) == "" {
		return CompleteLoginResult{}, fmt.Errorf("%w: code and state are required", domain.ErrInvalidInput)
	}

	handshake, err := s.states.Get(ctx, req.State)
	if err != nil {
		return CompleteLoginResult{}, err
	}
	if handshake == nil || handshake.ExpiresAt.Before(s.nowFn()) || handshake.SessionID != req.SessionID {
		slog.Default().WarnContext(ctx, "handshake state rejected",
			"module", "application",
			"operation", "complete_login",
			"outcome", "failure",
			"state", req.State,
		)
		return CompleteLoginResult{}, domain.ErrUnauthorized
	}
	_ = s.states.Delete(ctx, req.State)

	identity, err := s.provider.ExchangeCode(ctx, handshake.Issuer, req.Code, s.callbackURL(), handshake.Nonce, handshake.CodeVerifier)
	if err != nil {
		slog.Default().WarnContext(ctx, "code exchange failed",
			"module", "application",
			"operation", "complete_login",
			"outcome", "failure",
			"issuer", handshake.Issuer,
			"error", err,
		)
		return CompleteLoginResult{}, domain.ErrUnauthorized
	}

	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if email == "" {
		if err := s.sessions.Set(ctx, req.SessionID, ports.SessionKeyFlash, WarnInvalidLogin); err != nil {
			return CompleteLoginResult{}, err
		}
		return CompleteLoginResult{}, domain.ErrIdentityIncomplete
	}

	user, err := s.resolveUser(ctx, email, identity.Nickname)
	if err != nil {
		return CompleteLoginResult{}, err
	}

	remember := false
	if raw, ok, takeErr := s.sessions.Take(ctx, req.SessionID, ports.SessionKeyRemember); takeErr != nil {
		return CompleteLoginResult{}, takeErr
	} else if ok {
		remember = raw == "1"
	}

	if err := s.sessions.Set(ctx, req.SessionID, ports.SessionKeyUserID, user.UserID.String()); err != nil {
		return CompleteLoginResult{}, err
	}
	ttl := s.cfg.SessionTTL
	if remember {
		ttl = s.cfg.RememberTTL
	}
	if err := s.sessions.ExpireAfter(ctx, req.SessionID, ttl); err != nil {
		return CompleteLoginResult{}, err
	}

	redirectURL := handshake.Next
	if strings.TrimSpace(redirectURL) == "" {
		redirectURL = "/"
	}

	slog.Default().InfoContext(ctx, "login completed",
		"module", "application",
		"operation", "complete_login",
		"outcome", "success",
		"user_id", user.UserID.String(),
		"remember", remember,
	)
	return CompleteLoginResult{
		UserID:      user.UserID.String(),
		Nickname:    user.Nickname,
		Remember:    remember,
		RedirectURL: redirectURL,
	}, nil
}

// Logout drops the whole session record. Safe to call when anonymous.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	return s.sessions.Destroy(ctx, sessionID)
}

// PopFlash returns the pending user-visible warning, at most once.
func (s *Service) PopFlash(ctx context.Context, sessionID string) (string, error) {
	if strings.TrimSpace(sessionID) == "" {
		return "", nil
	}
	msg, _, err := s.sessions.Take(ctx, sessionID, ports.SessionKeyFlash)
	return msg, err
}

// resolveUser returns the user for the asserted email, creating it on first
// login. A uniqueness conflict on insert means another request created the
// same user between lookup and insert, so the lookup is retried.
func (s *Service) resolveUser(ctx context.Context, email, assertedNickname string) (domain.User, error) {
	existing, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, err
	}

	created, createErr := s.users.Create(ctx, ports.CreateUserParams{
		Nickname:     domain.NicknameForEmail(assertedNickname, email),
		Email:        email,
		CreatedAtUTC: s.nowFn(),
	})
	if createErr == nil {
		slog.Default().InfoContext(ctx, "user created on first login",
			"module", "application",
			"operation", "resolve_user",
			"outcome", "success",
			"user_id", created.UserID.String(),
		)
		return created, nil
	}
	if errors.Is(createErr, domain.ErrConflict) {
		return s.users.GetByEmail(ctx, email)
	}
	return domain.User{}, createErr
}

func (s *Service) normalizeLocator(locator string) (string, error) {
	trimmed := strings.TrimSpace(locator)
	if trimmed == "" {
		return "", fmt.Errorf("%w: identity locator is required", domain.ErrInvalidInput)
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		return "", fmt.Errorf("%w: identity locator must be an http(s) URL", domain.ErrInvalidInput)
	}
	return strings.TrimRight(trimmed, "/"), nil
}

func (s *Service) callbackURL() string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/auth/callback"
}

// randomHex returns a cryptographically random hex token.
func randomHex(bytesLen int) string {
	raw := make([]byte, bytesLen)
	_, _ = rand.Read(raw)
	return hex.EncodeToString(raw)
}

// generatePKCEVerifierChallenge creates PKCE verifier and S256 challenge pair.
func generatePKCEVerifierChallenge() (string, string) {
	raw := make([]byte, 32)
	_, _ = rand.Read(raw)
	verifier := strings.TrimRight(base32.StdEncoding.EncodeToString(raw), "=")
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return verifier, challenge
}
