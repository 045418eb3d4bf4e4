package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/gatekit/portal/internal/domain"
	"github.com/gatekit/portal/internal/ports"
)

func TestBeginLoginStoresRememberAndState(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	res, err := f.service.BeginLogin(ctx, BeginLoginRequest{
		SessionID: "sid-1",
		Locator:   "https://provider.example/alice",
		Remember:  true,
		Next:      "/reports",
	})
	if err != nil {
		t.Fatalf("begin login failed: %v", err)
	}
	if res.State == "" {
		t.Fatalf("expected generated state")
	}
	if !strings.Contains(res.AuthorizeURL, "state="+res.State) {
		t.Fatalf("expected state in authorize url, got: %s", res.AuthorizeURL)
	}

	remember, ok, _ := f.sessions.Get(ctx, "sid-1", ports.SessionKeyRemember)
	if !ok || remember != "1" {
		t.Fatalf("expected remember flag in session, got %q ok=%v", remember, ok)
	}
	stored, _ := f.states.Get(ctx, res.State)
	if stored == nil {
		t.Fatalf("expected handshake state persisted")
	}
	if stored.Next != "/reports" {
		t.Fatalf("expected next carried in handshake state, got %q", stored.Next)
	}
	if stored.Issuer != "https://provider.example/alice" {
		t.Fatalf("unexpected issuer: %q", stored.Issuer)
	}
}

func TestBeginLoginRejectsMalformedLocator(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	for _, locator := range []string{"", "   ", "not-a-url", "ftp://provider.example"} {
		_, err := f.service.BeginLogin(ctx, BeginLoginRequest{SessionID: "sid-1", Locator: locator})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("locator %q: expected ErrInvalidInput, got %v", locator, err)
		}
	}
	if f.provider.authorizeCalls != 0 {
		t.Fatalf("provider must not be invoked for malformed locators, got %d calls", f.provider.authorizeCalls)
	}
}

func TestBeginLoginSurfacesHandshakeStartFailure(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.provider.authorizeErr = fmt.Errorf("discovery failed: status=404")
	ctx := context.Background()

	_, err := f.service.BeginLogin(ctx, BeginLoginRequest{
		SessionID: "sid-1",
		Locator:   "https://provider.example",
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for failed handshake start, got %v", err)
	}
}

func TestCompleteLoginCreatesUserWithNicknameFallback(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.provider.identity = ports.Identity{Subject: "sub-1", Email: "alice@example.com", Nickname: ""}
	begin, err := f.service.BeginLogin(ctx, BeginLoginRequest{
		SessionID: "sid-1",
		Locator:   "https://provider.example/alice",
		Remember:  true,
	})
	if err != nil {
		t.Fatalf("begin login failed: %v", err)
	}

	res, err := f.service.CompleteLogin(ctx, CompleteLoginRequest{
		SessionID: "sid-1",
		Code:      "code-ok",
		State:     begin.State,
	})
	if err != nil {
		t.Fatalf("complete login failed: %v", err)
	}

	user, err := f.users.GetByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("expected user created: %v", err)
	}
	if user.Nickname != "alice" {
		t.Fatalf("expected nickname derived from email local part, got %q", user.Nickname)
	}
	if !res.Remember {
		t.Fatalf("expected remember preference honored")
	}
	if res.RedirectURL != "/" {
		t.Fatalf("expected home redirect without next, got %q", res.RedirectURL)
	}

	bound, ok, _ := f.sessions.Get(ctx, "sid-1", ports.SessionKeyUserID)
	if !ok || bound != user.UserID.String() {
		t.Fatalf("expected session bound to user, got %q ok=%v", bound, ok)
	}
}

func TestCompleteLoginPrefersAssertedNickname(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.provider.identity = ports.Identity{Subject: "sub-1", Email: "alice@example.com", Nickname: "Alice W"}
	begin, _ := f.service.BeginLogin(ctx, BeginLoginRequest{SessionID: "sid-1", Locator: "https://provider.example"})
	if _, err := f.service.CompleteLogin(ctx, CompleteLoginRequest{SessionID: "sid-1", Code: "code-ok", State: begin.State}); err != nil {
		t.Fatalf("complete login failed: %v", err)
	}

	user, err := f.users.GetByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("expected user created: %v", err)
	}
	if user.Nickname != "Alice W" {
		t.Fatalf("expected asserted nickname, got %q", user.Nickname)
	}
}

func TestCompleteLoginMissingEmailCreatesNoUser(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.provider.identity = ports.Identity{Subject: "sub-1", Email: ""}
	begin, _ := f.service.BeginLogin(ctx, BeginLoginRequest{SessionID: "sid-1", Locator: "https://provider.example"})

	_, err := f.service.CompleteLogin(ctx, CompleteLoginRequest{SessionID: "sid-1", Code: "code-ok", State: begin.State})
	if !errors.Is(err, domain.ErrIdentityIncomplete) {
		t.Fatalf("expected ErrIdentityIncomplete, got %v", err)
	}
	if f.users.count() != 0 {
		t.Fatalf("no user may be created for an email-less identity")
	}

	flash, err := f.service.PopFlash(ctx, "sid-1")
	if err != nil {
		t.Fatalf("pop flash failed: %v", err)
	}
	if flash != WarnInvalidLogin {
		t.Fatalf("expected %q flash, got %q", WarnInvalidLogin, flash)
	}
	if again, _ := f.service.PopFlash(ctx, "sid-1"); again != "" {
		t.Fatalf("flash must be single-use, got %q", again)
	}
}

func TestCompleteLoginBindsExistingUser(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	existing, err := f.users.Create(ctx, ports.CreateUserParams{
		Nickname:     "alice",
		Email:        "alice@example.com",
		CreatedAtUTC: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}

	f.provider.identity = ports.Identity{Subject: "sub-1", Email: "alice@example.com", Nickname: "Different Name"}
	begin, _ := f.service.BeginLogin(ctx, BeginLoginRequest{SessionID: "sid-1", Locator: "https://provider.example"})
	res, err := f.service.CompleteLogin(ctx, CompleteLoginRequest{SessionID: "sid-1", Code: "code-ok", State: begin.State})
	if err != nil {
		t.Fatalf("complete login failed: %v", err)
	}
	if f.users.count() != 1 {
		t.Fatalf("expected no duplicate user, have %d", f.users.count())
	}
	if res.UserID != existing.UserID.String() {
		t.Fatalf("expected session bound to existing user")
	}
}

func TestCompleteLoginRetriesLookupOnCreateConflict(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	// Simulate a concurrent first login: the insert loses the race and the
	// winner's row must be adopted.
	f.users.conflictOnce = true
	f.provider.identity = ports.Identity{Subject: "sub-1", Email: "bob@example.com"}
	begin, _ := f.service.BeginLogin(ctx, BeginLoginRequest{SessionID: "sid-1", Locator: "https://provider.example"})

	res, err := f.service.CompleteLogin(ctx, CompleteLoginRequest{SessionID: "sid-1", Code: "code-ok", State: begin.State})
	if err != nil {
		t.Fatalf("complete login failed: %v", err)
	}
	if f.users.count() != 1 {
		t.Fatalf("expected exactly one user after conflict retry, have %d", f.users.count())
	}
	winner, _ := f.users.GetByEmail(ctx, "bob@example.com")
	if res.UserID != winner.UserID.String() {
		t.Fatalf("expected session bound to the winning row")
	}
}

func TestRememberFlagIsSingleUse(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.provider.identity = ports.Identity{Subject: "sub-1", Email: "alice@example.com"}
	begin, _ := f.service.BeginLogin(ctx, BeginLoginRequest{SessionID: "sid-1", Locator: "https://provider.example", Remember: true})
	if _, err := f.service.CompleteLogin(ctx, CompleteLoginRequest{SessionID: "sid-1", Code: "code-ok", State: begin.State}); err != nil {
		t.Fatalf("complete login failed: %v", err)
	}

	if _, ok, _ := f.sessions.Get(ctx, "sid-1", ports.SessionKeyRemember); ok {
		t.Fatalf("remember flag must be absent after reconciliation")
	}
}

func TestCompleteLoginHonorsNext(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.provider.identity = ports.Identity{Subject: "sub-1", Email: "alice@example.com"}
	begin, _ := f.service.BeginLogin(ctx, BeginLoginRequest{
		SessionID: "sid-1",
		Locator:   "https://provider.example",
		Next:      "/reports/42",
	})
	res, err := f.service.CompleteLogin(ctx, CompleteLoginRequest{SessionID: "sid-1", Code: "code-ok", State: begin.State})
	if err != nil {
		t.Fatalf("complete login failed: %v", err)
	}
	if res.RedirectURL != "/reports/42" {
		t.Fatalf("expected next honored, got %q", res.RedirectURL)
	}
}

func TestCompleteLoginRejectsReplayedState(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.provider.identity = ports.Identity{Subject: "sub-1", Email: "alice@example.com"}
	begin, _ := f.service.BeginLogin(ctx, BeginLoginRequest{SessionID: "sid-1", Locator: "https://provider.example"})
	if _, err := f.service.CompleteLogin(ctx, CompleteLoginRequest{SessionID: "sid-1", Code: "code-ok", State: begin.State}); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}
	if _, err := f.service.CompleteLogin(ctx, CompleteLoginRequest{SessionID: "sid-1", Code: "code-ok", State: begin.State}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized on replayed state, got %v", err)
	}
}

func TestCompleteLoginRejectsForeignSessionState(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	begin, _ := f.service.BeginLogin(ctx, BeginLoginRequest{SessionID: "sid-1", Locator: "https://provider.example"})
	if _, err := f.service.CompleteLogin(ctx, CompleteLoginRequest{SessionID: "sid-other", Code: "code-ok", State: begin.State}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for state issued to another session, got %v", err)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.provider.identity = ports.Identity{Subject: "sub-1", Email: "alice@example.com"}
	begin, _ := f.service.BeginLogin(ctx, BeginLoginRequest{SessionID: "sid-1", Locator: "https://provider.example"})
	if _, err := f.service.CompleteLogin(ctx, CompleteLoginRequest{SessionID: "sid-1", Code: "code-ok", State: begin.State}); err != nil {
		t.Fatalf("complete login failed: %v", err)
	}
	if user, _ := f.service.CurrentUser(ctx, "sid-1"); user == nil {
		t.Fatalf("expected authenticated identity before logout")
	}

	if err := f.service.Logout(ctx, "sid-1"); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if user, _ := f.service.CurrentUser(ctx, "sid-1"); user != nil {
		t.Fatalf("expected anonymous identity after logout")
	}

	// Logout stays a no-op on an already anonymous session.
	if err := f.service.Logout(ctx, "sid-1"); err != nil {
		t.Fatalf("repeated logout failed: %v", err)
	}
}

func TestCurrentUserClearsStaleReference(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	_ = f.sessions.Set(ctx, "sid-1", ports.SessionKeyUserID, uuid.NewString())
	user, err := f.service.CurrentUser(ctx, "sid-1")
	if err != nil {
		t.Fatalf("current user failed: %v", err)
	}
	if user != nil {
		t.Fatalf("expected anonymous for unknown user reference")
	}
	if _, ok, _ := f.sessions.Get(ctx, "sid-1", ports.SessionKeyUserID); ok {
		t.Fatalf("expected stale user reference removed")
	}
}

type fixture struct {
	service  *Service
	users    *fakeUsers
	sessions *fakeSessions
	states   *fakeStates
	provider *fakeProvider
}

func newFixture() *fixture {
	users := &fakeUsers{byEmail: map[string]domain.User{}, byID: map[uuid.UUID]domain.User{}}
	sessions := &fakeSessions{items: map[string]map[string]string{}}
	states := &fakeStates{items: map[string]ports.HandshakeState{}}
	provider := &fakeProvider{
		identity: ports.Identity{Subject: "sub-1", Email: "alice@example.com"},
	}

	svc := NewService(Dependencies{
		Config: Config{
			BaseURL:      "http://localhost:8080",
			SessionTTL:   24 * time.Hour,
			RememberTTL:  30 * 24 * time.Hour,
			HandshakeTTL: 10 * time.Minute,
		},
		Users:    users,
		Sessions: sessions,
		States:   states,
		Provider: provider,
	})

	return &fixture{service: svc, users: users, sessions: sessions, states: states, provider: provider}
}

type fakeUsers struct {
	mu           sync.Mutex
	byEmail      map[string]domain.User
	byID         map[uuid.UUID]domain.User
	conflictOnce bool
}

func (f *fakeUsers) Create(_ context.Context, params ports.CreateUserParams) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflictOnce {
		// The concurrent winner's row appears before the conflict surfaces.
		f.conflictOnce = false
		winner := domain.User{
			UserID:    uuid.New(),
			Nickname:  params.Nickname,
			Email:     params.Email,
			CreatedAt: params.CreatedAtUTC,
			UpdatedAt: params.CreatedAtUTC,
		}
		f.byEmail[winner.Email] = winner
		f.byID[winner.UserID] = winner
		return domain.User{}, domain.ErrConflict
	}
	if _, ok := f.byEmail[params.Email]; ok {
		return domain.User{}, domain.ErrConflict
	}
	u := domain.User{
		UserID:    uuid.New(),
		Nickname:  params.Nickname,
		Email:     params.Email,
		CreatedAt: params.CreatedAtUTC,
		UpdatedAt: params.CreatedAtUTC,
	}
	f.byEmail[u.Email] = u
	f.byID[u.UserID] = u
	return u, nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[email]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByID(_ context.Context, userID uuid.UUID) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byID[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byEmail)
}

type fakeSessions struct {
	mu    sync.Mutex
	items map[string]map[string]string
}

func (f *fakeSessions) Get(_ context.Context, sessionID, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[sessionID][key]
	return v, ok, nil
}

func (f *fakeSessions) Set(_ context.Context, sessionID, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.items[sessionID] == nil {
		f.items[sessionID] = map[string]string{}
	}
	f.items[sessionID][key] = value
	return nil
}

func (f *fakeSessions) Remove(_ context.Context, sessionID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items[sessionID], key)
	return nil
}

func (f *fakeSessions) Take(_ context.Context, sessionID, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[sessionID][key]
	if ok {
		delete(f.items[sessionID], key)
	}
	return v, ok, nil
}

func (f *fakeSessions) ExpireAfter(_ context.Context, _ string, _ time.Duration) error { return nil }

func (f *fakeSessions) Destroy(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, sessionID)
	return nil
}

type fakeStates struct {
	mu    sync.Mutex
	items map[string]ports.HandshakeState
}

func (f *fakeStates) Put(_ context.Context, state string, value ports.HandshakeState, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[state] = value
	return nil
}

func (f *fakeStates) Get(_ context.Context, state string) (*ports.HandshakeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.items[state]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (f *fakeStates) Delete(_ context.Context, state string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, state)
	return nil
}

type fakeProvider struct {
	mu             sync.Mutex
	identity       ports.Identity
	authorizeErr   error
	exchangeErr    error
	authorizeCalls int
	exchangeCalls  int
}

func (f *fakeProvider) BuildAuthorizeURL(_ context.Context, issuer, redirectURI, state, nonce, codeChallenge string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorizeCalls++
	if f.authorizeErr != nil {
		return "", f.authorizeErr
	}
	return issuer + "/authorize?client_id=portal&redirect_uri=" + redirectURI +
		"&state=" + state + "&nonce=" + nonce + "&code_challenge=" + codeChallenge, nil
}

func (f *fakeProvider) ExchangeCode(_ context.Context, _, code, _, _, _ string) (ports.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchangeCalls++
	if f.exchangeErr != nil {
		return ports.Identity{}, f.exchangeErr
	}
	if code != "code-ok" {
		return ports.Identity{}, fmt.Errorf("unknown code %q", code)
	}
	return f.identity, nil
}
