package application

import "time"

type Config struct {
	// BaseURL is the externally visible origin of this portal, used to
	// derive the handshake callback URL.
	BaseURL string
	// SessionTTL bounds a session that did not ask to be remembered.
	SessionTTL time.Duration
	// RememberTTL bounds a session whose login checked "remember me".
	RememberTTL time.Duration
	// HandshakeTTL bounds one provider round-trip.
	HandshakeTTL time.Duration
}

type BeginLoginRequest struct {
	SessionID string
	Locator   string
	Remember  bool
	Next      string
}

type BeginLoginResponse struct {
	AuthorizeURL string
	State        string
}

type CompleteLoginRequest struct {
	SessionID string
	Code      string
	State     string
}

type CompleteLoginResult struct {
	UserID      string
	Nickname    string
	Remember    bool
	RedirectURL string
}
