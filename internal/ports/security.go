package ports

import "context"

// Identity is the provider-asserted result of a completed handshake.
// Email and Nickname may both be empty; the reconciler decides what that
// means.
type Identity struct {
	Subject  string
	Email    string
	Nickname string
}

// IdentityProvider performs the external OpenID handshake. The issuer is
// the locator submitted on the login form, so both calls take it explicitly
// rather than binding to a fixed provider.
type IdentityProvider interface {
	BuildAuthorizeURL(ctx context.Context, issuer, redirectURI, state, nonce, codeChallenge string) (string, error)
	ExchangeCode(ctx context.Context, issuer, code, redirectURI, nonce, codeVerifier string) (Identity, error)
}
