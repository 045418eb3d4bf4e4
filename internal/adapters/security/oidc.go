package security

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gatekit/portal/internal/ports"
)

type OIDCProviderConfig struct {
	HTTPClient   *http.Client
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// OIDCProvider runs the OpenID handshake against whatever issuer the login
// form submitted: discovery, authorize-URL construction, code exchange and
// id_token validation. Nothing about the issuer is cached between calls.
type OIDCProvider struct {
	httpClient   *http.Client
	clientID     string
	clientSecret string
	scopes       []string
}

type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	IDToken     string `json:"id_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

func NewOIDCProvider(cfg OIDCProviderConfig) *OIDCProvider {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return &OIDCProvider{
		httpClient:   httpClient,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		scopes:       scopes,
	}
}

// NormalizeIssuer validates the user-submitted locator before any network
// round-trip. A locator that fails here means the handshake cannot start.
func NormalizeIssuer(locator string) (string, error) {
	trimmed := strings.TrimSpace(locator)
	if trimmed == "" {
		return "", fmt.Errorf("identity locator is required")
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid identity locator: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", fmt.Errorf("identity locator must be an http(s) URL")
	}
	if u.Host == "" {
		return "", fmt.Errorf("identity locator has no host")
	}
	return strings.TrimRight(trimmed, "/"), nil
}

func (p *OIDCProvider) BuildAuthorizeURL(ctx context.Context, issuer, redirectURI, state, nonce, codeChallenge string) (string, error) {
	if strings.TrimSpace(redirectURI) == "" || strings.TrimSpace(state) == "" || strings.TrimSpace(nonce) == "" {
		return "", fmt.Errorf("redirect_uri, state and nonce are required")
	}
	if _, err := url.ParseRequestURI(redirectURI); err != nil {
		return "", fmt.Errorf("invalid redirect_uri: %w", err)
	}

	discovery, err := p.discover(ctx, issuer)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", p.clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(p.scopes, " "))
	q.Set("state", state)
	q.Set("nonce", nonce)
	if strings.TrimSpace(codeChallenge) != "" {
		q.Set("code_challenge", strings.TrimSpace(codeChallenge))
		q.Set("code_challenge_method", "S256")
	}

	return discovery.AuthorizationEndpoint + "?" + q.Encode(), nil
}

func (p *OIDCProvider) ExchangeCode(ctx context.Context, issuer, code, redirectURI, nonce, codeVerifier string) (ports.Identity, error) {
	if strings.TrimSpace(code) == "" {
		return ports.Identity{}, fmt.Errorf("authorization code is required")
	}

	discovery, err := p.discover(ctx, issuer)
	if err != nil {
		return ports.Identity{}, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", p.clientID)
	if strings.TrimSpace(p.clientSecret) != "" {
		form.Set("client_secret", p.clientSecret)
	}
	if strings.TrimSpace(redirectURI) != "" {
		form.Set("redirect_uri", redirectURI)
	}
	if strings.TrimSpace(codeVerifier) != "" {
		form.Set("code_verifier", codeVerifier)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, discovery.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return ports.Identity{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ports.Identity{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ports.Identity{}, fmt.Errorf("token exchange failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tokenResp tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return ports.Identity{}, fmt.Errorf("decode token response: %w", err)
	}
	if strings.TrimSpace(tokenResp.IDToken) == "" {
		return ports.Identity{}, fmt.Errorf("id_token missing in token response")
	}

	keySet, err := p.fetchJWKS(ctx, discovery.JWKSURI)
	if err != nil {
		return ports.Identity{}, err
	}

	return validateIDToken(tokenResp.IDToken, keySet, discovery.Issuer, p.clientID, strings.TrimSpace(nonce))
}

func (p *OIDCProvider) discover(ctx context.Context, issuer string) (discoveryDocument, error) {
	normalized, err := NormalizeIssuer(issuer)
	if err != nil {
		return discoveryDocument{}, err
	}
	discoveryURL := normalized + "/.well-known/openid-configuration"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return discoveryDocument{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return discoveryDocument{}, fmt.Errorf("discovery failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return discoveryDocument{}, fmt.Errorf("discovery failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc discoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return discoveryDocument{}, fmt.Errorf("decode discovery document: %w", err)
	}
	if strings.TrimSpace(doc.Issuer) == "" {
		doc.Issuer = normalized
	}
	if strings.TrimSpace(doc.AuthorizationEndpoint) == "" || strings.TrimSpace(doc.TokenEndpoint) == "" || strings.TrimSpace(doc.JWKSURI) == "" {
		return discoveryDocument{}, fmt.Errorf("discovery document missing required endpoints")
	}
	return doc, nil
}

func (p *OIDCProvider) fetchJWKS(ctx context.Context, jwksURI string) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("jwks fetch failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey)
	for i, key := range doc.Keys {
		if strings.ToUpper(strings.TrimSpace(key.Kty)) != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(key.N))
		if err != nil {
			return nil, fmt.Errorf("decode jwks n: %w", err)
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(key.E))
		if err != nil {
			return nil, fmt.Errorf("decode jwks e: %w", err)
		}
		eBig := new(big.Int).SetBytes(eBytes)
		if !eBig.IsInt64() {
			return nil, fmt.Errorf("invalid jwks exponent for key %s", key.Kid)
		}
		eValue := int(eBig.Int64())
		if eValue <= 1 {
			return nil, fmt.Errorf("invalid jwks exponent for key %s", key.Kid)
		}

		kid := strings.TrimSpace(key.Kid)
		if kid == "" {
			kid = fmt.Sprintf("key-%d", i)
		}
		keys[kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: eValue,
		}
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("no RSA keys found in jwks")
	}
	return keys, nil
}

func validateIDToken(raw string, keySet map[string]*rsa.PublicKey, issuer, clientID, expectedNonce string) (ports.Identity, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(
		raw,
		claims,
		func(token *jwt.Token) (any, error) {
			if token.Method.Alg() != jwt.SigningMethodRS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method: %s", token.Method.Alg())
			}
			kid, _ := token.Header["kid"].(string)
			if strings.TrimSpace(kid) != "" {
				key, ok := keySet[kid]
				if !ok {
					return nil, fmt.Errorf("unknown key id: %s", kid)
				}
				return key, nil
			}
			if len(keySet) == 1 {
				for _, key := range keySet {
					return key, nil
				}
			}
			return nil, fmt.Errorf("missing key id")
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(clientID),
		jwt.WithIssuer(issuer),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return ports.Identity{}, fmt.Errorf("validate id_token: %w", err)
	}
	if !parsed.Valid {
		return ports.Identity{}, fmt.Errorf("invalid id_token")
	}

	subject := stringClaim(claims, "sub")
	if strings.TrimSpace(subject) == "" {
		return ports.Identity{}, fmt.Errorf("id_token missing sub")
	}
	nonce := stringClaim(claims, "nonce")
	if strings.TrimSpace(expectedNonce) != "" && strings.TrimSpace(nonce) != strings.TrimSpace(expectedNonce) {
		return ports.Identity{}, fmt.Errorf("nonce mismatch")
	}

	nickname := strings.TrimSpace(stringClaim(claims, "nickname"))
	if nickname == "" {
		nickname = strings.TrimSpace(stringClaim(claims, "name"))
	}
	return ports.Identity{
		Subject:  subject,
		Email:    strings.ToLower(strings.TrimSpace(stringClaim(claims, "email"))),
		Nickname: nickname,
	}, nil
}

func stringClaim(claims jwt.MapClaims, key string) string {
	v, ok := claims[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}
