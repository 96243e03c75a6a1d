package auth

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nlu-adapter/internal/domain"
)

const (
	defaultTokenURL = "https://oauth2.googleapis.com/token"
	platformScope   = "https://www.googleapis.com/auth/cloud-platform"
	grantType       = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// assertionTTL is the lifetime claimed by each signed assertion. The
	// assertion itself is used exactly once, immediately after signing.
	assertionTTL = time.Hour
)

// KeyError reports a credential whose private key could not be parsed or
// used for signing. The turn cannot proceed and the caller's configuration
// needs fixing; no exchange request is attempted.
type KeyError struct {
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("auth: unusable signing key: %v", e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// ExchangeError reports that the identity provider rejected the signed
// assertion or answered with an error payload.
type ExchangeError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *ExchangeError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("auth: token exchange rejected (%s): %s", e.Code, e.Description)
	}
	return fmt.Sprintf("auth: token exchange returned status %d", e.StatusCode)
}

// Minter signs a fresh bearer assertion per turn and exchanges it for an
// access token. Nothing is cached: every call pays the full signing and
// exchange cost.
type Minter struct {
	tokenURL   string
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Minter)

func WithTokenURL(tokenURL string) Option {
	return func(m *Minter) {
		m.tokenURL = strings.TrimSpace(tokenURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(m *Minter) {
		m.httpClient = httpClient
	}
}

// WithClock overrides the time source used for issued-at/expiry claims.
func WithClock(now func() time.Time) Option {
	return func(m *Minter) {
		m.now = now
	}
}

func NewMinter(opts ...Option) *Minter {
	m := &Minter{
		tokenURL:   defaultTokenURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mint signs an assertion for the credential and exchanges it for a bearer
// access token. Single attempt: any failure fails the turn.
func (m *Minter) Mint(ctx context.Context, cred domain.Credential) (string, error) {
	assertion, err := m.signAssertion(cred)
	if err != nil {
		return "", err
	}
	return m.exchange(ctx, assertion)
}

// signAssertion builds the three-part compact assertion: base64url JSON
// header and claims joined with ".", then an RSASSA-PKCS1-v1_5/SHA-256
// signature over that signing input. Uses stdlib crypto; this constrained
// shape does not need a JWT library.
func (m *Minter) signAssertion(cred domain.Credential) (string, error) {
	key, err := parsePrivateKey([]byte(cred.PrivateKeyPEM))
	if err != nil {
		return "", &KeyError{Err: err}
	}

	header := base64URLEncode([]byte(`{"alg":"RS256","typ":"JWT"}`))

	now := m.now()
	claims := struct {
		Issuer    string `json:"iss"`
		Scope     string `json:"scope"`
		Audience  string `json:"aud"`
		IssuedAt  int64  `json:"iat"`
		ExpiresAt int64  `json:"exp"`
	}{
		Issuer:    cred.ClientEmail,
		Scope:     platformScope,
		Audience:  m.tokenURL,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(assertionTTL).Unix(),
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("auth: marshal claims: %w", err)
	}

	signingInput := header + "." + base64URLEncode(claimsJSON)
	hash := sha256.Sum256([]byte(signingInput))
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, hash[:])
	if err != nil {
		return "", &KeyError{Err: err}
	}

	return signingInput + "." + base64URLEncode(signature), nil
}

// exchange posts the assertion under the JWT-bearer grant and returns the
// provider's access token.
func (m *Minter) exchange(ctx context.Context, assertion string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("assertion", assertion)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("auth: create exchange request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: token exchange request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("auth: read exchange response: %w", err)
	}

	var payload struct {
		AccessToken      string `json:"access_token"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return "", &ExchangeError{StatusCode: res.StatusCode}
		}
		return "", fmt.Errorf("auth: decode exchange response: %w", err)
	}
	if payload.Error != "" {
		return "", &ExchangeError{
			StatusCode:  res.StatusCode,
			Code:        payload.Error,
			Description: payload.ErrorDescription,
		}
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", &ExchangeError{StatusCode: res.StatusCode}
	}
	if payload.AccessToken == "" {
		return "", &ExchangeError{StatusCode: res.StatusCode, Description: "provider returned empty access token"}
	}
	return payload.AccessToken, nil
}

// parsePrivateKey decodes a PEM-encoded RSA private key. Service-account
// keys are PKCS8; PKCS1 is accepted as a fallback for keys produced by
// other tooling.
func parsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	keyInterface, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		key, pkcs1Err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if pkcs1Err != nil {
			return nil, fmt.Errorf("parsing private key: %w (also tried PKCS1: %v)", err, pkcs1Err)
		}
		return key, nil
	}
	key, ok := keyInterface.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

// base64URLEncode encodes data as base64url without padding, per RFC 7515.
func base64URLEncode(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}
