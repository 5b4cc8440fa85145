package integration

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const signingKeyID = "inkline-test-2026"

// TestClaims describes the caller a test token is minted for. Issuer and
// Audience override the harness defaults when set.
type TestClaims struct {
	SubjectID string
	Email     string
	Role      string
	Anonymous bool
	Issuer    string
	Audience  string
}

// authClaims mirrors the access tokens issued by the hosted auth provider.
type authClaims struct {
	jwt.RegisteredClaims
	Email       string         `json:"email,omitempty"`
	Role        string         `json:"role,omitempty"`
	IsAnonymous bool           `json:"is_anonymous"`
	AppMetadata map[string]any `json:"app_metadata,omitempty"`
}

// tokenIssuer plays the auth provider. It signs RS256 tokens with a key it
// publishes on a JWKS endpoint and HS256 tokens with a shared secret.
type tokenIssuer struct {
	key      *rsa.PrivateKey
	secret   []byte
	jwks     *httptest.Server
	issuer   string
	audience string
}

func newTokenIssuer(t *testing.T) *tokenIssuer {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate RSA key: %v", err)
	}

	keySet, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kid": signingKeyID,
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	})
	if err != nil {
		t.Fatalf("encode key set: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(keySet)
	}))
	t.Cleanup(srv.Close)

	return &tokenIssuer{
		key:      key,
		secret:   []byte("integration-shared-secret"),
		jwks:     srv,
		issuer:   "https://auth.test.inkline.app/auth/v1",
		audience: "authenticated",
	}
}

func (ti *tokenIssuer) claims(c TestClaims, issuedAt time.Time, ttl time.Duration) authClaims {
	iss, aud := ti.issuer, ti.audience
	if c.Issuer != "" {
		iss = c.Issuer
	}
	if c.Audience != "" {
		aud = c.Audience
	}
	return authClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    iss,
			Subject:   c.SubjectID,
			Audience:  jwt.ClaimStrings{aud},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		},
		Email:       c.Email,
		Role:        c.Role,
		IsAnonymous: c.Anonymous,
		AppMetadata: map[string]any{"provider": "email"},
	}
}

func (ti *tokenIssuer) sign(method jwt.SigningMethod, key any, claims authClaims) string {
	token := jwt.NewWithClaims(method, claims)
	if method == jwt.SigningMethodRS256 {
		token.Header["kid"] = signingKeyID
	}
	signed, err := token.SignedString(key)
	if err != nil {
		panic("sign test token: " + err.Error())
	}
	return signed
}

// GenerateToken mints a valid RS256 token.
func (ti *tokenIssuer) GenerateToken(c TestClaims) string {
	return ti.sign(jwt.SigningMethodRS256, ti.key, ti.claims(c, time.Now(), time.Hour))
}

// GenerateExpiredToken mints an RS256 token that expired an hour ago.
func (ti *tokenIssuer) GenerateExpiredToken(c TestClaims) string {
	return ti.sign(jwt.SigningMethodRS256, ti.key, ti.claims(c, time.Now().Add(-2*time.Hour), time.Hour))
}

// GenerateHMACToken mints a valid HS256 token signed with the shared secret.
func (ti *tokenIssuer) GenerateHMACToken(c TestClaims) string {
	return ti.sign(jwt.SigningMethodHS256, ti.secret, ti.claims(c, time.Now(), time.Hour))
}

func (ti *tokenIssuer) JWKSURL() string  { return ti.jwks.URL }
func (ti *tokenIssuer) Issuer() string   { return ti.issuer }
func (ti *tokenIssuer) Audience() string { return ti.audience }
func (ti *tokenIssuer) Secret() []byte   { return ti.secret }
