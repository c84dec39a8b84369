package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		_ = json.NewEncoder(w).Encode(JWKSResponse{Keys: []JWKSKey{{
			Kty: "RSA",
			Kid: kid,
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestJWKSCache_GetKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var hits int32
	srv := jwksServer(t, "k1", &priv.PublicKey, &hits)

	cache := NewJWKSCache(srv.URL, time.Minute)
	key, err := cache.GetKey("k1")
	if err != nil {
		t.Fatalf("GetKey: %v", err)
	}
	if key.N.Cmp(priv.PublicKey.N) != 0 || key.E != priv.PublicKey.E {
		t.Error("fetched key does not match")
	}
	if _, err := cache.GetKey("k1"); err != nil {
		t.Fatalf("cached GetKey: %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Errorf("expected one fetch, got %d", hits)
	}
	if _, err := cache.GetKey("missing"); err == nil {
		t.Error("expected error for unknown kid")
	}
}

func TestJWTMiddleware_JWKS(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var hits int32
	srv := jwksServer(t, "k1", &priv.PublicKey, &hits)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims("user-9", RoleImporter))
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := runMiddleware(t, JWTConfig{JWKSURL: srv.URL}, "Bearer "+signed, okHandler); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hs := createTestToken(t, validClaims("user-9"), testSigningKey)
	err = runMiddleware(t, JWTConfig{JWKSURL: srv.URL}, "Bearer "+hs, okHandler)
	expectStatus(t, err, http.StatusUnauthorized)
}
