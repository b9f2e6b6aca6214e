package auth

import (
	"context"
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

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testProject = "assignly-test"

type jwksServer struct {
	srv   *httptest.Server
	hits  atomic.Int32
	keys  map[string]*rsa.PrivateKey
	order []string
}

func newJWKSServer(t *testing.T, kids ...string) *jwksServer {
	t.Helper()
	s := &jwksServer{keys: map[string]*rsa.PrivateKey{}}
	for _, kid := range kids {
		s.addKey(t, kid)
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		type jwk struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		}
		out := struct {
			Keys []jwk `json:"keys"`
		}{}
		for _, kid := range s.order {
			pub := s.keys[kid].PublicKey
			out.Keys = append(out.Keys, jwk{
				Kty: "RSA",
				Kid: kid,
				N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			})
		}
		w.Header().Set("Cache-Control", "public, max-age=3600")
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *jwksServer) addKey(t *testing.T, kid string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	s.keys[kid] = key
	s.order = append(s.order, kid)
}

func (s *jwksServer) sign(t *testing.T, kid string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = kid
	out, err := tok.SignedString(s.keys[kid])
	require.NoError(t, err)
	return out
}

func validClaims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":   issuerPrefix + testProject,
		"aud":   testProject,
		"sub":   sub,
		"email": sub + "@example.com",
		"iat":   now.Add(-time.Minute).Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
}

func newTestVerifier(t *testing.T, s *jwksServer) *Verifier {
	t.Helper()
	v, err := NewVerifier(Config{ProjectID: testProject, JWKSURL: s.srv.URL})
	require.NoError(t, err)
	return v
}

func TestVerifyValidToken(t *testing.T) {
	s := newJWKSServer(t, "k1")
	v := newTestVerifier(t, s)

	id, err := v.Verify(context.Background(), s.sign(t, "k1", validClaims("student-1")))
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "student-1", Email: "student-1@example.com"}, id)

	_, err = v.Verify(context.Background(), s.sign(t, "k1", validClaims("student-2")))
	require.NoError(t, err)
	assert.EqualValues(t, 1, s.hits.Load(), "jwks should be cached")
}

func TestVerifyRejections(t *testing.T) {
	s := newJWKSServer(t, "k1")
	v := newTestVerifier(t, s)

	wrongAud := validClaims("u")
	wrongAud["aud"] = "other-project"
	wrongIss := validClaims("u")
	wrongIss["iss"] = "https://securetoken.google.com/other"
	expired := validClaims("u")
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	noSub := validClaims("")

	cases := map[string]string{
		"empty":     "",
		"malformed": "not-a-jwt",
		"audience":  s.sign(t, "k1", wrongAud),
		"issuer":    s.sign(t, "k1", wrongIss),
		"expired":   s.sign(t, "k1", expired),
		"subject":   s.sign(t, "k1", noSub),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), token)
			assert.ErrorIs(t, err, ErrUnauthenticated)
		})
	}
}

func TestVerifyRefreshesOnUnknownKid(t *testing.T) {
	s := newJWKSServer(t, "k1")
	v := newTestVerifier(t, s)

	_, err := v.Verify(context.Background(), s.sign(t, "k1", validClaims("u")))
	require.NoError(t, err)

	s.addKey(t, "k2")
	id, err := v.Verify(context.Background(), s.sign(t, "k2", validClaims("rotated")))
	require.NoError(t, err)
	assert.Equal(t, "rotated", id.UserID)
	assert.EqualValues(t, 2, s.hits.Load())
}

func TestUnknownKidRefreshIsThrottled(t *testing.T) {
	s := newJWKSServer(t, "k1")
	v := newTestVerifier(t, s)
	now := time.Now()
	v.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := v.Verify(ctx, s.sign(t, "k1", validClaims("u")))
	require.NoError(t, err)
	require.EqualValues(t, 1, s.hits.Load())

	forged := newJWKSServer(t, "ghost-1", "ghost-2", "ghost-3")
	for i := 0; i < 20; i++ {
		kid := forged.order[i%len(forged.order)]
		_, err := v.Verify(ctx, forged.sign(t, kid, validClaims("u")))
		assert.ErrorIs(t, err, ErrUnauthenticated)
	}
	assert.EqualValues(t, 2, s.hits.Load(), "one forced refresh per interval")

	now = now.Add(defaultMinRefreshInterval + time.Second)
	_, err = v.Verify(ctx, forged.sign(t, "ghost-1", validClaims("u")))
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.EqualValues(t, 3, s.hits.Load())

	_, err = v.Verify(ctx, s.sign(t, "k1", validClaims("u")))
	require.NoError(t, err)
	assert.EqualValues(t, 3, s.hits.Load())
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	s := newJWKSServer(t, "k1")
	v := newTestVerifier(t, s)

	other := newJWKSServer(t, "k1")
	_, err := v.Verify(context.Background(), other.sign(t, "k1", validClaims("u")))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestParseCacheMaxAge(t *testing.T) {
	assert.Equal(t, 20*time.Second, parseCacheMaxAge("public, max-age=20, must-revalidate"))
	assert.Equal(t, time.Duration(0), parseCacheMaxAge("no-cache"))
	assert.Equal(t, time.Duration(0), parseCacheMaxAge(""))
}

func TestNewVerifierRequiresConfig(t *testing.T) {
	_, err := NewVerifier(Config{JWKSURL: "http://x"})
	assert.Error(t, err)
	_, err = NewVerifier(Config{ProjectID: "p"})
	assert.Error(t, err)
}
