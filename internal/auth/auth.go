// Package auth verifies the X-API-Key header against the configured API
// key using timing-safe comparison, accepting either a plaintext key or a
// pre-hashed "$hmac-sha256$<base64>" value the way the config's API key
// field does.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/nilsbr/rushd/internal/apperr"
)

const (
	hmacPrefix  = "$hmac-sha256$"
	hmacKeyInfo = "rushd-api-key-v1"
)

// Verifier checks presented API keys against one configured value.
type Verifier struct {
	// stored is either a plaintext key or a "$hmac-sha256$..." hash.
	stored string
}

// New creates a Verifier for the configured API key value (as loaded from
// config, already possibly env-overridden). An empty stored value means
// every Verify call fails. When no API key is configured the orchestrator
// builds no Verifier at all, and the backend server then applies no key
// check.
func New(stored string) *Verifier {
	return &Verifier{stored: stored}
}

// HashKey computes the "$hmac-sha256$<base64>" form of plaintext, the
// representation that is safe to write back into the config file instead
// of the raw key.
func HashKey(plaintext string) string {
	mac := hmac.New(sha256.New, []byte(hmacKeyInfo))
	mac.Write([]byte(plaintext))
	return hmacPrefix + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided matches the configured key. Both the
// plaintext and pre-hashed paths route through an HMAC so comparison
// length never depends on the plaintext length: a plaintext stored value
// is itself HMAC'd before comparison, matching what the pre-hashed branch
// already does. subtle.ConstantTimeCompare, not ==, is used for the
// final byte comparison since both tags are the same fixed length.
func (v *Verifier) Verify(provided string) bool {
	if v.stored == "" {
		return false
	}

	if hashB64, ok := strings.CutPrefix(v.stored, hmacPrefix); ok {
		expected, err := base64.StdEncoding.DecodeString(hashB64)
		if err != nil {
			return false
		}
		return compareHMAC(expected, provided)
	}

	mac := hmac.New(sha256.New, []byte(hmacKeyInfo))
	mac.Write([]byte(v.stored))
	expected := mac.Sum(nil)
	return compareHMAC(expected, provided)
}

func compareHMAC(expectedTag []byte, provided string) bool {
	mac := hmac.New(sha256.New, []byte(hmacKeyInfo))
	mac.Write([]byte(provided))
	providedTag := mac.Sum(nil)
	return subtle.ConstantTimeCompare(expectedTag, providedTag) == 1
}

// Middleware enforces the API key on every request, reading it from the
// X-API-Key header, a "Bearer <key>" Authorization header, or an
// api_key query parameter. When the key is absent or wrong it fails closed:
// it writes a 401 response carrying apperr.ErrAuth's message itself and
// does not call next. Callers are responsible for excluding public paths
// (/api/health, the ACME well-known path) from this middleware's chain.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractKey(r)
			if key == "" || !v.Verify(key) {
				http.Error(w, apperr.ErrAuth.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); k != "" {
		return k
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("api_key")
}
