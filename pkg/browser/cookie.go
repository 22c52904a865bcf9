package browser

import (
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultCookieName is the cookie carrying the serialized bag.
const DefaultCookieName = "tunnel_bag"

// defaultCookieTTL bounds how long a browser bag survives without activity.
const defaultCookieTTL = 24 * time.Hour

// bagsClaim is the JWT claim holding the bucket map.
const bagsClaim = "bags"

// CookieStore mints per-request cookie-backed bags. The bag contents are
// serialized into an HS256-signed JWT so a client cannot forge or tamper
// with the session-id hint, only discard it.
type CookieStore struct {
	name       string
	signingKey []byte
	ttl        time.Duration
	secure     bool
}

// CookieStoreConfig configures a CookieStore.
type CookieStoreConfig struct {
	// Name overrides the cookie name. Defaults to DefaultCookieName.
	Name string

	// SigningKey is the HMAC key used to sign the bag. Required.
	SigningKey []byte

	// TTL bounds the cookie lifetime. Defaults to 24 hours.
	TTL time.Duration

	// Secure marks the cookie as HTTPS-only.
	Secure bool
}

// NewCookieStore creates a cookie-backed bag store.
func NewCookieStore(cfg CookieStoreConfig) (*CookieStore, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("cookie signing key is required")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultCookieName
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultCookieTTL
	}
	return &CookieStore{
		name:       cfg.Name,
		signingKey: cfg.SigningKey,
		ttl:        cfg.TTL,
		secure:     cfg.Secure,
	}, nil
}

// Load decodes the bag from the request's cookie. A missing, expired, or
// tampered cookie yields an empty bag rather than an error: the worst case
// is a fresh traversal.
func (s *CookieStore) Load(r *http.Request) *CookieBag {
	bag := &CookieBag{store: s, buckets: make(map[string]map[string]any)}

	cookie, err := r.Cookie(s.name)
	if err != nil {
		return bag
	}

	buckets, err := s.decode(cookie.Value)
	if err != nil {
		return bag
	}
	bag.buckets = buckets
	return bag
}

// decode verifies the cookie JWT and extracts the bucket map.
func (s *CookieStore) decode(value string) (map[string]map[string]any, error) {
	token, err := jwt.Parse(value, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing bag cookie: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}

	raw, ok := claims[bagsClaim].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("missing bags claim")
	}

	buckets := make(map[string]map[string]any, len(raw))
	for key, v := range raw {
		bucket, ok := v.(map[string]any)
		if !ok {
			continue
		}
		buckets[key] = bucket
	}
	return buckets, nil
}

// encode signs the bucket map into a compact JWT.
func (s *CookieStore) encode(buckets map[string]map[string]any) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat":     now.Unix(),
		"exp":     now.Add(s.ttl).Unix(),
		bagsClaim: buckets,
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("signing bag cookie: %w", err)
	}
	return signed, nil
}

// CookieBag is a Bag decoded from one request's cookie. Mutations are held
// in memory until Write emits the updated cookie on the response.
type CookieBag struct {
	store   *CookieStore
	buckets map[string]map[string]any
	dirty   bool
}

// Get returns the bucket stored under key.
func (b *CookieBag) Get(key string) (map[string]any, bool) {
	data, ok := b.buckets[key]
	return data, ok
}

// Set replaces the bucket stored under key.
func (b *CookieBag) Set(key string, data map[string]any) {
	b.buckets[key] = data
	b.dirty = true
}

// Remove deletes the bucket stored under key.
func (b *CookieBag) Remove(key string) {
	if _, ok := b.buckets[key]; !ok {
		return
	}
	delete(b.buckets, key)
	b.dirty = true
}

// Dirty reports whether the bag changed since it was loaded.
func (b *CookieBag) Dirty() bool {
	return b.dirty
}

// Write emits the updated cookie when the bag changed. Must be called
// before the response body is written.
func (b *CookieBag) Write(w http.ResponseWriter) error {
	if !b.dirty {
		return nil
	}

	value, err := b.store.encode(b.buckets)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     b.store.name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(b.store.ttl.Seconds()),
		HttpOnly: true,
		Secure:   b.store.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Verify interface compliance.
var _ Bag = (*CookieBag)(nil)
