package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// ContextKey is the key type for context values
type ContextKey string

const (
	// UserKey is the context key for the authenticated Telegram user
	UserKey ContextKey = "telegram_user"

	// InitDataHeader carries the Mini App initData on API requests
	InitDataHeader = "X-Telegram-Init-Data"

	// DefaultMaxAge is how long signed initData stays valid
	DefaultMaxAge = 24 * time.Hour
)

var (
	ErrMissingHash = errors.New("hash not found in initData")
	ErrInvalidHash = errors.New("invalid hash")
	ErrExpired     = errors.New("auth_date is too old")
)

// TelegramUser is the user object embedded in initData
type TelegramUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
}

// Validator checks Telegram Mini App initData signatures
type Validator struct {
	secret []byte
	maxAge time.Duration
	clock  clockwork.Clock
}

// NewValidator creates a validator for the given bot token
func NewValidator(botToken string, maxAge time.Duration, clock clockwork.Clock) *Validator {
	// The signing key is HMAC-SHA256 of the token keyed with "WebAppData"
	h := hmac.New(sha256.New, []byte("WebAppData"))
	h.Write([]byte(botToken))
	return &Validator{secret: h.Sum(nil), maxAge: maxAge, clock: clock}
}

// Sign returns the hash for a set of initData fields. The hash field itself is ignored.
func (v *Validator) Sign(values url.Values) string {
	keys := make([]string, 0, len(values))
	for key := range values {
		if key != "hash" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, key := range keys {
		lines = append(lines, key+"="+values.Get(key))
	}

	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

// Validate verifies the signature and age of initData and returns its user
func (v *Validator) Validate(initData string) (*TelegramUser, error) {
	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse initData: %w", err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, ErrMissingHash
	}
	if !hmac.Equal([]byte(hash), []byte(v.Sign(values))) {
		return nil, ErrInvalidHash
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid auth_date format")
	}
	if v.clock.Since(time.Unix(authDate, 0)) > v.maxAge {
		return nil, ErrExpired
	}

	userJSON := values.Get("user")
	if userJSON == "" {
		return nil, fmt.Errorf("user not found in initData")
	}
	var user TelegramUser
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, fmt.Errorf("failed to parse user: %w", err)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("user id not found")
	}
	return &user, nil
}

// Middleware rejects API requests without valid initData and stores the
// Telegram user in the request context
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth for non-API routes (static files) and the health check
		if !strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/api/ping" {
			next.ServeHTTP(w, r)
			return
		}

		initData := r.Header.Get(InitDataHeader)
		if initData == "" {
			http.Error(w, "Unauthorized: missing X-Telegram-Init-Data header", http.StatusUnauthorized)
			return
		}

		user, err := v.Validate(initData)
		if err != nil {
			log.Printf("Auth failed: %v", err)
			http.Error(w, "Unauthorized: invalid initData", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

// ContextWithUser adds the Telegram user to the context
func ContextWithUser(ctx context.Context, user *TelegramUser) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// UserFromContext retrieves the Telegram user from the context
func UserFromContext(ctx context.Context) (*TelegramUser, bool) {
	user, ok := ctx.Value(UserKey).(*TelegramUser)
	return user, ok && user != nil
}
