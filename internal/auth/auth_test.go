package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func signedInitData(v *Validator, authDate time.Time, userJSON string) string {
	values := url.Values{}
	values.Set("auth_date", strconv.FormatInt(authDate.Unix(), 10))
	values.Set("query_id", "AAHdF6IQAAAAAN0XohDhrOrc")
	values.Set("user", userJSON)
	values.Set("hash", v.Sign(values))
	return values.Encode()
}

func TestValidate(t *testing.T) {
	v := NewValidator("123456:TEST-TOKEN", DefaultMaxAge, clockwork.NewFakeClockAt(testNow))
	other := NewValidator("654321:OTHER-TOKEN", DefaultMaxAge, clockwork.NewFakeClockAt(testNow))
	user := `{"id":42,"first_name":"Alice","username":"alice"}`

	tests := []struct {
		name     string
		initData string
		wantErr  error
	}{
		{"valid", signedInitData(v, testNow.Add(-time.Hour), user), nil},
		{"signed with another token", signedInitData(other, testNow.Add(-time.Hour), user), ErrInvalidHash},
		{"expired", signedInitData(v, testNow.Add(-25*time.Hour), user), ErrExpired},
		{"missing hash", "auth_date=1&user=%7B%7D", ErrMissingHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.Validate(tt.initData)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate failed: %v", err)
			}
			if got.ID != 42 || got.Username != "alice" || got.FirstName != "Alice" {
				t.Errorf("Unexpected user: %+v", got)
			}
		})
	}
}

func TestValidateTamperedUser(t *testing.T) {
	v := NewValidator("123456:TEST-TOKEN", DefaultMaxAge, clockwork.NewFakeClockAt(testNow))
	values, _ := url.ParseQuery(signedInitData(v, testNow, `{"id":42}`))
	values.Set("user", `{"id":43}`)

	if _, err := v.Validate(values.Encode()); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("Expected ErrInvalidHash, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	v := NewValidator("123456:TEST-TOKEN", DefaultMaxAge, clockwork.NewFakeClockAt(testNow))
	var seen *TelegramUser
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = UserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		path     string
		initData string
		want     int
	}{
		{"static files skip auth", "/index.html", "", http.StatusOK},
		{"ping skips auth", "/api/ping", "", http.StatusOK},
		{"missing header", "/api/me", "", http.StatusUnauthorized},
		{"invalid data", "/api/me", "user=%7B%7D&hash=abc&auth_date=1", http.StatusUnauthorized},
		{"valid data", "/api/me", signedInitData(v, testNow, `{"id":7,"first_name":"Bob"}`), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.initData != "" {
				req.Header.Set(InitDataHeader, tt.initData)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("Expected status %d, got %d", tt.want, rec.Code)
			}
		})
	}

	if seen == nil || seen.ID != 7 {
		t.Errorf("Expected user 7 in context, got %+v", seen)
	}
}

func TestUserFromContextMissing(t *testing.T) {
	if _, ok := UserFromContext(context.Background()); ok {
		t.Error("Expected ok=false for missing user in context")
	}
}
