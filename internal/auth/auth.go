package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrTokenNotFound = errors.New("account token not found")

// Token is a platform-issued bearer token tied to one account. Accounts
// themselves are owned by the identity subsystem; this service only resolves
// tokens to account IDs.
type Token struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	TokenHash string    `json:"token_hash"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (t *Token) MarshalBinary() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (t *Token) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, t)
}

type Store interface {
	GetByToken(ctx context.Context, token string) (*Token, error)
	Create(ctx context.Context, token *Token) error
	Revoke(ctx context.Context, tokenID string) error
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	accountIDKey contextKey = "account_id"
	tokenIDKey   contextKey = "token_id"
	requestIDKey contextKey = "request_id"
)

func NewMiddleware(store Store, cache *redis.Client) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			// Generate RequestID
			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			// Extract Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
				http.Error(w, "Unauthorized: missing or invalid Authorization header", http.StatusUnauthorized)
				return
			}
			rawToken := strings.TrimPrefix(authHeader, "Bearer ")

			// Hash token for Redis lookup
			h := sha256.New()
			h.Write([]byte(rawToken))
			tokenHash := hex.EncodeToString(h.Sum(nil))
			redisKey := fmt.Sprintf("auth:%s", tokenHash)

			var cached Token
			err := cache.Get(ctx, redisKey).Scan(&cached)
			if err == nil {
				// Cache hit
				ctx = context.WithValue(ctx, accountIDKey, cached.AccountID)
				ctx = context.WithValue(ctx, tokenIDKey, cached.ID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			} else if err != redis.Nil {
				log.Printf("auth: redis error: %v", err)
			}

			// Cache miss or error: lookup in store
			token, err := store.GetByToken(ctx, rawToken)
			if err != nil {
				if errors.Is(err, ErrTokenNotFound) {
					http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
					return
				}
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			// Cache the result for 5 minutes
			_ = cache.Set(ctx, redisKey, token, 5*time.Minute).Err()

			ctx = context.WithValue(ctx, accountIDKey, token.AccountID)
			ctx = context.WithValue(ctx, tokenIDKey, token.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Helpers to extract from context
func GetAccountID(ctx context.Context) string {
	if id, ok := ctx.Value(accountIDKey).(string); ok {
		return id
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}
