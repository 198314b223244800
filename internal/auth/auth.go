// Package auth resolves the caller of a request into a principal. Accounts
// present an HS256 JWT; anonymous students present an X-Session-Id header.
package auth

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"pantry-service/internal/apperr"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

const (
	RoleAdmin   = "admin"
	RoleStudent = "student"

	HeaderSessionID = "X-Session-Id"

	principalKey = "principal"
	tokenKey     = "user"
)

type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Principal is the resolved caller of a request.
type Principal struct {
	UserID string
	Role   string
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// IssueToken signs a token for userID valid for ttl.
func IssueToken(secret []byte, userID, role string, ttl time.Duration) (string, error) {
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// JWT returns the middleware that validates bearer tokens and rejects
// revoked ones. revoked may be nil.
func JWT(secret []byte, revoked RevocationList) echo.MiddlewareFunc {
	validate := echojwt.WithConfig(echojwt.Config{
		SigningKey: secret,
		ContextKey: tokenKey,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(Claims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return validate(func(c echo.Context) error {
			token, ok := c.Get(tokenKey).(*jwt.Token)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}
			claims, ok := token.Claims.(*Claims)
			if !ok || claims.UserID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			if revoked != nil {
				isRevoked, err := revoked.IsRevoked(c.Request().Context(), token.Raw)
				if err != nil {
					logger.Error().Err(err).Msg("Error checking token revocation")
					return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "authentication unavailable", "retryable": true})
				}
				if isRevoked {
					return c.JSON(http.StatusUnauthorized, map[string]string{"error": "token has been revoked"})
				}
			}

			c.Set(principalKey, Principal{UserID: claims.UserID, Role: claims.Role})
			return next(c)
		})
	}
}

// Session resolves an anonymous principal from the X-Session-Id header.
func Session() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := c.Request().Header.Get(HeaderSessionID)
			if id == "" {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": HeaderSessionID + " header is required"})
			}
			c.Set(principalKey, Principal{UserID: "session:" + id, Role: RoleStudent})
			return next(c)
		}
	}
}

// RequireRole lets the request through only for principals with role.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := PrincipalFrom(c)
			if !ok || p.Role != role {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "Forbidden"})
			}
			return next(c)
		}
	}
}

func PrincipalFrom(c echo.Context) (Principal, bool) {
	p, ok := c.Get(principalKey).(Principal)
	return p, ok
}

// Logout revokes the token of the current request until it expires.
func Logout(c echo.Context, revoked RevocationList) error {
	token, ok := c.Get(tokenKey).(*jwt.Token)
	if !ok {
		return apperr.Validation("no token presented")
	}
	until := time.Now().Add(24 * time.Hour)
	if exp, err := token.Claims.GetExpirationTime(); err == nil && exp != nil {
		until = exp.Time
	}
	return revoked.Revoke(c.Request().Context(), token.Raw, until)
}

// RevocationList holds tokens that were logged out before they expired.
type RevocationList interface {
	Revoke(ctx context.Context, token string, until time.Time) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

var (
	_ RevocationList = (*RedisRevocationList)(nil)
	_ RevocationList = (*MemoryRevocationList)(nil)
)

func revocationKey(token string) string {
	return "revoked-token:" + strconv.FormatUint(xxhash.Sum64String(token), 16)
}

type RedisRevocationList struct {
	rdb *redis.Client
}

func NewRedisRevocationList(rdb *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{rdb: rdb}
}

func (r *RedisRevocationList) Revoke(ctx context.Context, token string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := r.rdb.Set(ctx, revocationKey(token), "1", ttl).Err(); err != nil {
		return apperr.Unavailable(err, "revoke token")
	}
	return nil
}

func (r *RedisRevocationList) IsRevoked(ctx context.Context, token string) (bool, error) {
	err := r.rdb.Get(ctx, revocationKey(token)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Unavailable(err, "check token revocation")
	}
	return true, nil
}

// MemoryRevocationList is the single-instance fallback when Redis is not
// configured. It is emptied on restart.
type MemoryRevocationList struct {
	mu     sync.Mutex
	tokens map[string]time.Time
	now    func() time.Time
}

func NewMemoryRevocationList() *MemoryRevocationList {
	return &MemoryRevocationList{tokens: map[string]time.Time{}, now: time.Now}
}

func (r *MemoryRevocationList) Revoke(_ context.Context, token string, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[revocationKey(token)] = until
	return nil
}

func (r *MemoryRevocationList) IsRevoked(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := revocationKey(token)
	until, ok := r.tokens[key]
	if !ok {
		return false, nil
	}
	if r.now().After(until) {
		delete(r.tokens, key)
		return false, nil
	}
	return true, nil
}
