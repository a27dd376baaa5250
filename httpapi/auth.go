package httpapi

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "inferhub"

// Auth checks the single admin account and issues HS256 session tokens.
type Auth struct {
	username string
	hash     []byte
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewAuth creates an Auth. passwordHash is a bcrypt hash.
func NewAuth(username, passwordHash, secret string, ttl time.Duration) *Auth {
	return &Auth{
		username: username,
		hash:     []byte(passwordHash),
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}
}

// HashPassword returns the bcrypt hash to put in admin.password_hash.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("inferhub/httpapi: hash password: %w", err)
	}
	return string(h), nil
}

// Login verifies the credentials and returns a signed token and its expiry.
func (a *Auth) Login(username, password string) (string, time.Time, error) {
	// The hash is always compared so an unknown user costs as much as a wrong password.
	pwErr := bcrypt.CompareHashAndPassword(a.hash, []byte(password))
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	if pwErr != nil || !userOK {
		return "", time.Time{}, fmt.Errorf("%w: bad credentials", errUnauthorized)
	}

	now := a.now()
	expires := now.Add(a.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("inferhub/httpapi: sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify parses a bearer token and returns its subject.
func (a *Auth) Verify(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: token expired", errUnauthorized)
		}
		return "", fmt.Errorf("%w: invalid token", errUnauthorized)
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid "Bearer <token>" header.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
				Error: "authorization header must be Bearer <token>",
				Code:  "unauthorized",
			})
			return
		}
		subject, err := a.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: err.Error(), Code: "unauthorized"})
			return
		}
		c.Set("admin", subject)
		c.Next()
	}
}
