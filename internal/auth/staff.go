package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const staffIDKey contextKey = "staff_id"

// StaffClaims are carried by gate staff tokens. Staff tokens are issued
// by this service, signed HS256, and are separate from buyer OIDC tokens.
type StaffClaims struct {
	GateEntryID string `json:"gate_entry_id,omitempty"`
	jwt.RegisteredClaims
}

// IssueStaffToken signs a short-lived token for a gate operator.
func IssueStaffToken(secret, staffID, gateEntryID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("staff JWT secret not configured")
	}
	now := time.Now()
	claims := StaffClaims{
		GateEntryID: gateEntryID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   staffID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "tiketku",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseStaffToken validates a staff token and returns its claims.
func ParseStaffToken(secret, tokenString string) (*StaffClaims, error) {
	claims := &StaffClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse staff token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid staff token")
	}
	return claims, nil
}

// RequireStaff guards gate endpoints with a staff token.
func RequireStaff(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			claims, err := ParseStaffToken(secret, tokenString)
			if err != nil {
				http.Error(w, "invalid staff token", http.StatusUnauthorized)
				return
			}
			ctx := WithUserID(r.Context(), claims.Subject)
			ctx = WithStaffID(ctx, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WithStaffID(ctx context.Context, staffID string) context.Context {
	return context.WithValue(ctx, staffIDKey, staffID)
}

// StaffID returns the authenticated staff ID from the request context.
func StaffID(ctx context.Context) string {
	if id, ok := ctx.Value(staffIDKey).(string); ok {
		return id
	}
	return ""
}
