package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/utafrali/catalogsearch/pkg/httputil"
)

type contextKeyType string

const (
	subjectKey contextKeyType = "subject"
	roleKey    contextKeyType = "role"
)

// Roles allowed to trigger reindexing and other index maintenance.
const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Claims identifies the caller of a protected endpoint.
type Claims struct {
	Subject string
	Role    string
}

// TokenValidator checks a bearer token and returns the caller's claims.
type TokenValidator func(token string) (*Claims, error)

// ErrInvalidToken is returned by validators for unknown tokens.
var ErrInvalidToken = errors.New("invalid token")

// StaticTokenValidator accepts exactly one shared operator token. Tokens are
// compared in constant time.
func StaticTokenValidator(token string) TokenValidator {
	want := []byte(token)
	return func(got string) (*Claims, error) {
		if len(want) == 0 || subtle.ConstantTimeCompare(want, []byte(got)) != 1 {
			return nil, ErrInvalidToken
		}
		return &Claims{Subject: "operator-token", Role: RoleOperator}, nil
	}
}

// accessClaims are the claims of access tokens issued by the user service.
type accessClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWTValidator accepts HS256 access tokens issued with secret. Expiry is
// enforced and the subject falls back to the sub claim.
func JWTValidator(secret string) TokenValidator {
	key := []byte(secret)
	return func(tokenString string) (*Claims, error) {
		if len(key) == 0 {
			return nil, ErrInvalidToken
		}

		var claims accessClaims
		token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			return nil, errors.Join(ErrInvalidToken, err)
		}

		subject := claims.UserID
		if subject == "" {
			subject = claims.Subject
		}
		return &Claims{Subject: subject, Role: claims.Role}, nil
	}
}

// AnyValidator tries validators in order and returns the first success.
func AnyValidator(validators ...TokenValidator) TokenValidator {
	return func(token string) (*Claims, error) {
		for _, validate := range validators {
			if claims, err := validate(token); err == nil {
				return claims, nil
			}
		}
		return nil, ErrInvalidToken
	}
}

// Auth requires an "Authorization: Bearer <token>" header accepted by
// validate and stores the resulting claims in the request context.
func Auth(validate TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
				writeDenied(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or malformed bearer token")
				return
			}

			claims, err := validate(token)
			if err != nil {
				writeDenied(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), subjectKey, claims.Subject)
			ctx = context.WithValue(ctx, roleKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	roleSet := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		roleSet[r] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := roleSet[RoleFromContext(r.Context())]; !ok {
				writeDenied(w, http.StatusForbidden, "FORBIDDEN", "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey).(string)
	return s
}

// RoleFromContext returns the authenticated role, if any.
func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(roleKey).(string)
	return role
}

func writeDenied(w http.ResponseWriter, status int, code, message string) {
	httputil.WriteJSON(w, status, httputil.Response{
		Error: &httputil.ErrorResponse{Code: code, Message: message},
	})
}
