package middleware

import (
	"errors"
	"strings"

	"checkout-payments/internal/apperr"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"

	RoleAdmin = "admin"
)

type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// AuthMiddleware accepts an HS256 bearer token and puts its subject into
// the request context as the user id.
func AuthMiddleware(secret []byte) echo.MiddlewareFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(secret) == 0 {
				return apperr.New(apperr.KindUnauthorized, "authentication is not configured")
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				return apperr.New(apperr.KindUnauthorized, "missing bearer token")
			}

			var claims Claims
			_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
				return secret, nil
			})
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					return apperr.New(apperr.KindUnauthorized, "token expired")
				}
				return apperr.New(apperr.KindUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return apperr.New(apperr.KindUnauthorized, "token has no subject")
			}

			c.Set(ctxUserID, claims.Subject)
			c.Set(ctxRole, claims.Role)
			return next(c)
		}
	}
}

// RequireAdmin must run after AuthMiddleware.
func RequireAdmin() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if role, _ := c.Get(ctxRole).(string); role != RoleAdmin {
				return apperr.New(apperr.KindForbidden, "admin role required")
			}
			return next(c)
		}
	}
}

func UserID(c echo.Context) string {
	id, _ := c.Get(ctxUserID).(string)
	return id
}

// SignToken issues a token for userID. Used by tests and local tooling.
func SignToken(secret []byte, userID, role string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = userID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: role, RegisteredClaims: claims}).SignedString(secret)
}
