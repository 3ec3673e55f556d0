package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	// WorkspaceHeader and UserHeader identify the caller when dev headers are allowed
	WorkspaceHeader = "X-Workspace-ID"
	UserHeader      = "X-User-ID"

	workspaceContextKey = "workspace_id"
	userContextKey      = "user_id"
)

// AuthConfig controls how requests are mapped to a workspace
type AuthConfig struct {
	JWTSecret string
	// AllowDevHeaders accepts X-Workspace-ID/X-User-ID without a token.
	AllowDevHeaders bool
}

// Claims carries the caller's workspace; the user is the subject
type Claims struct {
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}

// RequireWorkspace resolves the caller's workspace and user from a bearer
// token, or from an access_token query parameter for websocket clients.
func RequireWorkspace(cfg AuthConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString, err := bearerToken(c)
			if err != nil {
				return err
			}

			if tokenString != "" {
				claims, err := ParseToken(cfg.JWTSecret, tokenString)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
				}
				c.Set(workspaceContextKey, claims.WorkspaceID)
				c.Set(userContextKey, claims.Subject)
				return next(c)
			}

			if cfg.AllowDevHeaders {
				if ws := strings.TrimSpace(c.Request().Header.Get(WorkspaceHeader)); ws != "" {
					user := strings.TrimSpace(c.Request().Header.Get(UserHeader))
					if user == "" {
						user = "dev"
					}
					c.Set(workspaceContextKey, ws)
					c.Set(userContextKey, user)
					return next(c)
				}
			}

			return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
		}
	}
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get("Authorization")
	if authHeader == "" {
		return c.QueryParam("access_token"), nil
	}
	tokenParts := strings.Split(authHeader, " ")
	if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
	}
	return tokenParts[1], nil
}

// ParseToken validates an HMAC-signed token and its workspace and subject claims
func ParseToken(secret, tokenString string) (*Claims, error) {
	if secret == "" {
		return nil, errors.New("jwt secret not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.WorkspaceID == "" {
		return nil, errors.New("token has no workspace_id claim")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// IssueToken signs a token for userID in workspaceID
func IssueToken(secret, workspaceID, userID string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := Claims{
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func workspaceID(c echo.Context) string {
	v, _ := c.Get(workspaceContextKey).(string)
	return v
}

func userID(c echo.Context) string {
	v, _ := c.Get(userContextKey).(string)
	return v
}
