package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	PermissionBatchRun    = "batch.run"
	PermissionReportsView = "reports.view"
)

var allPermissions = []string{
	PermissionBatchRun,
	PermissionReportsView,
}

func unauthorized(c echo.Context, msg string) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": msg})
}

// AuthMiddleware resolves the bearer token into an AppUser. The master key
// maps to the configured master user; anything else must be a JWT signed
// by a key from app.Keyfunc.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, ok := strings.CutPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		if !ok || token == "" {
			return unauthorized(c, "Unauthorized")
		}

		ac := c.(*AppContext)
		if ac.App.isMasterKey(token) {
			ac.User = &AppUser{
				UserID:      ac.App.MasterUserID,
				Role:        ac.App.MasterUserRole,
				Permissions: allPermissions,
			}
			return next(c)
		}

		if ac.App.Keyfunc == nil {
			return unauthorized(c, "Unauthorized")
		}
		parsed, err := jwt.Parse(token, ac.App.Keyfunc)
		if err != nil || !parsed.Valid {
			return unauthorized(c, "Unauthorized")
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return unauthorized(c, "Unauthorized")
		}

		user, err := userFromClaims(claims)
		if err != nil {
			return unauthorized(c, "Invalid user ID")
		}
		ac.User = user
		return next(c)
	}
}

func (a *App) isMasterKey(token string) bool {
	return a.MasterAPIKey != "" && a.MasterUserID != 0 && a.MasterUserRole != "" && token == a.MasterAPIKey
}

// userFromClaims reads id, role and permissions. The id may be a decimal
// string or a JSON number. Role defaults to "user".
func userFromClaims(claims jwt.MapClaims) (*AppUser, error) {
	var id int64
	switch v := claims["id"].(type) {
	case string:
		parsed, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, err
		}
		id = parsed
	case float64:
		id = int64(v)
	default:
		return nil, fmt.Errorf("missing id claim")
	}

	role, _ := claims["role"].(string)
	if role == "" {
		role = "user"
	}

	var perms []string
	raw, _ := claims["permissions"].([]any)
	for _, p := range raw {
		if s, ok := p.(string); ok {
			perms = append(perms, s)
		}
	}

	return &AppUser{UserID: int32(id), Role: role, Permissions: perms}, nil
}
