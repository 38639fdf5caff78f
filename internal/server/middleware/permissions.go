package middleware

import (
	"net/http"
	"slices"

	"github.com/labstack/echo/v4"
)

// roleGrants are the permissions a role holds without listing them in
// the token.
var roleGrants = map[string][]string{
	"admin":    allPermissions,
	"operator": {PermissionBatchRun, PermissionReportsView},
	"analyst":  {PermissionReportsView},
}

// HasPermission reports whether user holds permission through the token
// or through its role.
func HasPermission(user *AppUser, permission string) bool {
	if user == nil {
		return false
	}
	return slices.Contains(user.Permissions, permission) ||
		slices.Contains(roleGrants[user.Role], permission)
}

func HasAnyPermission(user *AppUser, permissions ...string) bool {
	return slices.ContainsFunc(permissions, func(p string) bool {
		return HasPermission(user, p)
	})
}

// RequirePermission rejects users without permission with 403.
func RequirePermission(permission string) echo.MiddlewareFunc {
	return requireUser(func(user *AppUser) (bool, string) {
		return HasPermission(user, permission), "Forbidden: missing permission " + permission
	})
}

// RequireAnyPermission rejects users holding none of permissions with 403.
func RequireAnyPermission(permissions ...string) echo.MiddlewareFunc {
	return requireUser(func(user *AppUser) (bool, string) {
		return HasAnyPermission(user, permissions...), "Forbidden: missing required permission"
	})
}

func requireUser(allowed func(*AppUser) (bool, string)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := c.(*AppContext).User
			if user == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}
			if ok, msg := allowed(user); !ok {
				return c.JSON(http.StatusForbidden, map[string]string{"error": msg})
			}
			return next(c)
		}
	}
}
