package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSecret = []byte("test-secret")

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	return tok
}

func testApp() *App {
	return &App{
		Keyfunc: func(*jwt.Token) (any, error) {
			return testSecret, nil
		},
		MasterAPIKey:   "master",
		MasterUserID:   1,
		MasterUserRole: "admin",
	}
}

func serve(app *App, header string, handlers ...echo.MiddlewareFunc) (*httptest.ResponseRecorder, *AppUser) {
	e := echo.New()
	var seen *AppUser
	h := func(c echo.Context) error {
		seen = c.(*AppContext).User
		return c.NoContent(http.StatusNoContent)
	}
	e.GET("/", h, append([]echo.MiddlewareFunc{AppContextMiddleware(app), AuthMiddleware}, handlers...)...)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec, seen
}

func TestAuthMiddleware(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	tests := []struct {
		name       string
		app        *App
		header     string
		wantStatus int
		wantUser   int32
	}{
		{name: "no header", app: testApp(), wantStatus: http.StatusUnauthorized},
		{name: "not bearer", app: testApp(), header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "master key", app: testApp(), header: "Bearer master", wantStatus: http.StatusNoContent, wantUser: 1},
		{
			name:       "valid jwt",
			app:        testApp(),
			header:     "Bearer " + signed(t, jwt.MapClaims{"id": "42", "role": "user", "exp": exp}),
			wantStatus: http.StatusNoContent,
			wantUser:   42,
		},
		{
			name:       "numeric id",
			app:        testApp(),
			header:     "Bearer " + signed(t, jwt.MapClaims{"id": 7.0, "exp": exp}),
			wantStatus: http.StatusNoContent,
			wantUser:   7,
		},
		{
			name:       "missing id",
			app:        testApp(),
			header:     "Bearer " + signed(t, jwt.MapClaims{"exp": exp}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "expired",
			app:        testApp(),
			header:     "Bearer " + signed(t, jwt.MapClaims{"id": "42", "exp": time.Now().Add(-time.Hour).Unix()}),
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "jwt disabled",
			app:        &App{MasterAPIKey: "master", MasterUserID: 1, MasterUserRole: "admin"},
			header:     "Bearer " + signed(t, jwt.MapClaims{"id": "42", "exp": exp}),
			wantStatus: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, user := serve(tt.app, tt.header)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantUser != 0 && (user == nil || user.UserID != tt.wantUser) {
				t.Fatalf("expected user %d, got %+v", tt.wantUser, user)
			}
		})
	}
}

func TestRequirePermission(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	tests := []struct {
		name       string
		claims     jwt.MapClaims
		wantStatus int
	}{
		{name: "granted", claims: jwt.MapClaims{"id": "2", "permissions": []any{PermissionBatchRun}, "exp": exp}, wantStatus: http.StatusNoContent},
		{name: "admin gets all", claims: jwt.MapClaims{"id": "2", "role": "admin", "exp": exp}, wantStatus: http.StatusNoContent},
		{name: "missing", claims: jwt.MapClaims{"id": "2", "permissions": []any{PermissionReportsView}, "exp": exp}, wantStatus: http.StatusForbidden},
		{name: "operator role", claims: jwt.MapClaims{"id": "2", "role": "operator", "exp": exp}, wantStatus: http.StatusNoContent},
		{name: "analyst role", claims: jwt.MapClaims{"id": "2", "role": "analyst", "exp": exp}, wantStatus: http.StatusForbidden},
		{name: "plain user", claims: jwt.MapClaims{"id": "2", "exp": exp}, wantStatus: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := serve(testApp(), "Bearer "+signed(t, tt.claims), RequirePermission(PermissionBatchRun))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}

	rec, _ := serve(testApp(), "Bearer "+signed(t, jwt.MapClaims{"id": "2", "permissions": []any{PermissionReportsView}, "exp": exp}),
		RequireAnyPermission(PermissionBatchRun, PermissionReportsView))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
}

func TestHasPermission(t *testing.T) {
	if HasPermission(nil, PermissionReportsView) {
		t.Fatal("expected nil user to hold nothing")
	}
	analyst := &AppUser{UserID: 3, Role: "analyst"}
	if !HasPermission(analyst, PermissionReportsView) || HasPermission(analyst, PermissionBatchRun) {
		t.Fatalf("expected analyst to view reports only, got %+v", analyst)
	}
	if !HasAnyPermission(analyst, PermissionBatchRun, PermissionReportsView) {
		t.Fatal("expected analyst to match one of the permissions")
	}
	if HasAnyPermission(analyst) {
		t.Fatal("expected no match for an empty permission list")
	}
}
