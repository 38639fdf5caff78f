package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/internal/queue"
	"github.com/OFFIS-RIT/peerscope/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"
	smemory "github.com/OFFIS-RIT/peerscope/backend/pkg/store/memory"
	vmemory "github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore/memory"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"
)

const masterKey = "master"

var testSecret = []byte("test-secret")

type fakePublisher struct {
	keys []string
	msgs []queue.JobMsg
}

func (f *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	var job queue.JobMsg
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		return err
	}
	f.keys = append(f.keys, key)
	f.msgs = append(f.msgs, job)
	return nil
}

type fakeReports struct {
	reports map[string][]byte
}

func (f *fakeReports) Get(_ context.Context, kind, version string) ([]byte, error) {
	raw, ok := f.reports[kind+"/"+version]
	if !ok {
		return nil, common.ErrEntityNotFound
	}
	return raw, nil
}

func (f *fakeReports) List(_ context.Context, kind string) ([]string, error) {
	if kind == "broken" {
		return nil, errors.New("bucket gone")
	}
	var out []string
	for key := range f.reports {
		if v, ok := strings.CutPrefix(key, kind+"/"); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

func vec(id string, v ...float32) common.Entity {
	return common.Entity{ID: id, Name: id, Embedding: v}
}

// newTestServer serves two clusters {a1 a2 a3} and {b1 b2}, plus "bare"
// which has no embedding.
func newTestServer(t *testing.T, app *middleware.App) (*echo.Echo, *smemory.Store) {
	t.Helper()
	repo := smemory.New(
		vec("a1", 1, 0.1),
		vec("a2", 1, 0),
		vec("a3", 1, -0.1),
		vec("b1", -1, 0.1),
		vec("b2", -1, -0.1),
		common.Entity{ID: "bare", Description: "no vector yet"},
	)
	repo.AddTags("a1", 2024, "10-K", "FY", "A", "C")
	repo.AddTags("a2", 2024, "10-K", "FY", "A", "B")
	repo.AddTags("a3", 2024, "10-K", "FY", "A", "B")

	eng, err := engine.New(engine.DefaultConfig(), repo, repo, vmemory.NewVersions(0))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, err := eng.RecomputeCommunities(context.Background()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	app.Engine = eng
	app.MasterAPIKey = masterKey
	app.MasterUserID = 1
	app.MasterUserRole = "admin"
	app.Keyfunc = func(*jwt.Token) (any, error) { return testSecret, nil }
	return New(app, engine.NewMetrics("test", false)), repo
}

func userToken(t *testing.T, permissions ...any) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":          "7",
		"role":        "user",
		"permissions": permissions,
		"exp":         time.Now().Add(time.Hour).Unix(),
	}).SignedString(testSecret)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	return tok
}

func do(e *echo.Echo, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("expected JSON body, got %q: %v", rec.Body.String(), err)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	e, _ := newTestServer(t, &middleware.App{})

	if rec := do(e, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	do(e, http.MethodGet, "/api/entities/a1/similar", masterKey)
	rec := do(e, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "peerscope_") {
		t.Fatalf("expected peerscope metrics, got %q", rec.Body.String())
	}
}

func TestSimilarRoute(t *testing.T) {
	e, _ := newTestServer(t, &middleware.App{})

	tests := []struct {
		name       string
		target     string
		token      string
		wantStatus int
		want       []string
	}{
		{"requires auth", "/api/entities/a1/similar", "", http.StatusUnauthorized, nil},
		{"default threshold", "/api/entities/a1/similar", masterKey, http.StatusOK, []string{"a2", "a3"}},
		{"zero threshold", "/api/entities/a1/similar?threshold=0", masterKey, http.StatusOK, []string{"a2", "a3", "b1", "b2"}},
		{"truncated", "/api/entities/a1/similar?threshold=0&max_results=1", masterKey, http.StatusOK, []string{"a2"}},
		{"community filter", "/api/entities/b1/similar?threshold=0&filter_community=true", masterKey, http.StatusOK, []string{"b2"}},
		{"jwt user", "/api/entities/a1/similar", userToken(t), http.StatusOK, []string{"a2", "a3"}},
		{"unknown entity", "/api/entities/nope/similar", masterKey, http.StatusNotFound, nil},
		{"missing embedding", "/api/entities/bare/similar", masterKey, http.StatusUnprocessableEntity, nil},
		{"threshold out of range", "/api/entities/a1/similar?threshold=1.5", masterKey, http.StatusBadRequest, nil},
		{"malformed param", "/api/entities/a1/similar?max_results=many", masterKey, http.StatusBadRequest, nil},
		{"weights do not sum to one", "/api/entities/a1/similar?embedding_weight=0.9&revenue_weight=0.9", masterKey, http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodGet, tt.target, tt.token)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			var page common.SimilarityPage
			decode(t, rec, &page)
			got := make([]string, len(page.Results))
			for i, r := range page.Results {
				got[i] = r.CandidateID
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAnomaliesRoute(t *testing.T) {
	e, _ := newTestServer(t, &middleware.App{})

	t.Run("too few community peers", func(t *testing.T) {
		rec := do(e, http.MethodGet, "/api/entities/a1/anomalies?form_type=10-K", masterKey)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("form type is required", func(t *testing.T) {
		rec := do(e, http.MethodGet, "/api/entities/a1/anomalies", masterKey)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("unknown scope", func(t *testing.T) {
		rec := do(e, http.MethodGet, "/api/entities/a1/anomalies?form_type=10-K&scope=galaxy", masterKey)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("no tag set", func(t *testing.T) {
		rec := do(e, http.MethodGet, "/api/entities/a1/anomalies?form_type=10-Q&min_peers=2", masterKey)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("community peers", func(t *testing.T) {
		rec := do(e, http.MethodGet, "/api/entities/a1/anomalies?form_type=10-K&fiscal_year=2024&min_peers=2", masterKey)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var report common.AnomalyReport
		decode(t, rec, &report)
		if len(report.Missing) != 1 || report.Missing[0].Tag != "B" {
			t.Fatalf("expected missing [B], got %+v", report.Missing)
		}
		if len(report.Extra) != 1 || report.Extra[0].Tag != "C" {
			t.Fatalf("expected extra [C], got %+v", report.Extra)
		}
		if !reflect.DeepEqual(report.Summary.PeerIDs, []string{"a2", "a3"}) {
			t.Fatalf("expected peers [a2 a3], got %v", report.Summary.PeerIDs)
		}
	})

	t.Run("explicit segment", func(t *testing.T) {
		rec := do(e, http.MethodGet, "/api/entities/a1/anomalies?form_type=10-K&scope=segment&peers=a2,%20a3&min_peers=2", masterKey)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	})
}

func TestSnapshotRoute(t *testing.T) {
	e, _ := newTestServer(t, &middleware.App{})

	rec := do(e, http.MethodGet, "/api/snapshot", masterKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decode(t, rec, &body)
	if body["entities"] != float64(5) || body["communities"] != float64(2) || body["community_members"] != float64(5) {
		t.Fatalf("expected 5 entities in 2 communities, got %v", body)
	}
	if body["version"] == "" || body["version"] == "empty" {
		t.Fatalf("expected a published version, got %v", body["version"])
	}
}

func TestJobsRoute(t *testing.T) {
	t.Run("inline without broker", func(t *testing.T) {
		e, _ := newTestServer(t, &middleware.App{})
		rec := do(e, http.MethodPost, "/api/jobs/communities", masterKey)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var body struct {
			Kind   string           `json:"kind"`
			Report common.RunReport `json:"report"`
		}
		decode(t, rec, &body)
		if body.Kind != engine.KindCommunities || body.Report.Communities != 2 {
			t.Fatalf("expected a communities report with 2 communities, got %+v", body)
		}
	})

	t.Run("queued with broker", func(t *testing.T) {
		pub := &fakePublisher{}
		e, _ := newTestServer(t, &middleware.App{Queue: pub})
		rec := do(e, http.MethodPost, "/api/jobs/embed?limit=25", masterKey)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
		}
		var body map[string]string
		decode(t, rec, &body)
		if body["correlation_id"] == "" || body["queue"] != queue.EmbeddingQueue {
			t.Fatalf("expected correlation id and embedding queue, got %v", body)
		}
		if len(pub.msgs) != 1 || pub.keys[0] != queue.EmbeddingQueue {
			t.Fatalf("expected one message on %s, got %v", queue.EmbeddingQueue, pub.keys)
		}
		if msg := pub.msgs[0]; msg.Limit != 25 || msg.RequestedBy != 1 || msg.CorrelationID != body["correlation_id"] {
			t.Fatalf("unexpected job message %+v", msg)
		}
	})

	t.Run("sync overrides broker", func(t *testing.T) {
		pub := &fakePublisher{}
		e, _ := newTestServer(t, &middleware.App{Queue: pub})
		rec := do(e, http.MethodPost, "/api/jobs/revenue?sync=true", masterKey)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		if len(pub.msgs) != 0 {
			t.Fatalf("expected nothing published, got %d", len(pub.msgs))
		}
	})

	e, _ := newTestServer(t, &middleware.App{})
	tests := []struct {
		name       string
		target     string
		token      string
		wantStatus int
	}{
		{"unknown kind", "/api/jobs/rebuild", masterKey, http.StatusBadRequest},
		{"missing permission", "/api/jobs/communities", userToken(t, middleware.PermissionReportsView), http.StatusForbidden},
		{"granted permission", "/api/jobs/communities", userToken(t, middleware.PermissionBatchRun), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(e, http.MethodPost, tt.target, tt.token); rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestReportsRoutes(t *testing.T) {
	reports := &fakeReports{reports: map[string][]byte{
		"communities/v1": []byte(`{"kind":"communities","version":"v1"}`),
	}}
	e, _ := newTestServer(t, &middleware.App{Reports: reports})
	disabled, _ := newTestServer(t, &middleware.App{})

	tests := []struct {
		name       string
		e          *echo.Echo
		target     string
		token      string
		wantStatus int
		wantBody   string
	}{
		{"list", e, "/api/reports/communities", masterKey, http.StatusOK, `"versions":["v1"]`},
		{"list empty", e, "/api/reports/revenue", masterKey, http.StatusOK, `"versions":[]`},
		{"list failure", e, "/api/reports/broken", masterKey, http.StatusInternalServerError, "Internal server error"},
		{"get", e, "/api/reports/communities/v1", masterKey, http.StatusOK, `"version":"v1"`},
		{"get missing", e, "/api/reports/communities/v2", masterKey, http.StatusNotFound, ""},
		{"viewer", e, "/api/reports/communities", userToken(t, middleware.PermissionReportsView), http.StatusOK, ""},
		{"no permission", e, "/api/reports/communities", userToken(t), http.StatusForbidden, ""},
		{"archive disabled", disabled, "/api/reports/communities", masterKey, http.StatusNotFound, "not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(tt.e, http.MethodGet, tt.target, tt.token)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Fatalf("expected %q in %q", tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestSchemaRoute(t *testing.T) {
	e, _ := newTestServer(t, &middleware.App{})

	rec := do(e, http.MethodGet, "/api/schemas/similarity_page", masterKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "snapshot_version") {
		t.Fatalf("expected snapshot_version in schema, got %q", rec.Body.String())
	}
	if rec := do(e, http.MethodGet, "/api/schemas/nothing", masterKey); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
