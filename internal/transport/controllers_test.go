package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"spotbot-core/internal/engine"
	"spotbot-core/internal/events"
	"spotbot-core/internal/model"
	"spotbot-core/pkg/db"
	"spotbot-core/pkg/exchange/mock"

	"github.com/gin-gonic/gin"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	bus := events.NewBus()
	eng := engine.New(mock.New(), database.Queries(nil), bus, nil, nil)
	if err := eng.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	secret := "test-secret"
	token, err := MintOperatorToken(secret, time.Hour)
	if err != nil {
		t.Fatalf("MintOperatorToken: %v", err)
	}

	srv := NewServer(bus, eng, nil, SystemMeta{ExchangeID: "mock"}, secret, 1000, 1000)
	return srv, token
}

func TestHealthIsUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGetStatusWithValidToken(t *testing.T) {
	srv, token := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPostCommandStartsEngine(t *testing.T) {
	srv, token := newTestServer(t)
	body, _ := json.Marshal(commandRequest{Command: "START_BOT"})
	req := httptest.NewRequest(http.MethodPost, "/api/commands", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if srv.Engine.Status() != model.StatusRunning {
		t.Fatalf("expected engine RUNNING, got %s", srv.Engine.Status())
	}
	srv.Engine.Stop(true)
}

func TestPutSettingsRejectsInvalidSnapshot(t *testing.T) {
	srv, token := newTestServer(t)
	bad := model.DefaultSettings()
	bad.SMAShortPeriod = bad.SMALongPeriod // violates smaShort < smaLong
	body, _ := json.Marshal(bad)
	req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}
