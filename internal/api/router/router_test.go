package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratlab/stratlab-be/internal/api/domain"
	"github.com/stratlab/stratlab-be/internal/api/handler"
	"github.com/stratlab/stratlab-be/internal/api/model"
	"github.com/stratlab/stratlab-be/internal/api/storage"
	"github.com/stratlab/stratlab-be/internal/api/ws"
	"github.com/stratlab/stratlab-be/internal/auth"
	"github.com/stratlab/stratlab-be/shared/logger"
)

const testSecret = "router-test-secret"

type stubStore struct{}

func (stubStore) CreateDocument(context.Context, *model.Document) error { return nil }
func (stubStore) GetDocument(context.Context, string) (*model.Document, error) {
	return nil, domain.ErrDocumentNotFound
}
func (stubStore) ListDocuments(context.Context, storage.DocumentFilter) ([]model.Document, error) {
	return nil, nil
}
func (stubStore) CreateBacktest(context.Context, *model.Backtest) error { return nil }
func (stubStore) GetBacktest(context.Context, string) (*model.Backtest, error) {
	return nil, domain.ErrBacktestNotFound
}
func (stubStore) ListBacktests(context.Context, storage.BacktestFilter) ([]model.Backtest, error) {
	return nil, nil
}
func (stubStore) GetStrategy(context.Context, string) (*model.Strategy, error) {
	return nil, domain.ErrStrategyNotFound
}
func (stubStore) ListStrategies(context.Context, string, int) ([]model.Strategy, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	nop := logger.NewNop().Logger
	verifier := auth.NewJWTVerifier(testSecret, "")
	registry := ws.NewRegistry(time.Second, nop)
	t.Cleanup(registry.CloseAll)

	return SetupRouter(&Dependencies{
		Handler: &handler.Dependencies{
			Logger: nop,
			Store:  stubStore{},
		},
		Health:   handler.NewHealthHandler("stratlab-api", nil, nil, nop),
		WS:       ws.NewHandler(registry, verifier, 4096, nop),
		Verifier: verifier,
	})
}

func mintToken(t *testing.T, secret string) string {
	t.Helper()
	claims := auth.Claims{
		UserID: "user-1",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestRouter_HealthIsPublic(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestRouter_MetricsIsPublic(t *testing.T) {
	r := newTestRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stratlab_ws_connections_active")
}

func TestRouter_APIRequiresAuth(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "not bearer", header: "Basic dXNlcjpwYXNz"},
		{name: "garbage token", header: "Bearer not.a.jwt"},
		{name: "wrong secret", header: "Bearer " + mintToken(t, "some-other-secret")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/strategies", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRouter_ValidTokenPassesThrough(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/strategies", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "strategies")
}

func TestRouter_CORSPreflights(t *testing.T) {
	r := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/documents", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
