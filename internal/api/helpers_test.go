package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/propnest/propnest-backend/internal/notify"
	"github.com/propnest/propnest-backend/internal/service"
	"github.com/propnest/propnest-backend/internal/storage/memory"
	"github.com/propnest/propnest-backend/pkg/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testAdminToken = "admin-token-for-tests"

type nopProvider struct{}

func (nopProvider) Name() string { return "nop" }
func (nopProvider) Send(ctx context.Context, _ *notify.Message) error { return nil }

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

type testEnv struct {
	cfg      *config.Config
	store    *memory.Store
	services *service.Services
	router   *gin.Engine
	admin    *gin.Engine

	mu    sync.Mutex
	codes []string
	now   time.Time
}

func testConfig() *config.Config {
	cfg := &config.Config{
		JWT: config.JWTConfig{
			Secret:      "test-secret-key-for-testing-only",
			ExpiryHours: 1,
			Issuer:      "propnest-test",
		},
	}
	cfg.Verification.SetDefaults()
	cfg.Security.AuthRateLimit = config.AuthRateLimitConfig{Enabled: false}
	return cfg
}

func newTestEnv(t *testing.T, cfg *config.Config, pinger Pinger) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	env := &testEnv{
		cfg:   cfg,
		store: memory.NewStore(),
		now:   time.Now(),
	}
	if pinger == nil {
		pinger = env.store
	}

	dispatcher := notify.NewDispatcher(config.DispatcherConfig{QueueSize: 16}, nopProvider{}, nil, zap.NewNop())
	env.services = service.NewServicesWithDispatcher(env.store, cfg, dispatcher, zap.NewNop())
	env.services.Verification = service.NewVerificationService(
		env.store.Challenges(),
		env.store.Authorizations(),
		env.services.Accounts,
		dispatcher,
		cfg.Verification,
		zap.NewNop(),
		service.WithClock(env.clock),
		service.WithCodeGenerator(env.generate),
		service.WithDeliveryTracker(env.services.Deliveries),
	)

	env.router = NewRouter(cfg, env.services, pinger, zap.NewNop())
	env.admin = NewAdminRouter(env.services, pinger, testAdminToken, zap.NewNop())
	return env
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func (e *testEnv) generate() (string, error) {
	code, err := service.GenerateCode()
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
	return code, nil
}

func (e *testEnv) lastCode(t *testing.T) string {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.codes, "no code was generated")
	return e.codes[len(e.codes)-1]
}

func doJSON(router http.Handler, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

var errPingFailed = errors.New("connection refused")
