package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nickcoast/IBKR-notional/brokers"
	"github.com/nickcoast/IBKR-notional/interfaces"
	"github.com/nickcoast/IBKR-notional/services"
	"github.com/sirupsen/logrus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type testServer struct {
	router *gin.Engine
	app    *services.App
	paper  *brokers.PaperSession
}

func newTestServer(t *testing.T, opts RouterOptions) *testServer {
	t.Helper()

	paper := brokers.NewPaperSession()
	brokers.SeedDemo(paper)
	return newTestServerWith(t, opts, paper, brokers.PaperFactory(paper))
}

// newTestServerWith serves factory's sessions; paper is the seeded session behind them
func newTestServerWith(t *testing.T, opts RouterOptions, paper *brokers.PaperSession, factory interfaces.SessionFactory) *testServer {
	t.Helper()

	config := services.AppConfig{
		Scheduler: services.SchedulerConfig{
			PortfolioInterval: 20 * time.Millisecond,
			ChainInterval:     20 * time.Millisecond,
			MaxChainLoops:     4,
		},
	}
	app := services.NewApp(factory, config, quietLogger())
	t.Cleanup(app.Shutdown)

	return &testServer{
		router: NewRouter(app, opts, quietLogger()),
		app:    app,
		paper:  paper,
	}
}

func (s *testServer) connect(t *testing.T) {
	t.Helper()
	if !s.app.Connections.Connect(context.Background(), "127.0.0.1", 7497, nil) {
		t.Fatal("Connect() = false, want true")
	}
}

func (s *testServer) do(t *testing.T, method, target, body string) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var decoded map[string]interface{}
	if w.Body.Len() > 0 && strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, target, w.Body.String(), err)
		}
	}
	return w.Code, decoded
}

func (s *testServer) get(t *testing.T, target string) (int, map[string]interface{}) {
	t.Helper()
	return s.do(t, http.MethodGet, target, "")
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func assertStatus(t *testing.T, got, want int, body map[string]interface{}) {
	t.Helper()
	if got != want {
		t.Fatalf("status = %d, want %d (body %v)", got, want, body)
	}
}
