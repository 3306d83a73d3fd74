package gateway

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"signaldesk/internal/config"
)

func newHTTPTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen test server: %v", err)
	}

	server := httptest.NewUnstartedServer(handler)
	server.Listener = l
	server.Start()
	return server
}

func testConfig(routes ...config.Route) config.Gateway {
	cfg := config.DefaultGateway()
	cfg.Routes = routes
	cfg.RequestTimeout = config.Duration{Duration: 2 * time.Second}
	return cfg
}

// newObservedGateway starts the gateway in front of upstream and records its logs.
func newObservedGateway(t *testing.T, cfg config.Gateway) (*Service, *httptest.Server, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	service, err := NewService(cfg, zap.New(core))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	server := newHTTPTestServer(t, service.Handler())
	t.Cleanup(server.Close)
	return service, server, logs
}
