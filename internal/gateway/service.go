package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"signaldesk/internal/config"
	"signaldesk/internal/logging"
)

const (
	defaultContentType  = "application/json"
	maxRequestBodyBytes = 10 << 20
)

// Service relays browser requests to the configured upstreams and hands the
// upstream's status, content type and body back unchanged.
type Service struct {
	cfg      config.Gateway
	client   *http.Client
	logger   *zap.Logger
	routes   *routeTable
	registry *prometheus.Registry
	metrics  *metrics
	ready    atomic.Bool
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (lrw *loggingResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.bytes += int64(n)
	return n, err
}

func NewService(cfg config.Gateway, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	routes, err := newRouteTable(cfg.Routes)
	if err != nil {
		return nil, fmt.Errorf("route table: %w", err)
	}
	for _, r := range routes.entries {
		logger.Info("route registered",
			zap.String("prefix", r.prefix),
			zap.String("upstream", r.upstream.String()),
		)
	}

	registry := prometheus.NewRegistry()

	return &Service{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ForceAttemptHTTP2:     true,
				ResponseHeaderTimeout: cfg.RequestTimeout.Duration,
			},
			// Redirects go back to the browser untouched.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:   logger,
		routes:   routes,
		registry: registry,
		metrics:  newMetrics(registry),
	}, nil
}

// SetReady flips the /healthz answer.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Handler returns the gateway's full HTTP surface.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(recoverer(s.logger), requestID, timeout(s.cfg.RequestTimeout.Duration))

	r.Get("/livez", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if s.ready.Load() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}
		http.Error(w, "not ready", http.StatusServiceUnavailable)
	})
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	for _, rt := range s.routes.entries {
		r.Handle(rt.prefix, s)
		r.Handle(rt.prefix+"/*", s)
	}
	return r
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lrw := &loggingResponseWriter{ResponseWriter: w}
	routeLabel := "-"
	upstreamHost := "-"

	defer func() {
		status := lrw.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		s.metrics.observe(routeLabel, r.Method, status, duration)
		s.logger.Info("request",
			zap.String("remote", r.RemoteAddr),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", routeLabel),
			zap.Int("status", status),
			zap.Int64("bytes", lrw.bytes),
			zap.Duration("duration", duration.Round(time.Millisecond)),
			zap.String("upstream_host", upstreamHost),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
	}()

	rt, trimmed, ok := s.routes.Resolve(r.URL.Path)
	if !ok {
		s.logger.Warn("unknown route prefix", zap.String("path", r.URL.Path))
		http.NotFound(lrw, r)
		return
	}
	routeLabel = rt.prefix

	body, err := io.ReadAll(http.MaxBytesReader(lrw, r.Body, maxRequestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(lrw, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.Warn("read request body", zap.Error(err))
		http.Error(lrw, "bad request", http.StatusBadRequest)
		return
	}

	if s.cfg.DebugProxy {
		s.logger.Info("proxy request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Any("headers", sanitizeHeaders(r.Header)),
			zap.String("payload", describePayload(body)),
		)
	}

	var upstreamBody io.Reader
	if len(body) > 0 {
		upstreamBody = bytes.NewReader(body)
	}
	upstreamReq, err := rt.buildUpstreamRequest(r.Context(), r, trimmed, upstreamBody)
	if err != nil {
		s.logger.Error("build upstream request", zap.Error(err))
		http.Error(lrw, "bad request", http.StatusBadRequest)
		return
	}
	upstreamHost = upstreamReq.URL.Host

	resp, err := s.client.Do(upstreamReq)
	if err != nil {
		s.metrics.upstreamErrors.WithLabelValues(routeLabel).Inc()
		s.logger.Error("upstream request", zap.Error(err), zap.String("host", upstreamHost))
		http.Error(lrw, "upstream error", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		s.metrics.upstreamErrors.WithLabelValues(routeLabel).Inc()
		s.logger.Error("read upstream response", zap.Error(err), zap.String("host", upstreamHost))
		http.Error(lrw, "upstream error", http.StatusBadGateway)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}

	copyHeaders(lrw.Header(), resp.Header)
	lrw.Header().Del("Content-Length")
	lrw.Header().Set("Content-Type", contentType)
	lrw.WriteHeader(resp.StatusCode)
	if _, err := lrw.Write(respBody); err != nil {
		s.logger.Warn("write response", zap.Error(err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Warn("upstream error response",
			zap.String("route", routeLabel),
			zap.String("path", r.URL.Path),
			zap.String("upstream_host", upstreamHost),
			zap.Int("status", resp.StatusCode),
			zap.String("content_type", contentType),
			zap.String("body", truncateChars(string(respBody), maxLoggedErrorBodyChars)),
		)
	}

	if s.cfg.DebugProxy {
		s.logger.Info("proxy response",
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("content_type", contentType),
			zap.Any("headers", sanitizeHeaders(resp.Header)),
			zap.String("payload", describePayload(respBody)),
		)
	}
}

// isHopByHop also covers Host and Accept-Encoding: the outbound request sets
// its own Host, and the transport negotiates compression so the body it
// returns is always decoded.
func isHopByHop(header string) bool {
	h := strings.ToLower(header)
	if strings.HasPrefix(h, "proxy-") {
		return true
	}
	switch h {
	case "connection", "keep-alive", "te", "trailer", "trailers", "transfer-encoding", "upgrade", "host", "accept-encoding":
		return true
	default:
		return false
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		dst[key] = append([]string(nil), values...)
	}
}

func sanitizeHeaders(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = http.Header{}
	}
	maskHeader(dst, "Authorization")
	maskHeader(dst, "Proxy-Authorization")
	maskHeader(dst, "Cookie")
	maskHeader(dst, "Set-Cookie")
	return dst
}

func maskHeader(headers http.Header, key string) {
	if val := headers.Get(key); val != "" {
		headers.Set(key, logging.MaskToken(val))
	}
}
