package http

import (
	"context"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingRoute struct{}

func (pingRoute) Register(g *gin.RouterGroup) {
	g.GET("/ping", func(c *gin.Context) { c.String(stdhttp.StatusOK, "pong") })
}

func TestServerRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "exhub_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv, err := NewServer(Config{Addr: ":0", Gatherer: reg}, pingRoute{}, nil)
	require.NoError(t, err)

	for path, want := range map[string]string{
		"/healthz":  `"status":"ok"`,
		"/api/ping": "pong",
		"/metrics":  "exhub_test_total 1",
	} {
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, httptest.NewRequest(stdhttp.MethodGet, path, nil))
		assert.Equal(t, stdhttp.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), want, path)
	}
}

func TestServerRequiresAddr(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}

func TestStartStopsOnCancel(t *testing.T) {
	srv, err := NewServer(Config{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not stop")
	}
}
