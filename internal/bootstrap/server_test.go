package bootstrap

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Domenick1991/airbooking-payments/config"
	"github.com/Domenick1991/airbooking-payments/internal/repository"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func startServers(t *testing.T) *Servers {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	s, err := newServers(config.Default(), lis.Addr().String(), api)
	require.NoError(t, err)

	go func() { _ = s.grpcServer.Serve(lis) }()
	t.Cleanup(func() {
		s.grpcServer.Stop()
		s.healthConn.Close()
	})
	return s
}

func get(s *Servers, path string) int {
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	return w.Code
}

func TestHealthz(t *testing.T) {
	s := startServers(t)

	assert.Equal(t, http.StatusOK, get(s, "/healthz"))

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	assert.Equal(t, http.StatusServiceUnavailable, get(s, "/healthz"))
}

func TestAPIFallsThrough(t *testing.T) {
	s := startServers(t)
	assert.Equal(t, http.StatusTeapot, get(s, "/api/v1/bookings/x"))
}

type flakyStore struct {
	err error
}

func (f *flakyStore) Ping(context.Context) error { return f.err }

func TestWatchStore(t *testing.T) {
	s := startServers(t)
	log, hook := test.NewNullLogger()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.watchStore(ctx, &flakyStore{err: assert.AnError}, log)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return get(s, "/healthz") == http.StatusServiceUnavailable
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	<-done
	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, "store unreachable, reporting not serving", hook.AllEntries()[0].Message)
}

func TestOpenStore(t *testing.T) {
	log, _ := test.NewNullLogger()

	store, closeStore, err := OpenStore(context.Background(), config.DatabaseConfig{Driver: "memory"}, log)
	require.NoError(t, err)
	assert.IsType(t, &repository.MemoryStore{}, store)
	assert.NoError(t, closeStore())

	store, closeStore, err = OpenStore(context.Background(), config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir() + "/payments.db"}, log)
	require.NoError(t, err)
	assert.NoError(t, store.Ping(context.Background()))
	assert.NoError(t, closeStore())

	_, _, err = OpenStore(context.Background(), config.DatabaseConfig{Driver: "mongo"}, log)
	assert.Error(t, err)
}

func TestDialTarget(t *testing.T) {
	assert.Equal(t, "localhost:9090", dialTarget(":9090"))
	assert.Equal(t, "10.0.0.1:9090", dialTarget("10.0.0.1:9090"))
}
