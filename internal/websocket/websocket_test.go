package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iolloyd/tcpdoctor/internal/filter"
	"github.com/iolloyd/tcpdoctor/internal/models"
)

type stubSource struct {
	conns []models.ConnectionRecord
	err   error
	last  atomic.Value
}

func (s *stubSource) FetchConnections(_ context.Context, criteria filter.Criteria) ([]models.ConnectionRecord, error) {
	s.last.Store(criteria)
	return s.conns, s.err
}

// startDaemon serves source and returns the websocket URL and a function
// stopping the client hub
func startDaemon(t *testing.T, source Source) (string, context.CancelFunc) {
	t.Helper()
	server := NewServer(ServerOptions{Source: source})
	ctx, cancel := context.WithCancel(context.Background())
	go server.Run(ctx)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", cancel
}

func TestRoundTrip(t *testing.T) {
	source := &stubSource{conns: []models.ConnectionRecord{{
		Identity: models.Identity{LocalAddr: "::1", LocalPort: 6000, RemoteAddr: "::1", RemotePort: 6379},
		PID:      12,
		State:    models.StateEstablished,
		Extended: &models.ExtendedStats{RTT: 0.25},
	}}}
	url, _ := startDaemon(t, source)

	client, err := NewClient(url, ClientOptions{})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conns, err := client.FetchConnections(ctx, filter.Criteria{Family: filter.FamilyIPv6})
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, 0.25, conns[0].RTT())
	assert.Equal(t, "Redis", conns[0].Service())
	assert.True(t, client.IsConnected())
	assert.Equal(t, filter.FamilyIPv6, source.last.Load().(filter.Criteria).Family)

	// the connection is reused
	_, err = client.FetchConnections(ctx, filter.Criteria{})
	require.NoError(t, err)
	assert.Equal(t, filter.FamilyAny, source.last.Load().(filter.Criteria).Family)
}

func TestDaemonErrorsAreReturned(t *testing.T) {
	url, _ := startDaemon(t, &stubSource{err: errors.New("netlink: operation not permitted")})

	client, err := NewClient(url, ClientOptions{})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = client.FetchConnections(ctx, filter.Criteria{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operation not permitted")
	assert.NotErrorIs(t, err, ErrNotConnected)
	assert.True(t, client.IsConnected(), "an application error keeps the connection")
}

func TestClientErrorHandling(t *testing.T) {
	var dials atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		dials.Add(1)
		http.Error(w, "no daemon here", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	mock := clock.NewMock()
	client, err := NewClient(ts.URL, ClientOptions{Clock: mock})
	require.NoError(t, err)

	_, err = client.FetchConnections(context.Background(), filter.Criteria{})
	require.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, client.IsConnected())
	assert.Equal(t, int32(1), dials.Load())

	_, err = client.FetchConnections(context.Background(), filter.Criteria{})
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, int32(1), dials.Load(), "no redial before the backoff elapses")

	mock.Add(time.Minute)
	_, err = client.FetchConnections(context.Background(), filter.Criteria{})
	require.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, int32(2), dials.Load())

	assert.NoError(t, client.Close(), "closing a disconnected client is a no-op")
}

func TestClientNoticesDaemonShutdown(t *testing.T) {
	url, stop := startDaemon(t, &stubSource{})
	client, err := NewClient(url, ClientOptions{})
	require.NoError(t, err)

	_, err = client.FetchConnections(context.Background(), filter.Criteria{})
	require.NoError(t, err)

	stop()
	assert.Eventually(t, func() bool { return !client.IsConnected() }, 5*time.Second, 10*time.Millisecond)
}

func TestNormalizeURL(t *testing.T) {
	for in, want := range map[string]string{
		"localhost:8080":          "ws://localhost:8080/ws",
		"127.0.0.1:8080":          "ws://127.0.0.1:8080/ws",
		"http://collector:9000":   "ws://collector:9000/ws",
		"https://collector/":      "wss://collector/ws",
		"ws://collector:1/custom": "ws://collector:1/custom",
	} {
		got, err := normalizeURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := normalizeURL("ftp://collector")
	assert.Error(t, err)
}
