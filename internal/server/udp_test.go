package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/heartbeat-listener/internal/config"
	"github.com/skypro1111/heartbeat-listener/internal/logging"
	"github.com/skypro1111/heartbeat-listener/internal/metrics"
	"github.com/skypro1111/heartbeat-listener/internal/protocol"
)

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Lines() []string {
	s := strings.TrimRight(b.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

type testListener struct {
	*Listener
	console *syncBuffer
	metrics *metrics.Metrics
	done    chan error
}

// createTestListenerConfig returns a loopback config on an ephemeral port with a short timeout
func createTestListenerConfig(timeout float64) *config.ListenerConfig {
	cfg := config.Default().Listener
	cfg.BindAddress = "127.0.0.1"
	cfg.UDPPort = 0
	cfg.Timeout = timeout
	return &cfg
}

func newTestListener(t *testing.T, cfg *config.ListenerConfig) *testListener {
	t.Helper()

	console := &syncBuffer{}
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	l := NewListener(cfg, logging.NopLogger(), m, console)
	require.NoError(t, l.Listen())
	t.Cleanup(func() { l.Close() })

	return &testListener{Listener: l, console: console, metrics: m}
}

func (tl *testListener) start(ctx context.Context) {
	tl.done = make(chan error, 1)
	go func() { tl.done <- tl.Run(ctx) }()
}

func (tl *testListener) wait(t *testing.T, within time.Duration) error {
	t.Helper()
	select {
	case err := <-tl.done:
		return err
	case <-time.After(within):
		t.Fatalf("listener did not stop within %v", within)
		return nil
	}
}

func dialListener(t *testing.T, l *Listener) *net.UDPConn {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, l.Addr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func receiptLine(payload string) string {
	return fmt.Sprintf("Server received heartbeat pulse %s pulse interval was 5 seconds", payload)
}

func TestListenerSinglePulseKeepsRunning(t *testing.T) {
	tl := newTestListener(t, createTestListenerConfig(2))
	tl.start(context.Background())

	client := dialListener(t, tl.Listener)
	_, err := client.Write([]byte("1"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(tl.console.Lines()) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{receiptLine("1")}, tl.console.Lines())

	stats := tl.GetStatistics()
	assert.True(t, stats.Running)
	assert.Equal(t, uint64(1), stats.PulsesReceived)
	assert.Equal(t, "1", stats.LastPayload)
	assert.Equal(t, client.LocalAddr().String(), stats.LastSender)
	assert.Equal(t, float64(1), testutil.ToFloat64(tl.metrics.PulsesReceived))
}

func TestListenerSilenceStops(t *testing.T) {
	tl := newTestListener(t, createTestListenerConfig(0.2))

	start := time.Now()
	tl.start(context.Background())
	require.NoError(t, tl.wait(t, 2*time.Second))

	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, []string{
		"No pulse after 0.2 seconds. Server quits.",
		"Server Stops.",
	}, tl.console.Lines())
	assert.False(t, tl.GetStatistics().Running)
	assert.Equal(t, float64(1), testutil.ToFloat64(tl.metrics.Timeouts))
}

func TestListenerDefaultShutdownText(t *testing.T) {
	cfg := config.Default().Listener
	console := &syncBuffer{}
	l := NewListener(&cfg, logging.NopLogger(), metrics.NewMetricsWithRegistry(prometheus.NewRegistry()), console)

	// Drive the timeout branch directly with a deadline error
	err := l.receiveFailed(context.Background(), fakeTimeout{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"No pulse after 10 seconds. Server quits.",
		"Server Stops.",
	}, console.Lines())
}

func TestListenerPulsesThenSilence(t *testing.T) {
	tl := newTestListener(t, createTestListenerConfig(0.5))
	tl.start(context.Background())

	client := dialListener(t, tl.Listener)
	for _, payload := range []string{"1", "2", "3"} {
		_, err := client.Write([]byte(payload))
		require.NoError(t, err)
		time.Sleep(100 * time.Millisecond)
	}

	require.NoError(t, tl.wait(t, 3*time.Second))

	assert.Equal(t, []string{
		receiptLine("1"),
		receiptLine("2"),
		receiptLine("3"),
		"No pulse after 0.5 seconds. Server quits.",
		"Server Stops.",
	}, tl.console.Lines())

	stats := tl.GetStatistics()
	assert.Equal(t, uint64(3), stats.PulsesReceived)
	assert.Equal(t, uint64(3), stats.BytesReceived)
}

func TestListenerSecondBindFails(t *testing.T) {
	first := newTestListener(t, createTestListenerConfig(1))

	cfg := createTestListenerConfig(1)
	cfg.UDPPort = first.Addr().(*net.UDPAddr).Port

	second := NewListener(cfg, logging.NopLogger(), metrics.NewMetricsWithRegistry(prometheus.NewRegistry()), &syncBuffer{})
	err := second.Listen()
	require.Error(t, err)

	var bindErr *BindError
	require.True(t, errors.As(err, &bindErr), "expected *BindError, got %T", err)
	assert.Equal(t, cfg.Address(), bindErr.Address)
	assert.Nil(t, second.Addr())
}

func TestListenerNeverReplies(t *testing.T) {
	tl := newTestListener(t, createTestListenerConfig(1))
	tl.start(context.Background())

	client := dialListener(t, tl.Listener)
	_, err := client.Write([]byte("ping"))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	buf := make([]byte, 1024)
	_, err = client.Read(buf)
	require.Error(t, err)

	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected read timeout, got %v", err)
	assert.Equal(t, []string{receiptLine("ping")}, tl.console.Lines())
}

func TestListenerTruncatesOversizedDatagram(t *testing.T) {
	cfg := createTestListenerConfig(1)
	cfg.MaxDatagramSize = 4
	tl := newTestListener(t, cfg)
	tl.start(context.Background())

	client := dialListener(t, tl.Listener)
	_, err := client.Write([]byte("123456789"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(tl.console.Lines()) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, receiptLine("1234"), tl.console.Lines()[0])
}

func TestListenerInvalidPayloadStops(t *testing.T) {
	tl := newTestListener(t, createTestListenerConfig(2))
	tl.start(context.Background())

	client := dialListener(t, tl.Listener)
	_, err := client.Write([]byte{0xff, 0xfe})
	require.NoError(t, err)

	err = tl.wait(t, time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, protocol.ErrInvalidPayload)
	assert.Equal(t, []string{"Server Stops."}, tl.console.Lines())
	assert.Equal(t, uint64(1), tl.GetStatistics().DecodeErrors)
	assert.Equal(t, float64(1), testutil.ToFloat64(tl.metrics.DecodeErrors))
}

func TestListenerContextCancel(t *testing.T) {
	tl := newTestListener(t, createTestListenerConfig(30))

	ctx, cancel := context.WithCancel(context.Background())
	tl.start(ctx)

	require.Eventually(t, func() bool {
		return tl.GetStatistics().Running
	}, time.Second, 10*time.Millisecond)
	cancel()

	require.NoError(t, tl.wait(t, time.Second))
	assert.Equal(t, []string{"Server Stops."}, tl.console.Lines())
}

func TestListenerReleasesSocket(t *testing.T) {
	tl := newTestListener(t, createTestListenerConfig(0.1))
	port := tl.Addr().(*net.UDPAddr).Port

	tl.start(context.Background())
	require.NoError(t, tl.wait(t, time.Second))

	// The port is free again once Run has returned
	cfg := createTestListenerConfig(0.1)
	cfg.UDPPort = port
	again := NewListener(cfg, logging.NopLogger(), metrics.NewMetricsWithRegistry(prometheus.NewRegistry()), &syncBuffer{})
	require.NoError(t, again.Listen())
	require.NoError(t, again.Close())
	require.NoError(t, again.Close())
}

func TestListenerReceiveErrorIsDistinct(t *testing.T) {
	cfg := createTestListenerConfig(1)
	console := &syncBuffer{}
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	l := NewListener(cfg, logging.NopLogger(), m, console)

	cause := &net.OpError{Op: "read", Net: "udp", Err: errors.New("connection refused")}
	err := l.receiveFailed(context.Background(), cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReceive)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, []string{"Server Stops."}, console.Lines())
	assert.Equal(t, uint64(1), l.GetStatistics().ReceiveErrors)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReceiveErrors))
}

func TestListenerRunWithoutListen(t *testing.T) {
	l := NewListener(createTestListenerConfig(1), logging.NopLogger(),
		metrics.NewMetricsWithRegistry(prometheus.NewRegistry()), &syncBuffer{})

	assert.ErrorIs(t, l.Run(context.Background()), ErrNotBound)
}

func TestListenerListenTwice(t *testing.T) {
	tl := newTestListener(t, createTestListenerConfig(1))

	var bindErr *BindError
	assert.True(t, errors.As(tl.Listen(), &bindErr))
}

// fakeTimeout satisfies net.Error with Timeout() == true
type fakeTimeout struct{}

func (fakeTimeout) Error() string   { return "i/o timeout" }
func (fakeTimeout) Timeout() bool   { return true }
func (fakeTimeout) Temporary() bool { return true }
