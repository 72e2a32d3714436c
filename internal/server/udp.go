package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/skypro1111/heartbeat-listener/internal/config"
	"github.com/skypro1111/heartbeat-listener/internal/logging"
	"github.com/skypro1111/heartbeat-listener/internal/metrics"
	"github.com/skypro1111/heartbeat-listener/internal/protocol"
)

// ErrReceive is wrapped by errors returned from Run when the socket fails for a
// reason other than the silence timeout
var ErrReceive = errors.New("heartbeat receive failed")

// ErrNotBound is returned by Run when Listen has not been called
var ErrNotBound = errors.New("heartbeat listener is not bound")

// BindError reports that the listener socket could not be bound
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("failed to bind UDP %s: %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// Listener receives heartbeat pulses on a UDP socket and stops after a period of silence.
// It never writes to the socket.
type Listener struct {
	conn    *net.UDPConn
	config  *config.ListenerConfig
	logger  *slog.Logger
	metrics *metrics.Metrics
	console io.Writer

	closeOnce sync.Once
	closeErr  error

	// Statistics
	startTime      time.Time
	running        bool
	pulsesReceived uint64
	bytesReceived  uint64
	decodeErrors   uint64
	receiveErrors  uint64
	lastPulse      time.Time
	lastSender     string
	lastPayload    string
	mu             sync.RWMutex
}

// NewListener creates a heartbeat listener. Receipt and shutdown notices are
// written to console; everything else goes to logger.
func NewListener(cfg *config.ListenerConfig, logger *slog.Logger, m *metrics.Metrics, console io.Writer) *Listener {
	return &Listener{
		config:  cfg,
		logger:  logger.With(slog.String(logging.KeyComponent, "listener")),
		metrics: m,
		console: console,
	}
}

// Listen binds the UDP socket. A failure is returned as *BindError.
func (l *Listener) Listen() error {
	address := l.config.Address()

	if l.conn != nil {
		return &BindError{Address: address, Err: errors.New("listener already bound")}
	}

	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return &BindError{Address: address, Err: err}
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return &BindError{Address: address, Err: err}
	}

	l.conn = conn

	l.mu.Lock()
	l.startTime = time.Now()
	l.mu.Unlock()

	l.logger.Info("Heartbeat listener bound",
		slog.String(logging.KeyAddress, conn.LocalAddr().String()),
		slog.Duration(logging.KeyTimeout, l.config.GetTimeoutDuration()),
		slog.Int("max_datagram_size", l.config.MaxDatagramSize),
	)

	return nil
}

// Addr returns the bound local address, or nil before Listen
func (l *Listener) Addr() net.Addr {
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Close releases the socket. It is safe to call more than once.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		if l.conn != nil {
			l.closeErr = l.conn.Close()
		}
	})
	return l.closeErr
}

// Run receives pulses until no datagram arrives within the configured timeout.
// The silence timeout and context cancellation end the loop with a nil error;
// socket failures return an error wrapping ErrReceive and undecodable payloads an
// error wrapping protocol.ErrInvalidPayload. The socket is closed on every path.
func (l *Listener) Run(ctx context.Context) error {
	if l.conn == nil {
		return ErrNotBound
	}
	defer l.Close()

	// Unblock a pending read as soon as the context is done
	stop := context.AfterFunc(ctx, func() {
		_ = l.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	l.setRunning(true)
	defer l.setRunning(false)

	buffer := make([]byte, l.config.MaxDatagramSize)
	timeout := l.config.GetTimeoutDuration()

	for {
		if err := l.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return l.receiveFailed(ctx, err)
		}

		// Checked after arming the deadline so a cancellation cannot be overwritten
		if ctx.Err() != nil {
			return l.cancelled(ctx)
		}

		n, remoteAddr, err := l.conn.ReadFromUDP(buffer)
		if err != nil {
			return l.receiveFailed(ctx, err)
		}

		if err := l.handlePulse(buffer[:n], remoteAddr); err != nil {
			return err
		}
	}
}

// handlePulse decodes and reports a single datagram
func (l *Listener) handlePulse(data []byte, remoteAddr *net.UDPAddr) error {
	now := time.Now()

	pulse, err := protocol.DecodePulse(data)
	if err != nil {
		l.mu.Lock()
		l.decodeErrors++
		l.mu.Unlock()
		l.metrics.RecordDecodeError()

		l.logger.Error("Failed to decode heartbeat pulse",
			slog.String(logging.KeyRemoteAddr, remoteAddr.String()),
			slog.Int(logging.KeySize, len(data)),
			slog.String(logging.KeyError, err.Error()),
		)
		l.printStopped()
		return fmt.Errorf("failed to decode pulse from %s: %w", remoteAddr, err)
	}

	l.mu.Lock()
	var sinceLast time.Duration
	if !l.lastPulse.IsZero() {
		sinceLast = now.Sub(l.lastPulse)
	}
	l.pulsesReceived++
	l.bytesReceived += uint64(pulse.Size)
	l.lastPulse = now
	l.lastSender = remoteAddr.String()
	l.lastPayload = pulse.Text
	l.mu.Unlock()

	l.metrics.RecordPulse(pulse.Size, now, sinceLast)

	fmt.Fprintf(l.console, "Server received heartbeat pulse %s pulse interval was %s seconds\n",
		pulse.Text, l.config.PulseIntervalSeconds())

	attrs := []any{
		slog.String(logging.KeyRemoteAddr, remoteAddr.String()),
		slog.Int(logging.KeySize, pulse.Size),
		slog.Duration(logging.KeySinceLast, sinceLast),
	}
	if pulse.HasSequence {
		attrs = append(attrs, slog.Uint64(logging.KeySequence, pulse.Sequence))
	}
	l.logger.Debug("Heartbeat pulse received", attrs...)

	return nil
}

// receiveFailed classifies a failed read into timeout, cancellation or socket error
func (l *Listener) receiveFailed(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return l.cancelled(ctx)
	}

	if errors.Is(err, net.ErrClosed) {
		l.logger.Info("Heartbeat listener closed")
		l.printStopped()
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		l.metrics.RecordTimeout()
		l.logger.Info("No heartbeat pulse within timeout, stopping",
			slog.Duration(logging.KeyTimeout, l.config.GetTimeoutDuration()),
		)
		fmt.Fprintf(l.console, "No pulse after %s seconds. Server quits.\n", l.config.TimeoutSeconds())
		l.printStopped()
		return nil
	}

	l.mu.Lock()
	l.receiveErrors++
	l.mu.Unlock()
	l.metrics.RecordReceiveError()

	l.logger.Error("Failed to receive heartbeat pulse", slog.String(logging.KeyError, err.Error()))
	l.printStopped()
	return fmt.Errorf("%w: %w", ErrReceive, err)
}

func (l *Listener) cancelled(ctx context.Context) error {
	l.logger.Info("Heartbeat listener stopping due to context cancellation",
		slog.String("cause", context.Cause(ctx).Error()),
	)
	l.printStopped()
	return nil
}

func (l *Listener) printStopped() {
	fmt.Fprintln(l.console, "Server Stops.")
}

func (l *Listener) setRunning(running bool) {
	l.mu.Lock()
	l.running = running
	l.mu.Unlock()
}

// GetStatistics returns current listener statistics
func (l *Listener) GetStatistics() Statistics {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return Statistics{
		Running:        l.running,
		StartTime:      l.startTime,
		PulsesReceived: l.pulsesReceived,
		BytesReceived:  l.bytesReceived,
		DecodeErrors:   l.decodeErrors,
		ReceiveErrors:  l.receiveErrors,
		LastPulse:      l.lastPulse,
		LastSender:     l.lastSender,
		LastPayload:    l.lastPayload,
	}
}

// Statistics represents listener activity counters
type Statistics struct {
	Running        bool      `json:"running"`
	StartTime      time.Time `json:"start_time"`
	PulsesReceived uint64    `json:"pulses_received"`
	BytesReceived  uint64    `json:"bytes_received"`
	DecodeErrors   uint64    `json:"decode_errors"`
	ReceiveErrors  uint64    `json:"receive_errors"`
	LastPulse      time.Time `json:"last_pulse"`
	LastSender     string    `json:"last_sender,omitempty"`
	LastPayload    string    `json:"last_payload,omitempty"`
}
