package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/skypro1111/heartbeat-listener/internal/config"
	"github.com/skypro1111/heartbeat-listener/internal/logging"
	"github.com/skypro1111/heartbeat-listener/internal/protocol"
)

// Sender emits heartbeat pulses to a listener. It never reads from the socket.
// The socket is unconnected so an ICMP port-unreachable from a listener that is
// down does not fail later sends.
type Sender struct {
	conn     *net.UDPConn
	addr     *net.UDPAddr
	address  string
	interval time.Duration
	logger   *slog.Logger
	sent     uint64
}

// NewSender dials the configured listener address
func NewSender(cfg *config.SenderConfig, logger *slog.Logger) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listener address %s: %w", cfg.Address, err)
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open sender socket: %w", err)
	}

	return &Sender{
		conn:     conn,
		addr:     addr,
		address:  addr.String(),
		interval: cfg.GetIntervalDuration(),
		logger:   logger.With(slog.String(logging.KeyComponent, "sender")),
	}, nil
}

// Send transmits a single pulse with the given payload
func (s *Sender) Send(payload []byte) error {
	if _, err := s.conn.WriteToUDP(payload, s.addr); err != nil {
		return fmt.Errorf("failed to send pulse to %s: %w", s.address, err)
	}
	s.sent++
	return nil
}

// Run sends numbered pulses ("1", "2", ...) every interval. It returns after count
// pulses, or when ctx is done if count is zero.
func (s *Sender) Run(ctx context.Context, count uint64) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for seq := uint64(1); count == 0 || seq <= count; seq++ {
		if ctx.Err() != nil {
			return nil
		}

		if err := s.Send(protocol.EncodePulse(seq)); err != nil {
			return err
		}
		s.logger.Info("Pulse sent",
			slog.String(logging.KeyAddress, s.address),
			slog.Uint64(logging.KeySequence, seq),
		)

		if count != 0 && seq == count {
			break
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}

	return nil
}

// Sent returns the number of pulses sent so far
func (s *Sender) Sent() uint64 {
	return s.sent
}

// Close releases the socket
func (s *Sender) Close() error {
	return s.conn.Close()
}
