package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

const defaultTCPPort = 5760

// TCPTransport talks MAVLink over a TCP socket (SITL, network bridges).
type TCPTransport struct {
	host string
	port int

	mu      sync.Mutex
	conn    net.Conn
	writeMu sync.Mutex
}

func NewTCPTransport(host string, port int) *TCPTransport {
	if port == 0 {
		port = defaultTCPPort
	}

	return &TCPTransport{host: host, port: port}
}

func (t *TCPTransport) Name() string {
	return "tcp"
}

func (t *TCPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	logger := transportLogger("tcp", "target", t.target())

	if t.conn != nil {
		logger.Debug("connect skipped: already connected")

		return nil
	}
	if t.host == "" {
		return errors.New("tcp host is empty")
	}

	dialer := net.Dialer{Timeout: 6 * time.Second}
	logger.Info("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", t.target())
	if err != nil {
		logger.Warn("connect failed", "error", err)

		return fmt.Errorf("dial tcp: %w", err)
	}
	t.conn = conn
	logger.Info("connected", "remote", conn.RemoteAddr().String())

	return nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil

	return err
}

func (t *TCPTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	conn, err := t.currentConn()
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	packet, err := readPacket(ioReadFullFunc(conn))
	if err != nil {
		return nil, err
	}

	return packet, nil
}

func (t *TCPTransport) WriteFrame(ctx context.Context, packet []byte) error {
	conn, err := t.currentConn()
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
	} else {
		_ = conn.SetWriteDeadline(time.Time{})
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}

	return nil
}

func (t *TCPTransport) target() string {
	return net.JoinHostPort(t.host, fmt.Sprintf("%d", t.port))
}

func (t *TCPTransport) currentConn() (net.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, errors.New("transport is not connected")
	}

	return t.conn, nil
}
