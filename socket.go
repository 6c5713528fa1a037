package goscpi

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"sync"
	"time"
)

// SocketTransport 通过原始 TCP 连接收发 SCPI 行。
type SocketTransport struct {
	conn    net.Conn
	reader  *bufio.Reader
	addr    string
	term    string
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
}

// DialSocket 在 cfg.Timeout 和 ctx 限制内连接 TCP 目标。
func DialSocket(ctx context.Context, target Target, cfg *Config) (*SocketTransport, error) {
	cfg = cfg.withDefaults()
	if target.Kind() != KindTCP {
		return nil, &ConnectError{Kind: ConnectInvalidTarget, Target: target.String(), Err: ErrInvalidTarget}
	}

	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", target.Address())
	if err != nil {
		return nil, classifyConnect(target, err)
	}

	t := NewSocketTransport(conn, cfg)
	t.log.Debug("connected", "address", t.addr)
	return t, nil
}

// NewSocketTransport 封装已建立的连接。
func NewSocketTransport(conn net.Conn, cfg *Config) *SocketTransport {
	cfg = cfg.withDefaults()
	addr := conn.RemoteAddr().String()
	return &SocketTransport{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		addr:    addr,
		term:    cfg.Terminator,
		timeout: cfg.Timeout,
		log:     cfg.logger("socket").With("address", addr),
	}
}

func (t *SocketTransport) WriteLine(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return classifyIO("write", err)
	}
	defer t.conn.SetWriteDeadline(time.Time{})

	data := []byte(withTerminator(text, t.term))
	written := 0
	for written < len(data) {
		n, err := t.conn.Write(data[written:])
		if err != nil {
			t.log.Debug("write failed", "written", written, "error", err)
			return classifyIO("write", err)
		}
		written += n
	}

	t.log.Debug("write", "bytes", written)
	return nil
}

func (t *SocketTransport) ReadLine(timeout time.Duration) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", ErrClosed
	}

	if timeout > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return "", classifyIO("read", err)
		}
		defer t.conn.SetReadDeadline(time.Time{})
	}

	line, err := readTerminated(t.reader, t.term)
	if err != nil {
		// 丢弃不完整的行
		t.reader.Reset(t.conn)
		t.log.Debug("read failed", "error", err)
		return "", classifyIO("read", err)
	}

	t.log.Debug("read", "bytes", len(line))
	return trimTerminator(line, t.term), nil
}

func (t *SocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.log.Debug("closed")
	return t.conn.Close()
}

func (t *SocketTransport) String() string {
	return "tcp://" + t.addr
}
