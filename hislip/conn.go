package hislip

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Conn 是一条 HiSLIP 通道（同步或异步）。
// 读取只在调用方的请求/响应中发生，写入由 wmu 串行化。
type Conn struct {
	raw net.Conn
	r   *bufio.Reader
	w   *bufio.Writer
	wmu sync.Mutex

	// WriteTimeout 限制一次 Send 的时间，0 表示不限时。
	WriteTimeout time.Duration

	encrypted bool
}

func NewConn(c net.Conn) *Conn {
	return &Conn{
		raw: c,
		r:   bufio.NewReader(c),
		w:   bufio.NewWriter(c),
	}
}

// dial 建立一条通道，address 未带端口时使用 DefaultPort。
func dial(ctx context.Context, address string, writeTimeout time.Duration) (*Conn, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", withDefaultPort(address))
	if err != nil {
		return nil, err
	}
	c := NewConn(raw)
	c.WriteTimeout = writeTimeout
	return c, nil
}

func withDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(DefaultPort))
}

func (c *Conn) Close() error {
	return c.raw.Close()
}

// Encrypted 报告通道是否已升级为 TLS。
func (c *Conn) Encrypted() bool {
	return c.encrypted
}

// startTLS 在现有连接上握手，之后的读写都经过 TLS。
func (c *Conn) startTLS(ctx context.Context, config *tls.Config) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush before TLS: %w", err)
	}
	tc := tls.Client(c.raw, config)
	if err := tc.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("TLS handshake: %w", err)
	}
	c.r = bufio.NewReader(tc)
	c.w = bufio.NewWriter(tc)
	c.encrypted = true
	return nil
}

// Send 写入一条消息并刷新。
func (c *Conn) Send(msgType, ctrl uint8, param uint32, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.WriteTimeout > 0 {
		if err := c.raw.SetWriteDeadline(time.Now().Add(c.WriteTimeout)); err != nil {
			return err
		}
		defer c.raw.SetWriteDeadline(time.Time{})
	}
	if err := WriteMessage(c.w, NewMessage(msgType, ctrl, param, payload)); err != nil {
		return netError("send "+MsgTypeName(msgType), err)
	}
	if err := c.w.Flush(); err != nil {
		return netError("send "+MsgTypeName(msgType), err)
	}
	return nil
}

// Receive 读取一条消息，deadline 为零值表示不限时。
func (c *Conn) Receive(deadline time.Time) (*Message, error) {
	if !deadline.IsZero() {
		if err := c.raw.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
		defer c.raw.SetReadDeadline(time.Time{})
	}
	msg, err := ReadMessage(c.r)
	if err != nil {
		return nil, netError("receive", err)
	}
	return msg, nil
}

// Expect 读取一条消息并校验类型；Error 和 FatalError 消息转换为 *ServerError。
func (c *Conn) Expect(want uint8, deadline time.Time) (*Message, error) {
	msg, err := c.Receive(deadline)
	if err != nil {
		return nil, err
	}
	if err := errorFromMessage(msg); err != nil {
		return nil, err
	}
	if msg.Header.MsgType != want {
		return nil, &UnexpectedMessageError{Want: want, Got: msg.Header.MsgType}
	}
	return msg, nil
}

// netError 给超时加上 ErrTimeout，同时保留原始的 net.Error。
func netError(op string, err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s: %w: %w", op, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// deadlineFor 取 ctx 的截止时间和 now+timeout 中较早者。
func deadlineFor(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}
