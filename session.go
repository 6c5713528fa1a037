package goscpi

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Result 是一次 Exec 的结果：命令被接受（Ack）或查询的响应文本。
type Result struct {
	Command string
	Reply   string
	IsReply bool
}

// Ack 是命令被接受时打印的确认文本。
const Ack = "OK"

func (r Result) String() string {
	if r.IsReply {
		return r.Reply
	}
	return Ack
}

// IsQuery 报告命令是否以 '?' 结尾，查询需要且只需要一行响应。
func IsQuery(cmd string) bool {
	return strings.HasSuffix(strings.TrimSpace(cmd), "?")
}

// Session 在 Transport 上实现 SCPI 的命令与查询语义。
// 一次 Query 的写入和读取在同一把锁内完成，不会和其它调用交错。
// Session 从不自动重试；出现 BrokenConnection 后所有调用都返回该错误。
type Session struct {
	t           Transport
	readTimeout time.Duration
	log         *slog.Logger

	mu     sync.Mutex
	broken error
}

// SessionOption 配置 Session。
type SessionOption func(*Session)

// WithReadTimeout 设置查询的读取超时，默认 DefaultTimeout。
func WithReadTimeout(d time.Duration) SessionOption {
	return func(s *Session) {
		s.readTimeout = d
	}
}

// WithLogger 设置日志，nil 表示不输出。
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.log = l.With("component", "session")
		}
	}
}

// NewSession 接管 t，Session 关闭时 t 一并关闭。
func NewSession(t Transport, opts ...SessionOption) *Session {
	s := &Session{
		t:           t,
		readTimeout: DefaultTimeout,
		log:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send 发送命令，从不读取响应，即使命令以 '?' 结尾。
func (s *Session) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken != nil {
		return s.broken
	}
	s.log.Debug("send", "command", cmd)
	return s.track(s.t.WriteLine(cmd))
}

// Query 发送查询并读取一行响应。不是查询时返回 ErrNotAQuery，不做任何 I/O。
func (s *Session) Query(cmd string) (string, error) {
	if !IsQuery(cmd) {
		return "", ErrNotAQuery
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken != nil {
		return "", s.broken
	}
	s.log.Debug("query", "command", cmd)
	if err := s.track(s.t.WriteLine(cmd)); err != nil {
		return "", err
	}
	reply, err := s.t.ReadLine(s.readTimeout)
	if err := s.track(err); err != nil {
		return "", err
	}
	return reply, nil
}

// Exec 按是否为查询分派到 Query 或 Send。
func (s *Session) Exec(cmd string) (Result, error) {
	if IsQuery(cmd) {
		reply, err := s.Query(cmd)
		if err != nil {
			return Result{Command: cmd}, err
		}
		return Result{Command: cmd, Reply: reply, IsReply: true}, nil
	}
	if err := s.Send(cmd); err != nil {
		return Result{Command: cmd}, err
	}
	return Result{Command: cmd}, nil
}

// Close 关闭底层 Transport。
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Debug("close", "transport", s.t.String())
	return s.t.Close()
}

// Transport 返回底层 Transport。
func (s *Session) Transport() Transport {
	return s.t
}

func (s *Session) track(err error) error {
	if IsBrokenConnection(err) {
		s.broken = err
		s.log.Warn("connection lost", "transport", s.t.String(), "error", err)
	}
	return err
}
