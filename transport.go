package goscpi

import (
	"bufio"
	"context"
	"log/slog"
	"strings"
	"time"
)

// DefaultTimeout 用于连接、写入以及 Session 的默认读取超时。
const DefaultTimeout = 5 * time.Second

// DefaultTerminator 是 SCPI 行结束符。
const DefaultTerminator = "\n"

// Transport 是到一台仪器的行式通道。两种后端的错误语义一致：
// 超时返回 IOError{WriteTimeout|ReadTimeout}，其它故障返回 IOError{BrokenConnection}，
// 关闭后的调用返回 ErrClosed。
type Transport interface {
	// WriteLine 在缺少结束符时追加结束符并写出全部字节。
	WriteLine(text string) error

	// ReadLine 读取一行，返回时去掉结束符。超时前收到的部分数据被丢弃。
	ReadLine(timeout time.Duration) (string, error)

	// Close 释放底层句柄，重复调用安全。
	Close() error

	String() string
}

// Config 是建立 Transport 的参数。
type Config struct {
	// Terminator 是行结束符，默认 "\n"
	Terminator string

	// Timeout 限制连接和每次写入
	Timeout time.Duration

	// Manager 用于打开 VISA 资源，nil 时使用内置驱动的默认管理器
	Manager *ResourceManager

	// Logger 为 nil 时不输出日志
	Logger *slog.Logger
}

// DefaultConfig 返回带默认值的 Config。
func DefaultConfig() *Config {
	return &Config{
		Terminator: DefaultTerminator,
		Timeout:    DefaultTimeout,
	}
}

func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := *c
	if out.Terminator == "" {
		out.Terminator = DefaultTerminator
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	return &out
}

func (c *Config) logger(component string) *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger.With("component", component)
}

// Connect 按目标类型建立 Transport。target 必须由 NewTCPTarget/NewVISATarget/ParseTarget 创建。
func Connect(ctx context.Context, target Target, cfg *Config) (Transport, error) {
	switch target.Kind() {
	case KindTCP:
		return DialSocket(ctx, target, cfg)
	case KindVISA:
		return OpenVISA(ctx, target, cfg)
	default:
		return nil, &ConnectError{Kind: ConnectInvalidTarget, Target: target.String(), Err: ErrInvalidTarget}
	}
}

func withTerminator(text, term string) string {
	if strings.HasSuffix(text, term) {
		return text
	}
	return text + term
}

// trimTerminator 去掉结束符；结束符为 "\n" 时一并去掉前面的 "\r"。
func trimTerminator(line, term string) string {
	line = strings.TrimSuffix(line, term)
	if term == "\n" {
		line = strings.TrimSuffix(line, "\r")
	}
	return line
}

// readTerminated 读取直到出现 term，支持多字节结束符。
func readTerminated(r *bufio.Reader, term string) (string, error) {
	last := term[len(term)-1]

	var sb strings.Builder
	for {
		chunk, err := r.ReadString(last)
		sb.WriteString(chunk)
		if err != nil {
			return "", err
		}
		if strings.HasSuffix(sb.String(), term) {
			return sb.String(), nil
		}
	}
}

// contextWithTimeout 在 timeout <= 0 时不设截止时间。
func contextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), timeout)
}

func deadlineOf(ctx context.Context) time.Time {
	deadline, _ := ctx.Deadline()
	return deadline
}
