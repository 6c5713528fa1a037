package goscpi

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DefaultPort 是 SCPI-over-TCP/IP 的惯用端口。
const DefaultPort = 5025

// Kind 区分目标类型。
type Kind int

const (
	KindTCP Kind = iota + 1
	KindVISA
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "TCP"
	case KindVISA:
		return "VISA"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Target 标识一台仪器。只能通过构造函数创建，创建后不可变。
type Target struct {
	kind     Kind
	host     string
	port     int
	resource string
}

// NewTCPTarget 校验 host 和 port 并创建 TCP 目标。
func NewTCPTarget(host string, port int) (Target, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return Target{}, fmt.Errorf("%w: empty host", ErrInvalidTarget)
	}
	if port < 1 || port > 65535 {
		return Target{}, fmt.Errorf("%w: port %d out of range 1-65535", ErrInvalidTarget, port)
	}
	return Target{kind: KindTCP, host: host, port: port}, nil
}

// NewVISATarget 创建 VISA 目标，资源字符串原样交给驱动。
func NewVISATarget(resource string) (Target, error) {
	resource = strings.TrimSpace(resource)
	if resource == "" {
		return Target{}, fmt.Errorf("%w: empty resource string", ErrInvalidTarget)
	}
	return Target{kind: KindVISA, resource: resource}, nil
}

// ParseTarget 接受 "host"、"host:port" 或 VISA 资源字符串。
func ParseTarget(s string) (Target, error) {
	s = strings.TrimSpace(s)
	if net.ParseIP(s) != nil {
		return NewTCPTarget(s, DefaultPort)
	}
	if strings.Contains(s, "::") && !strings.HasPrefix(s, "[") {
		return NewVISATarget(s)
	}
	if !strings.Contains(s, ":") {
		return NewTCPTarget(s, DefaultPort)
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Target{}, fmt.Errorf("%w: port %q is not a number", ErrInvalidTarget, portStr)
	}
	return NewTCPTarget(host, port)
}

func (t Target) Kind() Kind {
	return t.kind
}

func (t Target) Host() string {
	return t.host
}

func (t Target) Port() int {
	return t.port
}

func (t Target) Resource() string {
	return t.resource
}

// Valid 报告目标是否由构造函数创建。
func (t Target) Valid() bool {
	return t.kind == KindTCP || t.kind == KindVISA
}

// Address 返回 TCP 目标的 host:port。
func (t Target) Address() string {
	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

func (t Target) String() string {
	switch t.kind {
	case KindTCP:
		return t.Address()
	case KindVISA:
		return t.resource
	default:
		return "<invalid target>"
	}
}
