package goscpi

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Instrument 是驱动打开的一台仪器。读写的截止时间来自 ctx。
type Instrument interface {
	// Write 发送一条已带结束符的完整消息。
	Write(ctx context.Context, data []byte) error

	// Read 读取一条响应，直到 term 或消息结束。
	Read(ctx context.Context, term string) ([]byte, error)

	Close() error
}

// Driver 为一类 VISA 资源打开 Instrument。
type Driver interface {
	Open(ctx context.Context, res Resource) (Instrument, error)
}

// DriverFunc 把普通函数适配为 Driver。
type DriverFunc func(ctx context.Context, res Resource) (Instrument, error)

func (f DriverFunc) Open(ctx context.Context, res Resource) (Instrument, error) {
	return f(ctx, res)
}

// ManagerConfig 是内置驱动的参数。
type ManagerConfig struct {
	// BaudRate 用于 ASRL 资源和 Prologix 控制器，0 表示 DefaultBaudRate
	BaudRate int

	// GPIBControllers 把 GPIB 板号映射到 Prologix 控制器的串口
	GPIBControllers map[int]string

	// HiSLIPTLS 用于要求加密的 HiSLIP 服务器，nil 时连接这类服务器会失败
	HiSLIPTLS *tls.Config

	Logger *slog.Logger
}

// ResourceManager 解析资源字符串并分派给已注册的驱动。
type ResourceManager struct {
	mu      sync.RWMutex
	drivers map[string]Driver
	log     *slog.Logger

	listPorts func() ([]string, error)
}

// NewResourceManager 创建管理器并注册内置驱动：
// TCPIP SOCKET、TCPIP hislip、ASRL 和通过 Prologix 的 GPIB。
func NewResourceManager(cfg ManagerConfig) *ResourceManager {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	log := slog.New(slog.DiscardHandler)
	if cfg.Logger != nil {
		log = cfg.Logger.With("component", "visa")
	}

	m := &ResourceManager{
		drivers:   make(map[string]Driver),
		log:       log,
		listPorts: listSerialPorts,
	}
	m.Register(DriverTCPIPSocket, DriverFunc(openSocketInstrument))
	m.Register(DriverTCPIPHiSLIP, &hislipDriver{tls: cfg.HiSLIPTLS, log: log})
	m.Register(DriverASRL, &serialDriver{baud: cfg.BaudRate})
	m.Register(DriverGPIB, &prologixDriver{baud: cfg.BaudRate, controllers: cfg.GPIBControllers})
	return m
}

// Register 为 key 注册驱动，覆盖已有驱动。key 见 Resource.DriverKey。
func (m *ResourceManager) Register(key string, d Driver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers[key] = d
}

// Drivers 返回已注册的驱动键。
func (m *ResourceManager) Drivers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.drivers))
	for k := range m.drivers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Open 解析资源字符串并用对应驱动打开仪器。
func (m *ResourceManager) Open(ctx context.Context, raw string) (Instrument, Resource, error) {
	res, err := ParseResource(raw)
	if err != nil {
		return nil, Resource{}, err
	}

	m.mu.RLock()
	d, ok := m.drivers[res.DriverKey()]
	m.mu.RUnlock()
	if !ok {
		return nil, res, fmt.Errorf("%w: %s (%s)", ErrNoDriver, res.DriverKey(), raw)
	}

	m.log.Debug("opening resource", "resource", raw, "driver", res.DriverKey())
	inst, err := d.Open(ctx, res)
	if err != nil {
		return nil, res, err
	}
	return inst, res, nil
}

// List 以 ASRL 资源字符串列出本机串口。
func (m *ResourceManager) List() ([]string, error) {
	ports, err := m.listPorts()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		out = append(out, fmt.Sprintf("ASRL%s::INSTR", p))
	}
	return out, nil
}

// VISATransport 通过 ResourceManager 打开的 Instrument 收发 SCPI 行。
type VISATransport struct {
	res     Resource
	inst    Instrument
	term    string
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
}

// OpenVISA 打开 VISA 目标。cfg.Manager 为 nil 时使用默认管理器。
func OpenVISA(ctx context.Context, target Target, cfg *Config) (*VISATransport, error) {
	cfg = cfg.withDefaults()
	if target.Kind() != KindVISA {
		return nil, &ConnectError{Kind: ConnectInvalidTarget, Target: target.String(), Err: ErrInvalidTarget}
	}

	mgr := cfg.Manager
	if mgr == nil {
		mgr = NewResourceManager(ManagerConfig{Logger: cfg.Logger})
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	inst, res, err := mgr.Open(ctx, target.Resource())
	if err != nil {
		return nil, classifyConnect(target, err)
	}

	t := &VISATransport{
		res:     res,
		inst:    inst,
		term:    cfg.Terminator,
		timeout: cfg.Timeout,
		log:     cfg.logger("visa").With("resource", res.Raw),
	}
	t.log.Debug("opened", "driver", res.DriverKey())
	return t, nil
}

func (t *VISATransport) WriteLine(text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}

	ctx, cancel := contextWithTimeout(t.timeout)
	defer cancel()

	data := []byte(withTerminator(text, t.term))
	if err := t.inst.Write(ctx, data); err != nil {
		t.log.Debug("write failed", "error", err)
		return classifyIO("write", err)
	}
	t.log.Debug("write", "bytes", len(data))
	return nil
}

func (t *VISATransport) ReadLine(timeout time.Duration) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", ErrClosed
	}

	ctx, cancel := contextWithTimeout(timeout)
	defer cancel()

	data, err := t.inst.Read(ctx, t.term)
	if err != nil {
		t.log.Debug("read failed", "error", err)
		return "", classifyIO("read", err)
	}
	t.log.Debug("read", "bytes", len(data))
	return trimTerminator(string(data), t.term), nil
}

func (t *VISATransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.log.Debug("closed")
	return t.inst.Close()
}

func (t *VISATransport) String() string {
	return "visa://" + t.res.Raw
}

// Resource 返回解析后的资源。
func (t *VISATransport) Resource() Resource {
	return t.res
}

// Instrument 返回底层驱动句柄，用于驱动特有的操作（例如 HiSLIP 锁）。
func (t *VISATransport) Instrument() Instrument {
	return t.inst
}
