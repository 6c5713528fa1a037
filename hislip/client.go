package hislip

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Config 保存创建 Client 的配置。
type Config struct {
	// SubAddress 是 HiSLIP 子地址（例如 "hislip0"）
	SubAddress string

	// VendorID 是客户端的供应商 ID，两个 ASCII 字符编码
	VendorID uint16

	// Timeout 用于握手、异步通道请求和默认读取
	Timeout time.Duration

	// TLSConfig 在服务器要求加密时使用；nil 时遇到强制加密的服务器返回 ErrTLSRequired
	TLSConfig *tls.Config

	// Logger 用于调试输出（nil 禁用日志）
	Logger *slog.Logger
}

// DefaultConfig 返回带默认值的 Config。
func DefaultConfig() *Config {
	return &Config{
		SubAddress: "hislip0",
		VendorID:   uint16('G')<<8 | uint16('O'),
		Timeout:    30 * time.Second,
	}
}

// Client 是工作在同步模式下的 HiSLIP 客户端。
// 同步通道承载 SCPI 数据，异步通道承载锁、状态查询和设备清除。
// 所有操作都是调用方线程上的请求/响应，没有后台读取协程。
type Client struct {
	syncConn  *Conn
	asyncConn *Conn

	state  *State
	config *Config

	mu     sync.Mutex
	closed bool

	queryMu sync.Mutex // Write+Read 对
	asyncMu sync.Mutex // 异步通道上一次只允许一个请求
}

// NewClient 创建尚未连接的客户端。
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.SubAddress == "" {
		config.SubAddress = "hislip0"
	}
	return &Client{
		state:  NewState(),
		config: config,
	}
}

// Dial 创建客户端并连接到服务器。
func Dial(ctx context.Context, address string, config *Config) (*Client, error) {
	client := NewClient(config)
	if err := client.Connect(ctx, address); err != nil {
		return nil, err
	}
	return client, nil
}

// Connect 按 IVI-6.1 顺序建立同步和异步两条通道。
func (c *Client) Connect(ctx context.Context, address string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.syncConn != nil {
		return fmt.Errorf("already connected")
	}
	address = withDefaultPort(address)
	c.log("connecting", "address", address, "sub_address", c.config.SubAddress)

	abort := func(err error) error {
		if c.syncConn != nil {
			c.syncConn.Close()
		}
		if c.asyncConn != nil {
			c.asyncConn.Close()
		}
		c.syncConn, c.asyncConn = nil, nil
		return err
	}

	syncConn, err := dial(ctx, address, c.config.Timeout)
	if err != nil {
		return fmt.Errorf("dial sync: %w", err)
	}
	c.syncConn = syncConn

	if err := c.initializeSync(ctx); err != nil {
		return abort(fmt.Errorf("initialize: %w", err))
	}

	asyncConn, err := dial(ctx, address, c.config.Timeout)
	if err != nil {
		return abort(fmt.Errorf("dial async: %w", err))
	}
	c.asyncConn = asyncConn

	if err := c.initializeAsync(ctx); err != nil {
		return abort(fmt.Errorf("async initialize: %w", err))
	}

	if err := c.negotiateMaxMessageSize(ctx); err != nil {
		// 非致命，沿用默认上限
		c.log("max message size negotiation failed", "error", err)
	}

	if c.state.RequiresEncryption() {
		if c.config.TLSConfig == nil {
			return abort(ErrTLSRequired)
		}
		if err := c.startSecureSession(ctx); err != nil {
			return abort(fmt.Errorf("secure connection: %w", err))
		}
	}

	major, minor := c.state.ServerVersion()
	c.log("connected", "session_id", c.state.SessionID(), "version", fmt.Sprintf("%d.%d", major, minor))
	return nil
}

func (c *Client) initializeSync(ctx context.Context) error {
	param := MakeInitializeParam(ProtocolVersion, c.config.VendorID)
	if err := c.syncConn.Send(MsgInitialize, 0, param, []byte(c.config.SubAddress)); err != nil {
		return err
	}

	msg, err := c.syncConn.Expect(MsgInitializeResponse, deadlineFor(ctx, c.config.Timeout))
	if err != nil {
		return err
	}
	c.state.applyInitializeResponse(msg.Header.Control, msg.Header.Param)
	return nil
}

func (c *Client) initializeAsync(ctx context.Context) error {
	if err := c.asyncConn.Send(MsgAsyncInitialize, 0, uint32(c.state.SessionID()), nil); err != nil {
		return err
	}

	msg, err := c.asyncConn.Expect(MsgAsyncInitializeResponse, deadlineFor(ctx, c.config.Timeout))
	if err != nil {
		return err
	}
	c.state.setServerVendorID(uint16(msg.Header.Param))
	return nil
}

// negotiateMaxMessageSize 告知服务器本端可接收的最大消息并记录服务器的上限。
func (c *Client) negotiateMaxMessageSize(ctx context.Context) error {
	msg, err := c.asyncRequest(ctx, MsgAsyncMaximumMessageSize, 0, 0,
		encodeSize(DefaultMaxMessageSize), MsgAsyncMaximumMessageSizeResp, c.config.Timeout)
	if err != nil {
		return err
	}
	if size, ok := decodeSize(msg.Payload); ok && size > 0 {
		c.state.setMaxMessageSizeFromServer(size)
		c.log("negotiated max message size", "bytes", size)
	}
	return nil
}

// Close 关闭两条通道，重复调用安全。
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var first error
	for _, conn := range []*Conn{c.syncConn, c.asyncConn} {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	c.log("closed")
	return first
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.syncConn == nil {
		return ErrNotConnected
	}
	return nil
}

// Write 发送一条 SCPI 命令。
func (c *Client) Write(cmd string) error {
	return c.WriteBytes([]byte(cmd))
}

// WriteBytes 以一个 MessageID 发送数据，超过服务器上限时拆分为 Data + DataEnd。
func (c *Client) WriteBytes(data []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.state.IsClearInProgress() {
		return ErrDeviceClear
	}

	msgID := c.state.NextMessageID()
	ctrl := c.state.takeRMTDelivered()
	c.state.setLastSentID(msgID)

	chunk := c.state.MaxMessageSizeFromServer()
	for uint64(len(data)) > chunk {
		if err := c.syncConn.Send(MsgData, ctrl, msgID, data[:chunk]); err != nil {
			return err
		}
		data = data[chunk:]
		ctrl = 0
	}

	c.log("write", "message_id", fmt.Sprintf("0x%08x", msgID), "len", len(data))
	return c.syncConn.Send(MsgDataEnd, ctrl, msgID, data)
}

// Read 使用配置的超时读取一条完整响应。
func (c *Client) Read() ([]byte, error) {
	return c.ReadWithTimeout(c.config.Timeout)
}

// ReadWithTimeout 读取 Data* DataEnd 序列组成的一条响应，timeout <= 0 表示不限时。
// MessageID 与最近一次发送不符的 Data/DataEnd 属于已超时的旧请求，直接丢弃。
func (c *Client) ReadWithTimeout(timeout time.Duration) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}

	var (
		result   bytes.Buffer
		deadline time.Time
	)
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	want := c.state.LastSentID()

	for {
		msg, err := c.syncConn.Receive(deadline)
		if err != nil {
			return nil, err
		}

		switch msg.Header.MsgType {
		case MsgData, MsgDataEnd:
			if want != MessageIDClear && msg.Header.Param != want {
				c.log("discarding stale response", "message_id", fmt.Sprintf("0x%08x", msg.Header.Param),
					"want", fmt.Sprintf("0x%08x", want))
				continue
			}
			result.Write(msg.Payload)
			if msg.Header.MsgType == MsgData {
				continue
			}
			c.state.setLastRecvID(msg.Header.Param)
			c.state.rmtDelivered.Store(true)
			c.log("read complete", "message_id", fmt.Sprintf("0x%08x", msg.Header.Param), "len", result.Len())
			return result.Bytes(), nil

		case MsgFatalError:
			err := errorFromMessage(msg)
			c.log("fatal error", "error", err)
			c.Close()
			return nil, err

		case MsgError:
			return nil, errorFromMessage(msg)

		case MsgInterrupted:
			return nil, ErrInterrupted

		default:
			c.log("unexpected message during read", "type", MsgTypeName(msg.Header.MsgType))
		}
	}
}

// Query 发送命令并读取响应，去除首尾空白。
func (c *Client) Query(cmd string) (string, error) {
	c.queryMu.Lock()
	defer c.queryMu.Unlock()

	if err := c.Write(cmd); err != nil {
		return "", err
	}
	data, err := c.Read()
	if err != nil {
		return "", err
	}
	return string(bytes.TrimSpace(data)), nil
}

// asyncRequest 在异步通道上发送一条消息并等待 expect 类型的响应。
func (c *Client) asyncRequest(ctx context.Context, msgType, ctrl uint8, param uint32, payload []byte, expect uint8, timeout time.Duration) (*Message, error) {
	c.asyncMu.Lock()
	defer c.asyncMu.Unlock()

	if err := c.asyncConn.Send(msgType, ctrl, param, payload); err != nil {
		return nil, err
	}
	return c.asyncConn.Expect(expect, deadlineFor(ctx, timeout))
}

// Lock 请求独占锁，timeout 是服务器端等待锁的时间。
func (c *Client) Lock(ctx context.Context, timeout time.Duration) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	timeoutMs := uint32(timeout / time.Millisecond)
	msg, err := c.asyncRequest(ctx, MsgAsyncLock, CtrlLockRequest, timeoutMs, nil,
		MsgAsyncLockResponse, timeout+c.config.Timeout)
	if err != nil {
		return err
	}

	switch msg.Header.Control {
	case CtrlLockSuccess:
		c.state.setLockState(LockExclusive)
		c.log("lock acquired")
		return nil
	case CtrlLockFail:
		return ErrLockTimeout
	case CtrlLockError:
		return ErrLockFailed
	default:
		return fmt.Errorf("unexpected lock response: ctrl=%d", msg.Header.Control)
	}
}

// Unlock 释放锁，参数为释放前需完成的最后一个 MessageID。
func (c *Client) Unlock(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if c.state.LockState() == LockNone {
		return ErrNotLocked
	}

	msg, err := c.asyncRequest(ctx, MsgAsyncLock, CtrlLockRelease, c.state.LastSentID(), nil,
		MsgAsyncLockResponse, c.config.Timeout)
	if err != nil {
		return err
	}
	if msg.Header.Control == CtrlLockError {
		return ErrLockFailed
	}

	c.state.setLockState(LockNone)
	c.log("lock released")
	return nil
}

// Status 通过异步通道读取状态字节 (STB)。
func (c *Client) Status(ctx context.Context) (byte, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}

	var ctrl uint8
	if c.state.rmtDelivered.Load() {
		ctrl = CtrlRMTDelivered
	}
	msg, err := c.asyncRequest(ctx, MsgAsyncStatusQuery, ctrl, c.state.LastSentID(), nil,
		MsgAsyncStatusResponse, c.config.Timeout)
	if err != nil {
		return 0, err
	}
	return msg.Header.Control, nil
}

// RemoteLocal 发送 GPIB 风格的远程/本地控制命令。
func (c *Client) RemoteLocal(ctx context.Context, mode uint8) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	_, err := c.asyncRequest(ctx, MsgAsyncRemoteLocalControl, mode, c.state.LastSentID(), nil,
		MsgAsyncRemoteLocalResponse, c.config.Timeout)
	return err
}

// Trigger 在同步通道上发送触发消息。
func (c *Client) Trigger() error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	msgID := c.state.NextMessageID()
	c.state.setLastSentID(msgID)
	return c.syncConn.Send(MsgTrigger, c.state.takeRMTDelivered(), msgID, nil)
}

// DeviceClear 执行设备清除：异步通道通知，丢弃同步通道上的残留数据，然后重置计数。
func (c *Client) DeviceClear(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	c.queryMu.Lock()
	defer c.queryMu.Unlock()
	c.state.clearInProgress.Store(true)
	defer c.state.clearInProgress.Store(false)

	deadline := deadlineFor(ctx, c.config.Timeout)

	ack, err := c.asyncRequest(ctx, MsgAsyncDeviceClear, 0, 0, nil,
		MsgAsyncDeviceClearAcknowledge, c.config.Timeout)
	if err != nil {
		return fmt.Errorf("wait AsyncDeviceClearAcknowledge: %w", err)
	}

	// 回显服务器给出的功能偏好
	if err := c.syncConn.Send(MsgDeviceClearComplete, ack.Header.Control, 0, nil); err != nil {
		return fmt.Errorf("send DeviceClearComplete: %w", err)
	}

	for {
		msg, err := c.syncConn.Receive(deadline)
		if err != nil {
			return fmt.Errorf("wait DeviceClearAcknowledge: %w", err)
		}
		if msg.Header.MsgType == MsgDeviceClearAcknowledge {
			break
		}
		if msg.Header.MsgType == MsgFatalError {
			return errorFromMessage(msg)
		}
		c.log("discarding message during clear", "type", MsgTypeName(msg.Header.MsgType))
	}

	c.state.Reset()
	c.log("device clear complete")
	return nil
}

func (c *Client) log(msg string, args ...any) {
	if c.config.Logger != nil {
		c.config.Logger.Debug("[hislip] "+msg, args...)
	}
}

// State 返回协商状态。
func (c *Client) State() *State {
	return c.state
}

// IsConnected 返回客户端是否已连接且未关闭。
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncConn != nil && !c.closed
}
