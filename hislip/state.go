package hislip

import (
	"sync"
	"sync/atomic"
)

// LockState 表示当前锁状态。
type LockState uint8

const (
	LockNone      LockState = iota // 未持有锁
	LockExclusive                  // 持有独占锁
	LockShared                     // 持有共享锁
)

// State 保存一次 HiSLIP 连接的协商结果和消息计数。
type State struct {
	sessionID uint16

	serverVersionMajor uint8
	serverVersionMinor uint8
	serverVendorID     uint16

	messageID uint32 // 原子操作

	lockState LockState

	maxMessageSizeFromServer uint64
	preferOverlap            bool
	encryptionRequired       bool
	encrypted                bool

	clearInProgress atomic.Bool
	rmtDelivered    atomic.Bool

	lastSentID uint32
	lastRecvID uint32

	mu sync.RWMutex
}

// NewState 创建带初始 MessageID 的 State。
func NewState() *State {
	return &State{
		messageID:                InitialMessageID,
		maxMessageSizeFromServer: DefaultMaxMessageSize,
	}
}

func (s *State) SessionID() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// ServerVersion 返回服务器协议版本。
func (s *State) ServerVersion() (major, minor uint8) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverVersionMajor, s.serverVersionMinor
}

func (s *State) ServerVendorID() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverVendorID
}

// applyInitializeResponse 记录 InitializeResponse 中协商出的参数。
func (s *State) applyInitializeResponse(ctrl uint8, param uint32) {
	version, sessionID := ParseInitializeResponseParam(param)
	major, minor := ParseVersion(version)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionID = sessionID
	s.serverVersionMajor = major
	s.serverVersionMinor = minor
	s.preferOverlap = ctrl&InitFlagPreferOverlap != 0
	s.encryptionRequired = ctrl&InitFlagEncryptionMode != 0
}

func (s *State) setServerVendorID(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverVendorID = id
}

// PreferOverlap 返回服务器是否偏好 overlap 模式；客户端始终以同步模式工作。
func (s *State) PreferOverlap() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.preferOverlap
}

func (s *State) RequiresEncryption() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encryptionRequired
}

func (s *State) IsEncrypted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.encrypted
}

func (s *State) setEncrypted(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encrypted = v
}

func (s *State) MaxMessageSizeFromServer() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxMessageSizeFromServer
}

func (s *State) setMaxMessageSizeFromServer(size uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxMessageSizeFromServer = size
}

// NextMessageID 返回下一个 MessageID 并递增 2。
func (s *State) NextMessageID() uint32 {
	return atomic.AddUint32(&s.messageID, 2) - 2
}

// CurrentMessageID 返回下一次将使用的 MessageID。
func (s *State) CurrentMessageID() uint32 {
	return atomic.LoadUint32(&s.messageID)
}

func (s *State) LockState() LockState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lockState
}

func (s *State) setLockState(state LockState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockState = state
}

func (s *State) IsClearInProgress() bool {
	return s.clearInProgress.Load()
}

// takeRMTDelivered 返回自上次发送以来是否收到过完整响应，并清除该标志。
func (s *State) takeRMTDelivered() uint8 {
	if s.rmtDelivered.Swap(false) {
		return CtrlRMTDelivered
	}
	return 0
}

func (s *State) setLastSentID(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSentID = id
}

// LastSentID 返回最近发送的 MessageID，尚未发送时返回 MessageIDClear。
func (s *State) LastSentID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSentID == 0 {
		return MessageIDClear
	}
	return s.lastSentID
}

func (s *State) setLastRecvID(id uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRecvID = id
}

func (s *State) LastRecvID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRecvID
}

// Reset 在 DeviceClear 完成后恢复消息计数。
func (s *State) Reset() {
	atomic.StoreUint32(&s.messageID, InitialMessageID)
	s.rmtDelivered.Store(false)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSentID = 0
	s.lastRecvID = 0
}
