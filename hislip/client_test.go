package hislip

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"
)

const fakeSessionID = 7

// fakeServer 是一个最小的 HiSLIP 服务器，只实现测试需要的消息。
type fakeServer struct {
	t        *testing.T
	ln       net.Listener
	replies  map[string]string
	maxSize  uint64
	lockCtrl uint8
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{
		t:        t,
		ln:       ln,
		replies:  map[string]string{"*IDN?\n": "ACME,FAKE-1,0001,1.0\n"},
		maxSize:  1 << 20,
		lockCtrl: CtrlLockSuccess,
	}
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *fakeServer) addr() string {
	return s.ln.Addr().String()
}

// serve 依次接受同步和异步通道并完成初始化握手。
func (s *fakeServer) serve() {
	syncRaw, err := s.ln.Accept()
	if err != nil {
		return
	}
	syncConn := NewConn(syncRaw)
	s.t.Cleanup(func() { syncConn.Close() })

	init, err := syncConn.Receive(time.Time{})
	if err != nil || init.Header.MsgType != MsgInitialize {
		s.t.Errorf("expected Initialize, got %v (err %v)", init, err)
		return
	}
	syncConn.Send(MsgInitializeResponse, 0,
		MakeInitializeResponseParam(ProtocolVersion, fakeSessionID), nil)

	asyncRaw, err := s.ln.Accept()
	if err != nil {
		return
	}
	asyncConn := NewConn(asyncRaw)
	s.t.Cleanup(func() { asyncConn.Close() })

	ainit, err := asyncConn.Receive(time.Time{})
	if err != nil || ainit.Header.MsgType != MsgAsyncInitialize || ainit.Header.Param != fakeSessionID {
		s.t.Errorf("expected AsyncInitialize for session %d, got %v (err %v)", fakeSessionID, ainit, err)
		return
	}
	asyncConn.Send(MsgAsyncInitializeResponse, 0, 0x5253, nil)

	go s.serveSync(syncConn)
	go s.serveAsync(asyncConn)
}

func (s *fakeServer) serveSync(conn *Conn) {
	for {
		msg, err := conn.Receive(time.Time{})
		if err != nil {
			return
		}
		switch msg.Header.MsgType {
		case MsgDataEnd:
			switch string(msg.Payload) {
			case "BAD?\n":
				conn.Send(MsgError, 1, 0, []byte("undefined header"))
				continue
			case "SLOW?\n":
				// 响应分两段，在客户端超时之后才发出
				time.Sleep(300 * time.Millisecond)
				conn.Send(MsgData, 0, msg.Header.Param, []byte("slow-"))
				conn.Send(MsgDataEnd, 0, msg.Header.Param, []byte("reply\n"))
				continue
			}
			if reply, ok := s.replies[string(msg.Payload)]; ok {
				conn.Send(MsgDataEnd, 0, msg.Header.Param, []byte(reply))
			}
		case MsgDeviceClearComplete:
			conn.Send(MsgDeviceClearAcknowledge, msg.Header.Control, 0, nil)
		}
	}
}

func (s *fakeServer) serveAsync(conn *Conn) {
	for {
		msg, err := conn.Receive(time.Time{})
		if err != nil {
			return
		}
		switch msg.Header.MsgType {
		case MsgAsyncMaximumMessageSize:
			conn.Send(MsgAsyncMaximumMessageSizeResp, 0, 0, encodeSize(s.maxSize))
		case MsgAsyncLock:
			ctrl := s.lockCtrl
			if msg.Header.Control == CtrlLockRelease {
				ctrl = CtrlLockSuccess
			}
			conn.Send(MsgAsyncLockResponse, ctrl, 0, nil)
		case MsgAsyncStatusQuery:
			conn.Send(MsgAsyncStatusResponse, 0x10, 0, nil)
		case MsgAsyncDeviceClear:
			conn.Send(MsgAsyncDeviceClearAcknowledge, 0, 0, nil)
		}
	}
}

func dialFake(t *testing.T, s *fakeServer) *Client {
	t.Helper()
	go s.serve()

	cfg := DefaultConfig()
	cfg.Timeout = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, s.addr(), cfg)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestClient_ConnectNegotiates(t *testing.T) {
	s := newFakeServer(t)
	client := dialFake(t, s)

	st := client.State()
	if st.SessionID() != fakeSessionID {
		t.Errorf("SessionID = %d, want %d", st.SessionID(), fakeSessionID)
	}
	if st.ServerVendorID() != 0x5253 {
		t.Errorf("ServerVendorID = 0x%04x, want 0x5253", st.ServerVendorID())
	}
	if st.MaxMessageSizeFromServer() != s.maxSize {
		t.Errorf("MaxMessageSizeFromServer = %d, want %d", st.MaxMessageSizeFromServer(), s.maxSize)
	}
	if !client.IsConnected() {
		t.Error("IsConnected should be true")
	}
}

func TestClient_Query(t *testing.T) {
	s := newFakeServer(t)
	client := dialFake(t, s)

	idn, err := client.Query("*IDN?\n")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if idn != "ACME,FAKE-1,0001,1.0" {
		t.Errorf("Query = %q", idn)
	}
	if client.State().LastRecvID() != InitialMessageID {
		t.Errorf("LastRecvID = 0x%08x, want 0x%08x", client.State().LastRecvID(), InitialMessageID)
	}
}

func TestClient_ReadTimeout(t *testing.T) {
	s := newFakeServer(t)
	client := dialFake(t, s)

	if err := client.Write("NOREPLY?\n"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	start := time.Now()
	_, err := client.ReadWithTimeout(100 * time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	var ne net.Error
	if !errors.As(err, &ne) || !ne.Timeout() {
		t.Errorf("err = %v, want a net timeout", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout in chain", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("returned after %v, before the timeout", elapsed)
	}
}

func TestClient_LockStatusClear(t *testing.T) {
	s := newFakeServer(t)
	client := dialFake(t, s)
	ctx := context.Background()

	if err := client.Unlock(ctx); !errors.Is(err, ErrNotLocked) {
		t.Errorf("Unlock before Lock = %v, want ErrNotLocked", err)
	}
	if err := client.Lock(ctx, time.Second); err != nil {
		t.Fatalf("Lock failed: %v", err)
	}
	if client.State().LockState() != LockExclusive {
		t.Errorf("LockState = %d, want LockExclusive", client.State().LockState())
	}

	stb, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if stb != 0x10 {
		t.Errorf("STB = 0x%02x, want 0x10", stb)
	}

	if err := client.DeviceClear(ctx); err != nil {
		t.Fatalf("DeviceClear failed: %v", err)
	}
	if client.State().CurrentMessageID() != InitialMessageID {
		t.Errorf("MessageID not reset after DeviceClear")
	}

	if err := client.Unlock(ctx); err != nil {
		t.Fatalf("Unlock failed: %v", err)
	}
	if client.State().LockState() != LockNone {
		t.Errorf("LockState = %d, want LockNone", client.State().LockState())
	}
}

func TestClient_LockTimeout(t *testing.T) {
	s := newFakeServer(t)
	s.lockCtrl = CtrlLockFail
	client := dialFake(t, s)

	err := client.Lock(context.Background(), 10*time.Millisecond)
	if !errors.Is(err, ErrLockTimeout) {
		t.Errorf("Lock = %v, want ErrLockTimeout", err)
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	s := newFakeServer(t)
	client := dialFake(t, s)

	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
	if err := client.Write("*RST"); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
}

func TestClient_ServerError(t *testing.T) {
	s := newFakeServer(t)
	client := dialFake(t, s)

	_, err := client.Query("BAD?\n")
	var se *ServerError
	if !errors.As(err, &se) {
		t.Fatalf("Query = %v, want *ServerError", err)
	}
	if se.Fatal || se.Code != 1 || se.Message != "undefined header" {
		t.Errorf("ServerError = %+v", se)
	}
	if IsFatal(err) {
		t.Error("IsFatal should be false for MsgError")
	}

	// 非致命错误后连接仍可用
	if _, err := client.Query("*IDN?\n"); err != nil {
		t.Errorf("Query after server error failed: %v", err)
	}
}

func TestClient_StaleReplyDiscarded(t *testing.T) {
	s := newFakeServer(t)
	client := dialFake(t, s)

	if err := client.Write("SLOW?\n"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := client.ReadWithTimeout(100 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("ReadWithTimeout = %v, want ErrTimeout", err)
	}

	idn, err := client.Query("*IDN?\n")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if idn != "ACME,FAKE-1,0001,1.0" {
		t.Errorf("Query = %q, late reply of the timed-out request leaked", idn)
	}
}
