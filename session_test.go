package goscpi

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// stubTransport 记录调用次数，reply 为 nil 时读取会一直等到超时。
type stubTransport struct {
	mu       sync.Mutex
	writes   []string
	reads    int
	closes   int
	closed   bool
	reply    func(last string) (string, error)
	writeErr func(n int) error
}

var _ Transport = (*stubTransport)(nil)

func echoTransport() *stubTransport {
	return &stubTransport{
		reply: func(last string) (string, error) {
			return "REPLY:" + last, nil
		},
	}
}

func (s *stubTransport) WriteLine(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.writes = append(s.writes, text)
	if s.writeErr != nil {
		return s.writeErr(len(s.writes))
	}
	return nil
}

func (s *stubTransport) ReadLine(timeout time.Duration) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.reads++
	reply := s.reply
	last := ""
	if len(s.writes) > 0 {
		last = s.writes[len(s.writes)-1]
	}
	s.mu.Unlock()

	if reply == nil {
		time.Sleep(timeout)
		return "", &IOError{Kind: ReadTimeout, Op: "read", Err: ErrTimeout}
	}
	return reply(last)
}

func (s *stubTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.closed = true
	return nil
}

func (s *stubTransport) String() string {
	return "stub"
}

func (s *stubTransport) counts() (writes, reads, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes), s.reads, s.closes
}

func TestIsQuery(t *testing.T) {
	tests := []struct {
		cmd  string
		want bool
	}{
		{"*IDN?", true},
		{"MEAS:VOLT?", true},
		{"*OPC? ", true},
		{"VOLT:AC 100", false},
		{"OUTP 1;", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsQuery(tt.cmd); got != tt.want {
			t.Errorf("IsQuery(%q) = %v, want %v", tt.cmd, got, tt.want)
		}
	}
}

func TestSession_QueryRoundTrip(t *testing.T) {
	st := echoTransport()
	s := NewSession(st)

	reply, err := s.Query("FREQ?")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if reply != "REPLY:FREQ?" {
		t.Errorf("reply = %q, want %q", reply, "REPLY:FREQ?")
	}

	writes, reads, _ := st.counts()
	if writes != 1 || reads != 1 {
		t.Errorf("writes=%d reads=%d, want exactly one of each", writes, reads)
	}
}

func TestSession_QueryRejectsCommand(t *testing.T) {
	for _, cmd := range []string{"VOLT:AC 100", "OUTP 1;", "*RST", ""} {
		st := echoTransport()
		s := NewSession(st)

		if _, err := s.Query(cmd); !errors.Is(err, ErrNotAQuery) {
			t.Errorf("Query(%q) = %v, want ErrNotAQuery", cmd, err)
		}
		if writes, reads, _ := st.counts(); writes != 0 || reads != 0 {
			t.Errorf("Query(%q) performed I/O: writes=%d reads=%d", cmd, writes, reads)
		}
	}
}

func TestSession_SendNeverReads(t *testing.T) {
	st := echoTransport()
	s := NewSession(st)

	for _, cmd := range []string{"VOLT:AC 100", "*IDN?"} {
		if err := s.Send(cmd); err != nil {
			t.Fatalf("Send(%q) failed: %v", cmd, err)
		}
	}
	if writes, reads, _ := st.counts(); writes != 2 || reads != 0 {
		t.Errorf("writes=%d reads=%d, want 2 writes and no reads", writes, reads)
	}
}

func TestSession_QueryTimeout(t *testing.T) {
	const timeout = 100 * time.Millisecond
	st := &stubTransport{}
	s := NewSession(st, WithReadTimeout(timeout))

	start := time.Now()
	_, err := s.Query("*IDN?")
	elapsed := time.Since(start)

	var ioErr *IOError
	if !errors.As(err, &ioErr) || ioErr.Kind != ReadTimeout {
		t.Fatalf("err = %v, want ReadTimeout", err)
	}
	if elapsed < timeout {
		t.Errorf("returned after %v, before the %v timeout", elapsed, timeout)
	}
	if elapsed > timeout+500*time.Millisecond {
		t.Errorf("returned after %v, too long past the %v timeout", elapsed, timeout)
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout should be true")
	}
}

func TestSession_BrokenIsTerminal(t *testing.T) {
	broken := &IOError{Kind: BrokenConnection, Op: "write", Err: errors.New("connection reset")}
	st := echoTransport()
	st.writeErr = func(n int) error {
		if n == 1 {
			return broken
		}
		return nil
	}
	s := NewSession(st)

	if err := s.Send("OUTP 1"); !IsBrokenConnection(err) {
		t.Fatalf("first Send = %v, want BrokenConnection", err)
	}
	if _, err := s.Query("*IDN?"); err != broken {
		t.Errorf("Query after broken = %v, want the original error", err)
	}
	if writes, _, _ := st.counts(); writes != 1 {
		t.Errorf("writes = %d, transport used after BrokenConnection", writes)
	}
}

func TestSession_Exec(t *testing.T) {
	s := NewSession(echoTransport())

	res, err := s.Exec("*IDN?")
	if err != nil {
		t.Fatalf("Exec query failed: %v", err)
	}
	if !res.IsReply || res.String() != "REPLY:*IDN?" {
		t.Errorf("Exec(*IDN?) = %+v", res)
	}

	res, err = s.Exec("VOLT:AC 100")
	if err != nil {
		t.Fatalf("Exec command failed: %v", err)
	}
	if res.IsReply || res.String() != Ack {
		t.Errorf("Exec(VOLT:AC 100) = %+v, want Ack", res)
	}
}

func TestSession_ClosedTransport(t *testing.T) {
	st := echoTransport()
	s := NewSession(st)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := s.Send("*RST"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	if _, err := s.Query("*IDN?"); !errors.Is(err, ErrClosed) {
		t.Errorf("Query after Close = %v, want ErrClosed", err)
	}
}

func TestSession_SerializesQueries(t *testing.T) {
	st := &stubTransport{
		reply: func(last string) (string, error) {
			time.Sleep(time.Millisecond)
			return last, nil
		},
	}
	s := NewSession(st)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := "MEAS" + strings.Repeat("X", i) + "?"
			reply, err := s.Query(cmd)
			if err != nil {
				errs <- err
				return
			}
			if reply != cmd {
				errs <- errors.New("reply " + reply + " attributed to " + cmd)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
