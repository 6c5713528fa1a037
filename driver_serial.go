package goscpi

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime"
	"time"

	"go.bug.st/serial"
)

// DefaultBaudRate 用于 ASRL 资源和 Prologix 控制器。
const DefaultBaudRate = 9600

// serialPollInterval 是等待串口数据时单次阻塞的上限。
const serialPollInterval = 100 * time.Millisecond

// serialPort 是驱动用到的 serial.Port 子集。
type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

var openSerialPort = func(name string, baud int) (serialPort, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", name, err)
	}
	return port, nil
}

func listSerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

// serialPortName 把 ASRL 地址映射为设备名。数字 n 在 Windows 上是 COMn，其它系统上是 /dev/ttyS(n-1)。
func serialPortName(res Resource) string {
	if res.Address == "" || res.Address[0] < '0' || res.Address[0] > '9' {
		return res.Address
	}
	if runtime.GOOS == "windows" {
		return fmt.Sprintf("COM%d", res.Board)
	}
	n := res.Board - 1
	if n < 0 {
		n = 0
	}
	return fmt.Sprintf("/dev/ttyS%d", n)
}

type serialDriver struct {
	baud int
}

func (d *serialDriver) Open(ctx context.Context, res Resource) (Instrument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	port, err := openSerialPort(serialPortName(res), d.baud)
	if err != nil {
		return nil, err
	}
	return newPortInstrument(port), nil
}

// deadlineReader 在截止时间前反复读取串口。
// go.bug.st/serial 的读超时返回 (0, nil)，这里把截止时间到达转换为 ErrTimeout。
type deadlineReader struct {
	port     serialPort
	deadline time.Time
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	for {
		wait := serialPollInterval
		if !r.deadline.IsZero() {
			remaining := time.Until(r.deadline)
			if remaining <= 0 {
				return 0, ErrTimeout
			}
			if remaining < wait {
				wait = remaining
			}
		}
		if err := r.port.SetReadTimeout(wait); err != nil {
			return 0, err
		}
		n, err := r.port.Read(p)
		if err != nil {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
}

// portInstrument 是串口上的行式仪器。
type portInstrument struct {
	port   serialPort
	src    *deadlineReader
	reader *bufio.Reader
}

func newPortInstrument(port serialPort) *portInstrument {
	src := &deadlineReader{port: port}
	return &portInstrument{
		port:   port,
		src:    src,
		reader: bufio.NewReader(src),
	}
}

// Write 写完 data 或在 ctx 到期时返回。串口写入本身不可中断，
// 到期后关闭端口让阻塞的 Write 退出，之后的读写都会失败。
func (i *portInstrument) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		return writeAll(i.port, data)
	}

	done := make(chan error, 1)
	go func() { done <- writeAll(i.port, data) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		i.port.Close()
		return fmt.Errorf("serial write: %w", ctx.Err())
	}
}

func writeAll(w io.Writer, data []byte) error {
	written := 0
	for written < len(data) {
		n, err := w.Write(data[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

func (i *portInstrument) Read(ctx context.Context, term string) ([]byte, error) {
	i.src.deadline = deadlineOf(ctx)
	line, err := readTerminated(i.reader, term)
	if err != nil {
		i.reader.Reset(i.src)
		return nil, err
	}
	return []byte(line), nil
}

func (i *portInstrument) Close() error {
	return i.port.Close()
}
