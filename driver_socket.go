package goscpi

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"time"
)

// connInstrument 是 TCPIP SOCKET 资源：资源字符串中的 host 和 port 上的原始连接。
type connInstrument struct {
	conn   net.Conn
	reader *bufio.Reader
}

func openSocketInstrument(ctx context.Context, res Resource) (Instrument, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(res.Host, strconv.Itoa(res.Port)))
	if err != nil {
		return nil, err
	}
	return &connInstrument{conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (i *connInstrument) Write(ctx context.Context, data []byte) error {
	if err := i.conn.SetWriteDeadline(deadlineOf(ctx)); err != nil {
		return err
	}
	defer i.conn.SetWriteDeadline(time.Time{})

	_, err := i.conn.Write(data)
	return err
}

func (i *connInstrument) Read(ctx context.Context, term string) ([]byte, error) {
	if err := i.conn.SetReadDeadline(deadlineOf(ctx)); err != nil {
		return nil, err
	}
	defer i.conn.SetReadDeadline(time.Time{})

	line, err := readTerminated(i.reader, term)
	if err != nil {
		i.reader.Reset(i.conn)
		return nil, err
	}
	return []byte(line), nil
}

func (i *connInstrument) Close() error {
	return i.conn.Close()
}
