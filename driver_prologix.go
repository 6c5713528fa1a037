package goscpi

import (
	"context"
	"fmt"
)

const prologixEscapeByte = 0x1b

// prologixDriver 通过串口上的 Prologix GPIB-USB 控制器访问 GPIB 仪器。
type prologixDriver struct {
	baud        int
	controllers map[int]string
}

func (d *prologixDriver) Open(ctx context.Context, res Resource) (Instrument, error) {
	name, ok := d.controllers[res.Board]
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: no Prologix controller configured for GPIB%d", ErrNoDriver, res.Board)
	}

	port, err := openSerialPort(name, d.baud)
	if err != nil {
		return nil, err
	}

	inst := &prologixInstrument{portInstrument: newPortInstrument(port)}
	if err := inst.setup(ctx, res); err != nil {
		port.Close()
		return nil, fmt.Errorf("configure Prologix controller on %s: %w", name, err)
	}
	return inst, nil
}

// prologixInstrument 把数据转义后交给控制器，读取时显式请求 "++read eoi"。
type prologixInstrument struct {
	*portInstrument
}

// setup 设置控制器模式：不自动读取，写入末尾置 EOI，不附加 GPIB 结束符。
func (i *prologixInstrument) setup(ctx context.Context, res Resource) error {
	addr := fmt.Sprintf("++addr %d", res.Primary)
	if res.Secondary >= 0 {
		addr = fmt.Sprintf("++addr %d %d", res.Primary, 96+res.Secondary)
	}

	for _, cmd := range []string{"++mode 1", "++auto 0", addr, "++eoi 1", "++eos 3"} {
		if err := i.command(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (i *prologixInstrument) command(ctx context.Context, cmd string) error {
	return i.portInstrument.Write(ctx, []byte(cmd+"\n"))
}

func (i *prologixInstrument) Write(ctx context.Context, data []byte) error {
	return i.portInstrument.Write(ctx, append(prologixEscape(data), '\n'))
}

func (i *prologixInstrument) Read(ctx context.Context, term string) ([]byte, error) {
	if err := i.command(ctx, "++read eoi"); err != nil {
		return nil, err
	}
	return i.portInstrument.Read(ctx, term)
}

// prologixEscape 转义 CR、LF、ESC 和 '+'，未转义的 LF 结束一条发给控制器的命令。
func prologixEscape(data []byte) []byte {
	out := make([]byte, 0, len(data)+4)
	for _, b := range data {
		switch b {
		case '\r', '\n', prologixEscapeByte, '+':
			out = append(out, prologixEscapeByte)
		}
		out = append(out, b)
	}
	return out
}
