package goscpi

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/xiabin827/goscpi/hislip"
)

type hislipDriver struct {
	tls *tls.Config
	log *slog.Logger
}

func (d *hislipDriver) Open(ctx context.Context, res Resource) (Instrument, error) {
	port := res.Port
	if port == 0 {
		port = hislip.DefaultPort
	}

	cfg := hislip.DefaultConfig()
	cfg.SubAddress = res.DeviceName
	cfg.Logger = d.log
	cfg.TLSConfig = d.tls
	if deadline, ok := ctx.Deadline(); ok {
		cfg.Timeout = time.Until(deadline)
	}

	client, err := hislip.Dial(ctx, net.JoinHostPort(res.Host, strconv.Itoa(port)), cfg)
	if err != nil {
		return nil, err
	}
	return &HiSLIPInstrument{client: client}, nil
}

// HiSLIPInstrument 是 TCPIP hislipN INSTR 资源。每条 SCPI 行对应一条 HiSLIP 消息。
type HiSLIPInstrument struct {
	client *hislip.Client
}

func (i *HiSLIPInstrument) Write(ctx context.Context, data []byte) error {
	return hislipError(i.client.WriteBytes(data))
}

// Read 在 ctx 没有截止时间时不限时等待，与套接字和串口后端一致。
func (i *HiSLIPInstrument) Read(ctx context.Context, term string) ([]byte, error) {
	timeout := time.Duration(0)
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return nil, ErrTimeout
		}
	}
	data, err := i.client.ReadWithTimeout(timeout)
	return data, hislipError(err)
}

func (i *HiSLIPInstrument) Close() error {
	return i.client.Close()
}

// Client 返回底层 HiSLIP 客户端，用于锁、状态查询和设备清除。
func (i *HiSLIPInstrument) Client() *hislip.Client {
	return i.client
}

// hislipError 把服务器报告的非致命错误、被中断的响应和设备清除标记为 ErrInstrument。
// 致命错误、EOF 和连接复位原样返回，由 classifyIO 归为 BrokenConnection。
func hislipError(err error) error {
	if err == nil || hislip.IsFatal(err) {
		return err
	}
	var se *hislip.ServerError
	if errors.As(err, &se) ||
		errors.Is(err, hislip.ErrInterrupted) ||
		errors.Is(err, hislip.ErrDeviceClear) {
		return fmt.Errorf("%w: %w", ErrInstrument, err)
	}
	return err
}
