package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/xiabin827/goscpi"
	"github.com/xiabin827/goscpi/internal/history"
)

const rule = "============================================================"

// connect 打印横幅并建立会话。失败时打印排查提示并返回 cli.Exit 错误。
func (a *app) connect(ctx context.Context) (*goscpi.Session, goscpi.Target, error) {
	target, err := a.opts.Target()
	if err != nil {
		return nil, target, cli.Exit(err.Error(), 2)
	}
	logger := a.logs.Logger()
	cfg, err := a.opts.Config(logger)
	if err != nil {
		return nil, target, cli.Exit(err.Error(), 2)
	}

	if a.opts.Banner {
		a.banner(target)
	}

	t, err := goscpi.Connect(ctx, target, cfg)
	if err != nil {
		fmt.Fprintf(a.stdout, "\n✗ Could not establish connection: %v\n", err)
		a.hints(target, err)
		return nil, target, cli.Exit("connection failed", 1)
	}
	fmt.Fprintf(a.stdout, "✓ Connected to %s\n", target)

	s := goscpi.NewSession(t,
		goscpi.WithReadTimeout(a.opts.ReadTimeoutDuration()),
		goscpi.WithLogger(logger),
	)
	return s, target, nil
}

func (a *app) disconnect(s *goscpi.Session, target goscpi.Target) {
	if err := s.Close(); err != nil {
		a.logs.Logger().Warn("close session", "target", target.String(), "error", err)
		return
	}
	fmt.Fprintf(a.stdout, "✓ Disconnected from %s\n", target)
}

func (a *app) banner(target goscpi.Target) {
	fmt.Fprintln(a.stdout, rule)
	if target.Kind() == goscpi.KindVISA {
		fmt.Fprintln(a.stdout, "SCPI COMMANDS - VISA COMMUNICATION")
		fmt.Fprintln(a.stdout, rule)
		fmt.Fprintf(a.stdout, "Resource: %s\n", target.Resource())
	} else {
		fmt.Fprintln(a.stdout, "SCPI COMMANDS - TCP/IP COMMUNICATION")
		fmt.Fprintln(a.stdout, rule)
		fmt.Fprintf(a.stdout, "IP: %s\n", target.Host())
		fmt.Fprintf(a.stdout, "Port: %d\n", target.Port())
	}
	fmt.Fprintf(a.stdout, "Timeout: %d ms\n", a.opts.Timeout)
	fmt.Fprintln(a.stdout, rule)
}

func (a *app) hints(target goscpi.Target, err error) {
	var lines []string
	if target.Kind() == goscpi.KindVISA {
		lines = []string{
			"A driver is available for the resource type (" + strings.Join(goscpi.NewResourceManager(goscpi.ManagerConfig{}).Drivers(), ", ") + ")",
			"The equipment is powered on",
			"The resource string is correct",
			"The equipment is accessible via VISA",
		}
		if strings.HasPrefix(strings.ToUpper(target.Resource()), "GPIB") && a.opts.GPIBPort == "" {
			lines = append(lines, "GPIB resources need --gpib-port pointing at a Prologix controller")
		}
	} else {
		lines = []string{
			"The equipment is powered on",
			"The IP address is correct",
			"The equipment is on the same network",
			"The firewall allows the connection",
		}
	}

	var ce *goscpi.ConnectError
	if errors.As(err, &ce) && ce.Kind == goscpi.ConnectTimeout {
		lines = append(lines, fmt.Sprintf("The equipment answers within %d ms (--timeout)", a.opts.Timeout))
	}

	fmt.Fprintln(a.stdout, "Verify:")
	for _, l := range lines {
		fmt.Fprintf(a.stdout, "  - %s\n", l)
	}
}

// recorder 在配置了 --history 时返回写入记录库的 Recorder。
// 打不开记录库只记警告，命令照常执行。
func (a *app) recorder(ctx context.Context, target goscpi.Target) (goscpi.Recorder, func()) {
	if a.opts.History == "" {
		return nil, func() {}
	}
	logger := a.logs.Logger()
	store, err := history.Open(ctx, a.opts.History)
	if err != nil {
		logger.Warn("history disabled", "path", a.opts.History, "error", err)
		return nil, func() {}
	}
	return store.Recorder(target.String(), logger), func() { _ = store.Close() }
}

// exitFor 把命令错误转换为退出码：连接断开为 3，其余为 1。
func exitFor(err error) error {
	if goscpi.IsBrokenConnection(err) {
		return cli.Exit(fmt.Sprintf("connection lost: %v", err), 3)
	}
	return cli.Exit(err.Error(), 1)
}
