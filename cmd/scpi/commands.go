package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/xiabin827/goscpi"
	"github.com/xiabin827/goscpi/internal/history"
)

const defaultSettle = 2 * time.Second

func (a *app) shell(c *cli.Context) error {
	s, target, err := a.connect(c.Context)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.stdout, "\nQuerying instrument identification...")
	idn, err := s.Query("*IDN?")
	switch {
	case goscpi.IsBrokenConnection(err):
		_ = s.Close()
		return exitFor(err)
	case err != nil:
		fmt.Fprintf(a.stdout, "%s%v\n", goscpi.ErrorPrefix, err)
	default:
		fmt.Fprintf(a.stdout, "✓ Instrument: %s\n", idn)
	}

	fmt.Fprintln(a.stdout, "\nEnter SCPI commands directly. Type 'exit' to quit.")
	fmt.Fprintln(a.stdout, "Use '?' at the end of the command to make a query.")
	fmt.Fprintln(a.stdout)

	rec, closeRec := a.recorder(c.Context, target)
	defer closeRec()

	loop := goscpi.NewLoop(s, a.stdin, a.stdout)
	loop.Prompt = a.opts.Prompt
	loop.Recorder = rec

	// Loop 在终止时自行关闭会话
	if err := loop.Run(); err != nil {
		return exitFor(err)
	}
	fmt.Fprintf(a.stdout, "✓ Disconnected from %s\n", target)
	return nil
}

func (a *app) exec(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("exec needs at least one command", 2)
	}

	s, target, err := a.connect(c.Context)
	if err != nil {
		return err
	}
	defer a.disconnect(s, target)

	rec, closeRec := a.recorder(c.Context, target)
	defer closeRec()

	for _, cmd := range c.Args().Slice() {
		if _, err := a.run(s, rec, cmd); err != nil {
			return exitFor(err)
		}
	}
	return nil
}

// configure 执行基本交流输出配置，等待稳定后回读电压和频率。
func (a *app) configure(c *cli.Context) error {
	s, target, err := a.connect(c.Context)
	if err != nil {
		return err
	}
	defer a.disconnect(s, target)

	rec, closeRec := a.recorder(c.Context, target)
	defer closeRec()

	fmt.Fprintln(a.stdout, "\nConfiguring equipment...")
	setup := []string{
		"VOLT:MODE AC",
		"VOLT:AC " + formatNumber(c.Float64("voltage")),
		"FREQ " + formatNumber(c.Float64("frequency")),
		"OUTP 1;",
		"*OPC?",
	}
	for _, cmd := range setup {
		if _, err := a.run(s, rec, cmd); err != nil {
			return exitFor(err)
		}
	}

	if err := sleepCtx(c.Context, c.Duration("settle")); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	fmt.Fprintln(a.stdout, "\nReading measurements...")
	for _, cmd := range []string{"MEAS:VOLT?", "MEAS:FREQ?"} {
		if _, err := a.run(s, rec, cmd); err != nil {
			return exitFor(err)
		}
	}
	fmt.Fprintln(a.stdout, "\n✓ Configuration completed successfully")
	return nil
}

// run 执行一条命令并打印发送和响应。
func (a *app) run(s *goscpi.Session, rec goscpi.Recorder, cmd string) (goscpi.Result, error) {
	res, err := s.Exec(cmd)
	if rec != nil {
		rec.Record(res, err)
	}
	if err != nil {
		fmt.Fprintf(a.stdout, "✗ %s: %v\n", cmd, err)
		return res, err
	}
	if res.IsReply {
		fmt.Fprintf(a.stdout, "→ Query: %s\n← Response: %s\n", res.Command, res.Reply)
	} else {
		fmt.Fprintf(a.stdout, "→ Sent: %s\n", res.Command)
	}
	return res, nil
}

func (a *app) resources(c *cli.Context) error {
	mgr := goscpi.NewResourceManager(goscpi.ManagerConfig{
		BaudRate: a.opts.Baud,
		Logger:   a.logs.Logger(),
	})

	list, err := mgr.List()
	if err != nil {
		return cli.Exit(fmt.Sprintf("list resources: %v", err), 1)
	}
	if len(list) == 0 {
		fmt.Fprintln(a.stdout, "No serial ports found")
	}
	for _, r := range list {
		fmt.Fprintln(a.stdout, r)
	}
	if a.opts.GPIBPort != "" {
		fmt.Fprintf(a.stdout, "GPIB0::<address>::INSTR via Prologix controller on %s\n", a.opts.GPIBPort)
	}
	fmt.Fprintf(a.stdout, "\nDrivers: %s\n", strings.Join(mgr.Drivers(), ", "))
	return nil
}

func (a *app) history(c *cli.Context) error {
	if a.opts.History == "" {
		return cli.Exit("no history file configured (--history)", 2)
	}

	filter := ""
	if !c.Bool("all") {
		target, err := a.opts.Target()
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		filter = target.String()
	}

	store, err := history.Open(c.Context, a.opts.History)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer store.Close()

	entries, err := store.Recent(c.Context, filter, c.Int("limit"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	for _, e := range entries {
		fmt.Fprintf(a.stdout, "%s  %s  %s  %s\n", e.At.Format("2006-01-02 15:04:05"), e.Target, e.Command, outcome(e))
	}
	return nil
}

func outcome(e history.Entry) string {
	switch {
	case e.Error != "":
		return goscpi.ErrorPrefix + e.Error
	case e.IsReply:
		return "-> " + e.Reply
	default:
		return goscpi.Ack
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
