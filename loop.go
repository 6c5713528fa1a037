package goscpi

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// DefaultPrompt 是交互循环的提示符。
const DefaultPrompt = "SCPI> "

// ErrorPrefix 标记打印出的错误行。
const ErrorPrefix = "ERROR: "

// LoopState 是交互循环的状态。
type LoopState int

const (
	AwaitingInput LoopState = iota
	Terminated
)

func (s LoopState) String() string {
	if s == Terminated {
		return "Terminated"
	}
	return "AwaitingInput"
}

// Executor 是循环驱动的会话，*Session 实现了它。
type Executor interface {
	Exec(cmd string) (Result, error)
	Close() error
}

// Recorder 接收每条执行过的命令及其结果。
type Recorder interface {
	Record(res Result, err error)
}

// Loop 从输入逐行读取命令并交给 Executor。
// 单条命令失败只打印错误；exit/quit、输入结束或 BrokenConnection 使循环进入 Terminated。
type Loop struct {
	exec Executor
	in   io.Reader
	out  io.Writer

	Prompt   string
	Recorder Recorder

	state LoopState
}

// NewLoop 创建处于 AwaitingInput 状态的循环。
func NewLoop(exec Executor, in io.Reader, out io.Writer) *Loop {
	return &Loop{
		exec:   exec,
		in:     in,
		out:    out,
		Prompt: DefaultPrompt,
	}
}

func (l *Loop) State() LoopState {
	return l.state
}

// Run 运行直到 Terminated。正常退出返回关闭会话的错误；
// 连接断开时打印一行诊断并返回该错误。
func (l *Loop) Run() error {
	scanner := bufio.NewScanner(l.in)

	for l.state == AwaitingInput {
		fmt.Fprint(l.out, l.Prompt)

		if !scanner.Scan() {
			fmt.Fprintln(l.out)
			closeErr := l.terminate()
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			return closeErr
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if isExitDirective(line) {
			return l.terminate()
		}

		res, err := l.exec.Exec(line)
		if l.Recorder != nil {
			l.Recorder.Record(res, err)
		}
		if err != nil {
			if IsBrokenConnection(err) {
				fmt.Fprintf(l.out, "%sconnection lost: %v\n", ErrorPrefix, err)
				_ = l.terminate()
				return err
			}
			fmt.Fprintf(l.out, "%s%v\n", ErrorPrefix, err)
			continue
		}
		fmt.Fprintln(l.out, res)
	}
	return nil
}

func (l *Loop) terminate() error {
	l.state = Terminated
	return l.exec.Close()
}

func isExitDirective(line string) bool {
	return strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit")
}
