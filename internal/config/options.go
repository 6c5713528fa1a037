// Package config 组合默认值、HCL 配置文件、环境变量和命令行参数，产生已校验的连接目标。
package config

import (
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/xiabin827/goscpi"
	"github.com/xiabin827/goscpi/hislip"
)

// DefaultConfigFile 是配置文件的默认位置。
const DefaultConfigFile = "~/.scpi"

// Options 是命令行工具的全部选项。
// 优先级：命令行参数 > SCPI_* 环境变量 > 配置文件 > default 标签。
type Options struct {
	Address     string `hcl:"address" flagName:"address" flagSName:"a" flagDescribe:"Instrument host, host:port or VISA resource string" default:"192.168.131.193"`
	Port        int    `hcl:"port" flagName:"port" flagSName:"p" flagDescribe:"TCP port used when address has none" default:"5025"`
	Resource    string `hcl:"resource" flagName:"resource" flagSName:"r" flagDescribe:"VISA resource string, overrides address" default:""`
	Timeout     int    `hcl:"timeout" flagName:"timeout" flagSName:"t" flagDescribe:"Connect and write timeout in milliseconds" default:"5000"`
	ReadTimeout int    `hcl:"read_timeout" flagName:"read-timeout" flagDescribe:"Query reply timeout in milliseconds" default:"5000"`
	Terminator  string `hcl:"terminator" flagName:"terminator" flagDescribe:"Line terminator, Go escapes allowed" default:"\\n"`
	Prompt      string `hcl:"prompt" flagName:"prompt" flagDescribe:"Interactive prompt" default:"SCPI> "`
	LogLevel    string `hcl:"log_level" flagName:"log-level" flagDescribe:"Log level (debug, info, warn, error)" default:"warn"`
	LogFile     string `hcl:"log_file" flagName:"log-file" flagDescribe:"Also append logs to this file" default:""`
	History     string `hcl:"history" flagName:"history" flagDescribe:"SQLite file recording the command transcript, empty disables" default:""`
	Baud        int    `hcl:"baud" flagName:"baud" flagDescribe:"Baud rate for ASRL resources and the Prologix controller" default:"9600"`
	GPIBPort    string `hcl:"gpib_port" flagName:"gpib-port" flagDescribe:"Serial port of the Prologix GPIB-USB controller used for GPIB0" default:""`
	Banner      bool   `hcl:"banner" flagName:"banner" flagDescribe:"Print the connection banner" default:"true"`

	TLSServerName string `hcl:"tls_server_name" flagName:"tls-server-name" flagDescribe:"Expected certificate name of encrypted HiSLIP servers" default:""`
	TLSCAFile     string `hcl:"tls_ca_file" flagName:"tls-ca-file" flagDescribe:"CA bundle for encrypted HiSLIP servers" default:""`
}

// Load 依次应用默认值和配置文件。文件不存在且 path 是默认路径时忽略。
func Load(path string) (*Options, error) {
	opts := &Options{}
	if err := ApplyDefaultValues(opts); err != nil {
		return nil, errors.Wrap(err, "apply default values")
	}
	if path == "" {
		return opts, nil
	}

	if err := ApplyConfigFile(path, opts); err != nil {
		if path == DefaultConfigFile && errors.Is(err, ErrConfigNotFound) {
			return opts, nil
		}
		return nil, err
	}
	return opts, nil
}

// Validate 检查各选项是否一致。
func (o *Options) Validate() error {
	if o.Resource == "" && strings.TrimSpace(o.Address) == "" {
		return errors.New("either address or resource must be set")
	}
	if o.Port < 1 || o.Port > 65535 {
		return errors.Errorf("port %d out of range 1-65535", o.Port)
	}
	if o.Timeout <= 0 {
		return errors.Errorf("timeout must be positive, got %d ms", o.Timeout)
	}
	if o.ReadTimeout <= 0 {
		return errors.Errorf("read timeout must be positive, got %d ms", o.ReadTimeout)
	}
	if o.Baud <= 0 {
		return errors.Errorf("baud rate must be positive, got %d", o.Baud)
	}
	term, err := o.TerminatorValue()
	if err != nil {
		return err
	}
	if term == "" {
		return errors.New("terminator must not be empty")
	}
	return nil
}

// TerminatorValue 解析 Terminator 中的转义字符。
func (o *Options) TerminatorValue() (string, error) {
	term, err := strconv.Unquote(`"` + strings.ReplaceAll(o.Terminator, `"`, `\"`) + `"`)
	if err != nil {
		return "", errors.Wrapf(err, "invalid terminator %q", o.Terminator)
	}
	return term, nil
}

// Target 返回已校验的连接目标。Resource 优先于 Address。
func (o *Options) Target() (goscpi.Target, error) {
	if err := o.Validate(); err != nil {
		return goscpi.Target{}, err
	}
	if o.Resource != "" {
		return goscpi.NewVISATarget(o.Resource)
	}

	address := strings.TrimSpace(o.Address)
	if net.ParseIP(address) != nil {
		return goscpi.NewTCPTarget(address, o.Port)
	}
	if strings.Contains(address, "::") && !strings.HasPrefix(address, "[") {
		return goscpi.NewVISATarget(address)
	}
	if !strings.Contains(address, ":") {
		return goscpi.NewTCPTarget(address, o.Port)
	}
	return goscpi.ParseTarget(address)
}

// Config 构建 goscpi.Config，包括带串口和 GPIB 设置的资源管理器。
func (o *Options) Config(logger *slog.Logger) (*goscpi.Config, error) {
	term, err := o.TerminatorValue()
	if err != nil {
		return nil, err
	}

	mc := goscpi.ManagerConfig{
		BaudRate: o.Baud,
		Logger:   logger,
	}
	if o.GPIBPort != "" {
		mc.GPIBControllers = map[int]string{0: o.GPIBPort}
	}
	if o.TLSServerName != "" || o.TLSCAFile != "" {
		mc.HiSLIPTLS, err = hislip.TLSConfig(o.TLSServerName, ExpandHomeDir(o.TLSCAFile))
		if err != nil {
			return nil, errors.Wrap(err, "hislip tls")
		}
	}

	return &goscpi.Config{
		Terminator: term,
		Timeout:    o.TimeoutDuration(),
		Manager:    goscpi.NewResourceManager(mc),
		Logger:     logger,
	}, nil
}

func (o *Options) TimeoutDuration() time.Duration {
	return time.Duration(o.Timeout) * time.Millisecond
}

func (o *Options) ReadTimeoutDuration() time.Duration {
	return time.Duration(o.ReadTimeout) * time.Millisecond
}
