package goscpi

import (
	"fmt"
	"strconv"
	"strings"
)

// InterfaceType 是 VISA 资源的接口类型。
type InterfaceType string

const (
	InterfaceTCPIP InterfaceType = "TCPIP"
	InterfaceGPIB  InterfaceType = "GPIB"
	InterfaceASRL  InterfaceType = "ASRL"
	InterfaceUSB   InterfaceType = "USB"
)

// 驱动注册键
const (
	DriverTCPIPSocket = "TCPIP::SOCKET"
	DriverTCPIPHiSLIP = "TCPIP::HISLIP"
	DriverTCPIPVXI11  = "TCPIP::INSTR"
	DriverASRL        = "ASRL::INSTR"
	DriverGPIB        = "GPIB::INSTR"
	DriverUSB         = "USB::INSTR"
)

// Resource 是解析后的 VISA 资源字符串。
type Resource struct {
	Raw       string
	Interface InterfaceType
	Board     int
	Class     string // INSTR 或 SOCKET

	// TCPIP
	Host       string
	Port       int    // SOCKET 端口或 hislip 端口，0 表示默认
	DeviceName string // inst0, hislip0

	// ASRL 的设备路径或编号，USB 的剩余部分
	Address string

	// GPIB，Secondary 为 -1 表示没有次地址
	Primary   int
	Secondary int
}

// ParseResource 解析 VISA 资源字符串，接口名和资源类不区分大小写。
func ParseResource(raw string) (Resource, error) {
	raw = strings.TrimSpace(raw)
	parts := strings.Split(raw, "::")
	if raw == "" || len(parts) == 0 {
		return Resource{}, fmt.Errorf("%w: empty resource string", ErrInvalidTarget)
	}

	res := Resource{Raw: raw, Class: "INSTR", Secondary: -1}
	if last := strings.ToUpper(parts[len(parts)-1]); last == "INSTR" || last == "SOCKET" {
		res.Class = last
		parts = parts[:len(parts)-1]
	}
	if len(parts) == 0 {
		return Resource{}, fmt.Errorf("%w: %q has no interface", ErrInvalidTarget, raw)
	}

	head := parts[0]
	upper := strings.ToUpper(head)
	var err error
	switch {
	case strings.HasPrefix(upper, string(InterfaceTCPIP)):
		res.Interface = InterfaceTCPIP
		if res.Board, err = parseBoard(head[len(InterfaceTCPIP):]); err != nil {
			return Resource{}, resourceError(raw, err)
		}
		err = parseTCPIP(&res, parts[1:])

	case strings.HasPrefix(upper, string(InterfaceGPIB)):
		res.Interface = InterfaceGPIB
		if res.Board, err = parseBoard(head[len(InterfaceGPIB):]); err != nil {
			return Resource{}, resourceError(raw, err)
		}
		err = parseGPIB(&res, parts[1:])

	case strings.HasPrefix(upper, string(InterfaceASRL)):
		res.Interface = InterfaceASRL
		res.Address = head[len(InterfaceASRL):]
		if res.Address == "" {
			err = fmt.Errorf("missing serial port")
		} else if n, convErr := strconv.Atoi(res.Address); convErr == nil {
			res.Board = n
		}

	case strings.HasPrefix(upper, string(InterfaceUSB)):
		res.Interface = InterfaceUSB
		if res.Board, err = parseBoard(head[len(InterfaceUSB):]); err != nil {
			return Resource{}, resourceError(raw, err)
		}
		res.Address = strings.Join(parts[1:], "::")

	default:
		err = fmt.Errorf("unknown interface %q", head)
	}
	if err != nil {
		return Resource{}, resourceError(raw, err)
	}
	return res, nil
}

func resourceError(raw string, err error) error {
	return fmt.Errorf("%w: %q: %v", ErrInvalidTarget, raw, err)
}

func parseBoard(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid board %q", s)
	}
	return n, nil
}

func parseTCPIP(res *Resource, parts []string) error {
	if len(parts) == 0 || parts[0] == "" {
		return fmt.Errorf("missing host")
	}
	res.Host = parts[0]

	if res.Class == "SOCKET" {
		if len(parts) != 2 {
			return fmt.Errorf("SOCKET resource needs host and port")
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %q", parts[1])
		}
		res.Port = port
		return nil
	}

	res.DeviceName = "inst0"
	if len(parts) > 2 {
		return fmt.Errorf("too many fields")
	}
	if len(parts) == 2 {
		res.DeviceName = parts[1]
	}

	// hislipN[,port]
	if name, portStr, ok := strings.Cut(res.DeviceName, ","); ok {
		port, err := strconv.Atoi(portStr)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %q", portStr)
		}
		res.DeviceName = name
		res.Port = port
	}
	return nil
}

func parseGPIB(res *Resource, parts []string) error {
	if len(parts) == 0 || len(parts) > 2 {
		return fmt.Errorf("GPIB resource needs a primary address")
	}
	primary, err := strconv.Atoi(parts[0])
	if err != nil || primary < 0 || primary > 30 {
		return fmt.Errorf("invalid primary address %q", parts[0])
	}
	res.Primary = primary

	if len(parts) == 2 {
		secondary, err := strconv.Atoi(parts[1])
		if err != nil || secondary < 0 || secondary > 30 {
			return fmt.Errorf("invalid secondary address %q", parts[1])
		}
		res.Secondary = secondary
	}
	return nil
}

// IsHiSLIP 报告 TCPIP INSTR 资源是否使用 HiSLIP 设备名。
func (r Resource) IsHiSLIP() bool {
	return r.Interface == InterfaceTCPIP && r.Class == "INSTR" &&
		strings.HasPrefix(strings.ToLower(r.DeviceName), "hislip")
}

// DriverKey 返回用于查找驱动的键。
func (r Resource) DriverKey() string {
	if r.IsHiSLIP() {
		return DriverTCPIPHiSLIP
	}
	return string(r.Interface) + "::" + r.Class
}

func (r Resource) String() string {
	return r.Raw
}
