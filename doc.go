// Package goscpi 是与传输无关的 SCPI 会话层。
//
// Transport 把一台仪器抽象为行式通道，有两个后端：原始 TCP 套接字
// (SocketTransport) 和 VISA 资源 (VISATransport)。VISA 资源由 ResourceManager
// 解析并分派给驱动，内置驱动覆盖 TCPIP SOCKET、TCPIP HiSLIP、ASRL 串口以及
// 经 Prologix 控制器的 GPIB。
//
// Session 在 Transport 上提供 Send/Query/Exec，Loop 用它实现交互式命令行。
//
//	target, _ := goscpi.ParseTarget("192.168.1.100:5025")
//	t, err := goscpi.Connect(ctx, target, goscpi.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	s := goscpi.NewSession(t)
//	defer s.Close()
//	idn, err := s.Query("*IDN?")
package goscpi
