package hislip

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// TLSConfig 返回用于加密会话的配置。
// caFile 非空时只信任其中的证书；serverName 为空时不校验主机名。
func TLSConfig(serverName, caFile string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: serverName == "",
		MinVersion:         tls.VersionTLS12,
	}
	if caFile == "" {
		return cfg, nil
	}

	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates in %s", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}

// startSecureSession 按 IVI-6.1 2.0 的顺序升级：先异步通道，再同步通道。
// 调用方持有 c.mu。
func (c *Client) startSecureSession(ctx context.Context) error {
	msg, err := c.asyncRequest(ctx, MsgAsyncStartTLS, 0, c.state.LastSentID(), nil,
		MsgAsyncStartTLSResponse, c.config.Timeout)
	if err != nil {
		return err
	}
	if msg.Header.Control != CtrlTLSSuccess {
		return fmt.Errorf("server refused AsyncStartTLS (ctrl %d)", msg.Header.Control)
	}
	if err := c.asyncConn.startTLS(ctx, c.config.TLSConfig); err != nil {
		return fmt.Errorf("async channel: %w", err)
	}

	if err := c.syncConn.Send(MsgStartTLS, 0, 0, nil); err != nil {
		return err
	}
	if err := c.syncConn.startTLS(ctx, c.config.TLSConfig); err != nil {
		return fmt.Errorf("sync channel: %w", err)
	}

	c.state.setEncrypted(true)
	c.log("session encrypted")
	return nil
}
