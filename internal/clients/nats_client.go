package clients

import (
	"fmt"
	"time"

	"emcp-client/internal/config"
	"emcp-client/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

// NATSClient NATS client
type NATSClient struct {
	conn *nats.Conn
}

// NewNATSClient connects to the NATS server; reconnects forever and tracks connection status in metrics
func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("NATS url is required")
	}

	connectTimeout := 10 * time.Second
	if cfg.Timeout > 0 {
		connectTimeout = time.Duration(cfg.Timeout) * time.Second
	}
	reconnectWait := 5 * time.Second
	if cfg.ReconnectWait > 0 {
		reconnectWait = time.Duration(cfg.ReconnectWait) * time.Second
	}
	maxReconnects := -1
	if cfg.MaxReconnects > 0 {
		maxReconnects = cfg.MaxReconnects
	}

	logrus.WithFields(logrus.Fields{
		"url":     cfg.URL,
		"timeout": connectTimeout.String(),
	}).Info("🔌 [NATS] Connecting")

	conn, err := nats.Connect(cfg.URL,
		nats.Name("emcp-client"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logrus.WithError(err).Warn("⚠️ [NATS] Disconnected")
			metrics.NATSConnectionStatus.Set(0)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logrus.WithField("url", nc.ConnectedUrl()).Info("✅ [NATS] Reconnected")
			metrics.NATSConnectionStatus.Set(1)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			metrics.NATSConnectionStatus.Set(0)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	metrics.NATSConnectionStatus.Set(1)

	return &NATSClient{conn: conn}, nil
}

// Publish sends data on subject
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Flush waits until published messages reach the server or the timeout expires
func (c *NATSClient) Flush(timeout time.Duration) error {
	return c.conn.FlushTimeout(timeout)
}

// Close drains and closes the connection
func (c *NATSClient) Close() {
	if c.conn != nil {
		if err := c.conn.Drain(); err != nil {
			c.conn.Close()
		}
	}
}

// GetConnection GetNATSconnection
func (c *NATSClient) GetConnection() *nats.Conn {
	return c.conn
}
