package nats

import (
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stone-age-io/svcmon/internal/config"
	"go.uber.org/zap"
)

// Client publishes journal events to JetStream
type Client struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	logger  *zap.Logger
	subject string
}

// NewClient connects to NATS and validates that JetStream is available
func NewClient(cfg *config.NATSConfig, logger *zap.Logger) (*Client, error) {
	logger = logger.Named("nats")

	opts := []nats.Option{
		nats.Name(config.ServiceName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			} else {
				logger.Info("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			logger.Error("NATS error", fields...)
		}),
	}

	if cfg.TLS.Enabled {
		opts = append(opts, tlsOptions(&cfg.TLS)...)
		logger.Info("TLS enabled for NATS connection",
			zap.Bool("client_cert", cfg.TLS.CertFile != ""),
			zap.Bool("ca_cert", cfg.TLS.CAFile != ""),
			zap.Bool("skip_verify", cfg.TLS.InsecureSkipVerify))
		if cfg.TLS.InsecureSkipVerify {
			logger.Warn("NATS server certificate is not verified")
		}
	}

	authOpt, err := authOption(&cfg.Auth, logger)
	if err != nil {
		return nil, err
	}
	if authOpt != nil {
		opts = append(opts, authOpt)
	}

	// All URLs are passed for failover
	serverURLs := strings.Join(cfg.URLs, ",")
	logger.Info("Connecting to NATS", zap.Strings("urls", cfg.URLs))
	conn, err := nats.Connect(serverURLs, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("Connected to NATS",
		zap.String("url", conn.ConnectedUrl()),
		zap.String("server_id", conn.ConnectedServerId()),
		zap.Bool("tls", conn.TLSRequired()))

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Fail here rather than on the first published event
	if _, err := js.AccountInfo(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("JetStream not available on NATS server (is JetStream enabled?): %w", err)
	}

	return &Client{
		conn:    conn,
		js:      js,
		logger:  logger,
		subject: EventSubject(cfg.SubjectPrefix, cfg.DeviceID),
	}, nil
}

// authOption maps the configured auth type to a connect option. "none"
// returns a nil option.
func authOption(cfg *config.AuthConfig, logger *zap.Logger) (nats.Option, error) {
	switch cfg.Type {
	case "creds":
		logger.Info("Using credentials file authentication", zap.String("file", cfg.CredsFile))
		return nats.UserCredentials(cfg.CredsFile), nil
	case "token":
		logger.Info("Using token authentication")
		return nats.Token(cfg.Token), nil
	case "userpass":
		logger.Info("Using username/password authentication", zap.String("username", cfg.Username))
		return nats.UserInfo(cfg.Username, cfg.Password), nil
	case "none", "":
		logger.Info("Using no authentication")
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid auth type: %s", cfg.Type)
	}
}

// tlsOptions secures the connection. Certificate files are loaded by the
// nats options themselves, so a missing file fails the connect.
func tlsOptions(cfg *config.TLSConfig) []nats.Option {
	opts := []nats.Option{nats.Secure(&tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})}
	if cfg.CAFile != "" {
		opts = append(opts, nats.RootCAs(cfg.CAFile))
	}
	if cfg.CertFile != "" {
		opts = append(opts, nats.ClientCert(cfg.CertFile, cfg.KeyFile))
	}
	return opts
}

// publish queues data on JetStream and reports the ack in the background
func (c *Client) publish(subject string, data []byte) error {
	pubAckFuture, err := c.js.PublishAsync(subject, data)
	if err != nil {
		return fmt.Errorf("failed to queue publish to %s: %w", subject, err)
	}

	go func() {
		select {
		case <-pubAckFuture.Ok():
			c.logger.Debug("Published event",
				zap.String("subject", subject),
				zap.Int("bytes", len(data)))
		case err := <-pubAckFuture.Err():
			c.logger.Warn("Failed to publish event after retries",
				zap.String("subject", subject),
				zap.Error(err))
		}
	}()

	return nil
}

// Drain flushes pending publishes and closes the connection, forcing a
// close after timeout
func (c *Client) Drain(timeout time.Duration) error {
	c.logger.Info("Draining NATS connection", zap.Duration("timeout", timeout))

	if c.conn.IsClosed() {
		c.logger.Info("Connection already closed")
		return nil
	}

	select {
	case <-c.js.PublishAsyncComplete():
	case <-time.After(timeout):
		c.logger.Warn("Timed out waiting for pending event acks")
	}

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- c.conn.Drain()
	}()

	select {
	case err := <-drainDone:
		if err != nil {
			c.logger.Error("Error during NATS drain", zap.Error(err))
			return err
		}
		c.logger.Info("NATS drain completed successfully")
		return nil

	case <-time.After(timeout):
		c.logger.Warn("NATS drain timeout, forcing close")
		c.conn.Close()
		return fmt.Errorf("drain timeout after %v", timeout)
	}
}

// IsConnected returns true if the NATS connection is currently active
func (c *Client) IsConnected() bool {
	return c.conn.IsConnected()
}
