package bus

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-chat/internal/config"
	"github.com/nats-io/nats.go"
)

// StreamName is the JetStream stream that retains chat lifecycle events.
const StreamName = "CHAT_EVENTS"

// Client wraps a NATS connection used to broadcast chat lifecycle events.
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	log  *slog.Logger
}

func Connect(ctx context.Context, cfg config.BusConfig, log *slog.Logger) (*Client, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no NATS servers configured")
	}

	options := []nats.Option{
		nats.Name("loqa-chat"),
		nats.Timeout(time.Duration(cfg.ConnectTimeout) * time.Millisecond),
	}

	if cfg.Username != "" || cfg.Password != "" {
		options = append(options, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		options = append(options, nats.Token(cfg.Token))
	}
	if cfg.TLSInsecure {
		options = append(options, nats.Secure(&tls.Config{InsecureSkipVerify: true}))
	}

	url := strings.Join(cfg.Servers, ",")
	conn, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log = log.With(slog.String("component", "bus"))
	c := &Client{conn: conn, log: log}

	// JetStream is optional; plain publish still works against servers without it.
	if js, err := conn.JetStream(nats.Context(ctx)); err == nil {
		c.js = js
	} else {
		log.Warn("jetstream unavailable", slog.String("error", err.Error()))
	}

	log.Info("connected to NATS", slog.String("servers", url))
	return c, nil
}

// EnsureEventStream creates the stream retaining chat.> events when JetStream
// is available.
func (c *Client) EnsureEventStream() error {
	if c.js == nil {
		return nil
	}
	if _, err := c.js.StreamInfo(StreamName); err == nil {
		return nil
	}
	_, err := c.js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"chat.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create %s stream: %w", StreamName, err)
	}
	c.log.Info("created event stream", slog.String("stream", StreamName))
	return nil
}

// PublishJSON encodes v and publishes it on subject.
func (c *Client) PublishJSON(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", subject, err)
	}
	return c.conn.Publish(subject, data)
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.log.Info("closing NATS connection")
	_ = c.conn.Drain()
	c.conn.Close()
}

func (c *Client) Healthy() bool {
	return c != nil && c.conn != nil && c.conn.Status() == nats.CONNECTED
}

func (c *Client) Conn() *nats.Conn {
	return c.conn
}
