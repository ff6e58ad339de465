package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	// NATS server URL(s), comma-separated
	URL string
	// Client name reported to the server
	Name string
	// Async buffer size (default: 1000)
	AsyncBufferSize int
	// Connection timeout
	ConnectTimeout time.Duration
	// Reconnect settings
	MaxReconnects int
	ReconnectWait time.Duration
	// Auth
	Token    string
	User     string
	Password string
}

// DefaultNATSConfig returns defaults suited to a single device service.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:             nats.DefaultURL,
		Name:            "callservice-events",
		AsyncBufferSize: 1000,
		ConnectTimeout:  5 * time.Second,
		MaxReconnects:   -1, // Infinite
		ReconnectWait:   2 * time.Second,
	}
}

// NATSPublisher publishes events as JSON to core NATS subjects.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger

	asyncCh  chan Event
	asyncWg  sync.WaitGroup
	closedMu sync.RWMutex
	closed   bool

	mu           sync.Mutex
	publishCount int64
	errorCount   int64
	asyncDropped int64
}

// NewNATSPublisher connects to NATS and starts the async publisher.
func NewNATSPublisher(cfg NATSConfig, logger *slog.Logger) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.Timeout(cfg.ConnectTimeout),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("[Events] NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("[Events] NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("[Events] NATS error", "error", err)
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	} else if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	bufSize := cfg.AsyncBufferSize
	if bufSize <= 0 {
		bufSize = 1000
	}

	p := &NATSPublisher{
		conn:    conn,
		logger:  logger,
		asyncCh: make(chan Event, bufSize),
	}

	p.asyncWg.Add(1)
	go p.asyncPublisher()

	logger.Info("[Events] NATS publisher initialized", "url", cfg.URL)
	return p, nil
}

func (p *NATSPublisher) asyncPublisher() {
	defer p.asyncWg.Done()
	for event := range p.asyncCh {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := p.Publish(ctx, event); err != nil {
			p.logger.Warn("[Events] Async publish failed",
				"error", err,
				"type", event.Type(),
				"call_id", event.CallID(),
			)
		}
		cancel()
	}
}

func (p *NATSPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := MarshalEvent(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(event.Subject())
	msg.Data = data
	// Consumers with a dedup window key on the event id.
	msg.Header.Set(nats.MsgIdHdr, event.ID())

	if err := p.conn.PublishMsg(msg); err != nil {
		p.mu.Lock()
		p.errorCount++
		p.mu.Unlock()
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}

	p.mu.Lock()
	p.publishCount++
	p.mu.Unlock()

	p.logger.Debug("[Events] Event published", "subject", msg.Subject)
	return nil
}

func (p *NATSPublisher) PublishAsync(event Event) {
	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	if p.closed {
		return
	}

	select {
	case p.asyncCh <- event:
	default:
		p.mu.Lock()
		p.asyncDropped++
		p.mu.Unlock()
		p.logger.Warn("[Events] Async publish buffer full, event dropped",
			"type", event.Type(),
			"call_id", event.CallID(),
		)
	}
}

// Flush drains the async queue and flushes the connection. The publisher
// accepts no further async events afterwards.
func (p *NATSPublisher) Flush(ctx context.Context) error {
	p.closedMu.Lock()
	if !p.closed {
		p.closed = true
		close(p.asyncCh)
	}
	p.closedMu.Unlock()
	p.asyncWg.Wait()

	return p.conn.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := p.Flush(ctx); err != nil {
		p.logger.Warn("[Events] Flush failed during close", "error", err)
	}

	p.conn.Close()
	return nil
}

// Stats returns publish counters.
func (p *NATSPublisher) Stats() (published, errors, asyncDropped int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.publishCount, p.errorCount, p.asyncDropped
}
