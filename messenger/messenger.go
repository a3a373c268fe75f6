// Package messenger delivers simulation messages to agents over a pluggable
// transport. Every transport implements Messenger.
package messenger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mykhaliev/agent-sim/logger"
	"github.com/mykhaliev/agent-sim/model"
)

var (
	ErrUnknownAgent = errors.New("unknown agent")
	ErrMailboxFull  = errors.New("mailbox full")
	ErrBusy         = errors.New("messaging system busy")
	ErrClosed       = errors.New("messenger closed")
)

// Messenger sends a message and returns the id under which it was delivered.
type Messenger interface {
	Send(ctx context.Context, msg *model.Message) (string, error)
	Name() string
	Close() error
}

// BusyError is returned when the remote side asks the caller to back off.
// It matches ErrBusy with errors.Is.
type BusyError struct {
	RetryAfter time.Duration
	Reason     string
}

func (e *BusyError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %s (retry after %s)", ErrBusy, e.Reason, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %s", ErrBusy, e.Reason)
}

func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

// NewMessage builds a message with a fresh UUID and UTC timestamp.
func NewMessage(from, to string, msgType model.MessageType, payload map[string]any, priority model.Priority) *model.Message {
	if payload == nil {
		payload = map[string]any{}
	}
	return &model.Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Type:      msgType,
		Priority:  priority,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

func Validate(msg *model.Message) error {
	if msg == nil {
		return fmt.Errorf("message is nil")
	}
	if msg.From == "" {
		return fmt.Errorf("message sender is empty")
	}
	if msg.To == "" {
		return fmt.Errorf("message recipient is empty")
	}
	if !msg.Type.IsValid() {
		return fmt.Errorf("unknown message type: %q", msg.Type)
	}
	if !msg.Priority.IsValid() {
		return fmt.Errorf("unknown priority: %q", msg.Priority)
	}
	return nil
}

// Factory builds a transport from configuration.
type Factory interface {
	New(ctx context.Context, cfg model.MessengerConfig, agents []model.Agent) (Messenger, error)
}

// DefaultFactory is the production implementation.
type DefaultFactory struct{}

func (DefaultFactory) New(ctx context.Context, cfg model.MessengerConfig, agents []model.Agent) (Messenger, error) {
	return New(ctx, cfg, agents)
}

// New builds the transport selected by cfg.Type and wraps it with rate
// limiting and retries when configured.
func New(ctx context.Context, cfg model.MessengerConfig, agents []model.Agent) (Messenger, error) {
	var (
		m   Messenger
		err error
	)

	switch cfg.Type {
	case model.MessengerMemory, "":
		m = NewMemoryMessenger(cfg.Memory, agents)
	case model.MessengerRedis:
		m, err = NewRedisMessenger(ctx, cfg.Redis)
	case model.MessengerHTTP:
		m, err = NewHTTPMessenger(cfg.HTTP, agents)
	case model.MessengerMCP:
		m, err = NewMCPMessenger(ctx, cfg.MCP)
	default:
		return nil, fmt.Errorf("unsupported messenger type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if NeedsWrapper(cfg.RateLimits, cfg.Retry) {
		logger.Logger.Info("Wrapping messenger with rate limiter/retry handler",
			"messenger", m.Name(),
			"rpm", cfg.RateLimits.RPM,
			"retry_on_busy", cfg.Retry.RetryOnBusy)
		m = NewRateLimitedMessenger(m, cfg.RateLimits, cfg.Retry)
	}

	logger.Logger.Info("Messenger initialized", "messenger", m.Name())
	return m, nil
}
