package messenger

import (
	"context"
	"fmt"
	"sync"

	"github.com/mykhaliev/agent-sim/model"
)

const DefaultMailboxSize = 100

// MemoryMessenger delivers into per-agent buffered mailboxes inside the
// process. It is safe for concurrent use.
type MemoryMessenger struct {
	mu           sync.RWMutex
	mailboxes    map[string]chan *model.Message
	order        []string
	history      []*model.Message
	size         int
	allowUnknown bool
	closed       bool
}

func NewMemoryMessenger(cfg model.MemoryConfig, agents []model.Agent) *MemoryMessenger {
	size := cfg.MailboxSize
	if size <= 0 {
		size = DefaultMailboxSize
	}
	m := &MemoryMessenger{
		mailboxes:    make(map[string]chan *model.Message),
		size:         size,
		allowUnknown: cfg.AllowUnknown,
	}
	for _, a := range agents {
		_ = m.Register(a.Name)
	}
	return m
}

func (m *MemoryMessenger) Name() string { return string(model.MessengerMemory) }

// Register creates a mailbox for name.
func (m *MemoryMessenger) Register(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if name == "" {
		return fmt.Errorf("agent name is empty")
	}
	if _, exists := m.mailboxes[name]; exists {
		return fmt.Errorf("agent %s already registered", name)
	}
	m.mailboxes[name] = make(chan *model.Message, m.size)
	m.order = append(m.order, name)
	return nil
}

// Agents returns registered agents in registration order.
func (m *MemoryMessenger) Agents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

func (m *MemoryMessenger) Send(ctx context.Context, msg *model.Message) (string, error) {
	if err := Validate(msg); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return "", ErrClosed
	}
	box, ok := m.mailboxes[msg.To]
	m.mu.RUnlock()

	if !ok {
		if !m.allowUnknown {
			return "", fmt.Errorf("%w: %s", ErrUnknownAgent, msg.To)
		}
		m.mu.Lock()
		if box, ok = m.mailboxes[msg.To]; !ok {
			box = make(chan *model.Message, m.size)
			m.mailboxes[msg.To] = box
			m.order = append(m.order, msg.To)
		}
		m.mu.Unlock()
	}

	select {
	case box <- msg:
	default:
		return "", fmt.Errorf("%w: %s", ErrMailboxFull, msg.To)
	}

	m.mu.Lock()
	m.history = append(m.history, msg)
	m.mu.Unlock()

	return msg.ID, nil
}

// Drain empties and returns the pending messages for an agent.
func (m *MemoryMessenger) Drain(agent string) []*model.Message {
	m.mu.RLock()
	box, ok := m.mailboxes[agent]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	var out []*model.Message
	for {
		select {
		case msg := <-box:
			out = append(out, msg)
		default:
			return out
		}
	}
}

// Pending reports how many messages wait in an agent's mailbox.
func (m *MemoryMessenger) Pending(agent string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if box, ok := m.mailboxes[agent]; ok {
		return len(box)
	}
	return 0
}

// History returns every delivered message in send order.
func (m *MemoryMessenger) History() []*model.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.Message, len(m.history))
	copy(out, m.history)
	return out
}

func (m *MemoryMessenger) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return nil
}
