package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// subscriptionBuffer is the channel capacity of each subscription. Messages
// arriving while it is full are dropped and counted.
const subscriptionBuffer = 64

// closeFlushTimeout bounds the flush of pending publishes on Close.
const closeFlushTimeout = 2 * time.Second

func connect(url, name string, opts []nats.Option) (*nats.Conn, error) {
	nc, err := nats.Connect(url, append([]nats.Option{nats.Name(name)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher publishes lifecycle events as JSON on the NATS subject named
// by the topic.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to url. opts are appended to the defaults.
func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := connect(url, "memlog-publisher", opts)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Close flushes buffered publishes, then closes the connection.
func (p *NATSPublisher) Close() error {
	_ = p.conn.FlushTimeout(closeFlushTimeout)
	p.conn.Close()
	return nil
}

// Message is one payload received on a subject.
type Message struct {
	Subject string
	Data    []byte
}

// NATSSubscriber receives payloads from NATS and reconnects indefinitely.
type NATSSubscriber struct {
	conn    *nats.Conn
	dropped atomic.Uint64
}

// NewNATSSubscriber connects to url. Extra options such as disconnect and
// reconnect handlers are appended to the defaults.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{nats.MaxReconnects(-1), nats.ReconnectWait(time.Second)}
	nc, err := connect(url, "memlog-subscriber", append(defaults, opts...))
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe delivers the payloads published on topic, which may use the
// "*" and ">" wildcards.
func (s *NATSSubscriber) Subscribe(topic string) (<-chan []byte, func(), error) {
	return subscribe(s, topic, func(m *nats.Msg) []byte { return m.Data })
}

// SubscribeMessages is Subscribe with the concrete subject of each payload.
func (s *NATSSubscriber) SubscribeMessages(topic string) (<-chan Message, func(), error) {
	return subscribe(s, topic, func(m *nats.Msg) Message {
		return Message{Subject: m.Subject, Data: m.Data}
	})
}

// Dropped returns how many messages were discarded because a subscriber
// was not keeping up.
func (s *NATSSubscriber) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}

// subscribe registers a handler that converts each message and hands it to a
// buffered channel without blocking the NATS read loop. The returned cancel
// unsubscribes and closes the channel and may be called more than once.
func subscribe[T any](s *NATSSubscriber, topic string, convert func(*nats.Msg) T) (<-chan T, func(), error) {
	ch := make(chan T, subscriptionBuffer)

	var (
		mu     sync.RWMutex
		closed bool
	)
	sub, err := s.conn.Subscribe(topic, func(msg *nats.Msg) {
		mu.RLock()
		defer mu.RUnlock()
		if closed {
			return
		}
		select {
		case ch <- convert(msg):
		default:
			s.dropped.Add(1)
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// The subscription must reach the server before messages published on
	// other connections are routed to it.
	if err := s.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = sub.Unsubscribe()
			mu.Lock()
			defer mu.Unlock()
			closed = true
			// Pending payloads are discarded so a cancelled reader sees the
			// close right away.
		drain:
			for {
				select {
				case <-ch:
				default:
					break drain
				}
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}
