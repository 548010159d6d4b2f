package events

// Subscriber receives raw event payloads from the bus. The listener reads
// observed requests through it.
type Subscriber interface {
	// Subscribe delivers payloads published on topic until the returned
	// cancel function is called, which also closes the channel.
	Subscribe(topic string) (<-chan []byte, func(), error)
	Close() error
}

var _ Subscriber = (*NATSSubscriber)(nil)
