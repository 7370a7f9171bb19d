package core

import (
	"context"
	"io"
	"sync"
	"time"

	"pkt.systems/tabsync/schema"
)

// Conn is the coordinator's view of one connected client. Outbound messages
// are queued without bound so the coordinator never waits on a slow client;
// inbound messages are handed over one at a time in arrival order.
type Conn struct {
	id          schema.SessionID
	tap         TrafficTap
	connectedAt time.Time

	mu     sync.Mutex
	queue  []schema.ServerMessage
	closed bool
	signal chan struct{}

	inbound     chan schema.ClientMessage
	inboundDone chan struct{}
	inboundOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
}

// NewConn constructs a session channel. tap may be nil.
func NewConn(id schema.SessionID, tap TrafficTap) *Conn {
	return &Conn{
		id:          id,
		tap:         tap,
		connectedAt: time.Now().UTC(),
		signal:      make(chan struct{}, 1),
		inbound:     make(chan schema.ClientMessage),
		inboundDone: make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// ID returns the session id.
func (c *Conn) ID() schema.SessionID {
	return c.id
}

// ConnectedAt reports when the session was created.
func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// Send queues a message for the client.
func (c *Conn) Send(msg schema.ServerMessage) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return schema.ErrSessionClosed
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()
	select {
	case c.signal <- struct{}{}:
	default:
	}
	if c.tap != nil {
		out := msg
		c.tap.OnTraffic(schema.TrafficEvent{SessionID: c.id, Direction: schema.DirectionOutbound, Outbound: &out, Time: time.Now().UTC()})
	}
	return nil
}

// Next returns the oldest queued outbound message, waiting for one if the
// queue is empty. Messages queued before Close are still returned; once the
// queue is drained after Close it returns schema.ErrSessionClosed.
func (c *Conn) Next(ctx context.Context) (schema.ServerMessage, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue[0] = schema.ServerMessage{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, nil
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return schema.ServerMessage{}, schema.ErrSessionClosed
		}
		select {
		case <-c.signal:
		case <-c.done:
		case <-ctx.Done():
			return schema.ServerMessage{}, ctx.Err()
		}
	}
}

// Pending reports the number of queued outbound messages.
func (c *Conn) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Deliver hands an inbound message to the control loop. It blocks until the
// loop receives it, the inbound side closes, or ctx ends.
func (c *Conn) Deliver(ctx context.Context, msg schema.ClientMessage) error {
	select {
	case c.inbound <- msg:
		return nil
	case <-c.inboundDone:
		return schema.ErrSessionClosed
	case <-c.done:
		return schema.ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive returns the next inbound message. It returns io.EOF after
// CloseInbound and schema.ErrSessionClosed after Close.
func (c *Conn) Receive(ctx context.Context) (schema.ClientMessage, error) {
	select {
	case msg := <-c.inbound:
		if c.tap != nil {
			in := msg
			c.tap.OnTraffic(schema.TrafficEvent{SessionID: c.id, Direction: schema.DirectionInbound, Inbound: &in, Time: time.Now().UTC()})
		}
		return msg, nil
	case <-c.inboundDone:
		return schema.ClientMessage{}, io.EOF
	case <-c.done:
		return schema.ClientMessage{}, schema.ErrSessionClosed
	case <-ctx.Done():
		return schema.ClientMessage{}, ctx.Err()
	}
}

// CloseInbound marks the end of the client's message stream.
func (c *Conn) CloseInbound() {
	c.inboundOnce.Do(func() { close(c.inboundDone) })
}

// Close stops accepting outbound messages. Already queued messages remain
// available through Next.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
