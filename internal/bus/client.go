// Package bus wraps an AMQP 0-9-1 channel as the pub/sub transport for
// status messages. Delivery is at-most-once from the publisher's point of
// view: the observer auto-acks and tolerates loss via an explicit refresh.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrUnavailable is returned when the bus connection cannot be established
// or an in-flight operation fails for transport reasons.
var ErrUnavailable = errors.New("bus: unavailable")

// Credentials identifies a bus endpoint, mirroring spec.md §6's Bus config
// section.
type Credentials struct {
	Address  string
	VHost    string
	User     string
	Password string
}

// Client wraps a single AMQP connection/channel pair. A Client is opened
// and closed once per coordinator tick or once for the lifetime of the
// observer process, per spec.md §5's resource policy.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	appID   string
}

// Connect dials the broker and opens a channel.
func Connect(creds Credentials) (*Client, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s/%s", creds.User, creds.Password, creds.Address, creds.VHost)
	conn, err := amqp.DialConfig(url, amqp.Config{
		Dial: amqp.DefaultDial(10 * time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial: %v", ErrUnavailable, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: open channel: %v", ErrUnavailable, err)
	}

	return &Client{conn: conn, channel: ch, appID: "coordinator-" + uuid.NewString()[:8]}, nil
}

// Disconnect closes the channel and connection. Safe to call multiple
// times or on a nil client.
func (c *Client) Disconnect() {
	if c == nil {
		return
	}
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

// DeclareTopic declares a durable queue bound directly to the default
// exchange under the given name — the minimal shape spec.md §6 calls for
// (a single named topic, "news").
func (c *Client) DeclareTopic(name string) error {
	_, err := c.channel.QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%w: declare topic %q: %v", ErrUnavailable, name, err)
	}
	return nil
}

// Publish sends a message to the given topic via the default exchange.
// Ordering within this Client's publishes is preserved by the channel;
// ordering across publishers is not guaranteed, per spec.md §4.2.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	err := c.channel.PublishWithContext(ctx, "", topic, false, false, amqp.Publishing{
		ContentType:   "application/json",
		Body:          payload,
		AppId:         c.appID,
		CorrelationId: uuid.NewString(),
		Timestamp:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("%w: publish to %q: %v", ErrUnavailable, topic, err)
	}
	return nil
}

// Callback is invoked once per delivered message with the raw payload.
type Callback func(payload []byte)

// Subscribe starts consuming topic with auto-ack and invokes cb once for
// each delivery. This is the "callback pushes onto an internal channel"
// idiom spec.md §9 calls for: the goroutine that drains the AMQP delivery
// channel never calls into caller state directly — it forwards payloads
// onto a 64-slot buffered channel, and a second goroutine invokes cb. A
// callback slower than the delivery rate fills that buffer, after which
// the draining goroutine blocks until cb catches up.
//
// Subscribe returns immediately; cancel ctx to stop consuming.
func (c *Client) Subscribe(ctx context.Context, topic string, cb Callback) error {
	consumerTag := "observer-" + uuid.NewString()[:8]
	deliveries, err := c.channel.ConsumeWithContext(ctx, topic, consumerTag, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("%w: subscribe to %q: %v", ErrUnavailable, topic, err)
	}

	forwarded := make(chan []byte, 64)
	go func() {
		defer close(forwarded)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case forwarded <- d.Body:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	go func() {
		for payload := range forwarded {
			cb(payload)
		}
	}()

	return nil
}
