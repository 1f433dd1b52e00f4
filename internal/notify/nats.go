package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// StreamName is the JetStream stream archiving bid events
const StreamName = "BID_EVENTS"

// NATSPublisher appends bid events to a JetStream stream for archival
// consumers. The event id doubles as the message id so a duplicate publish
// is discarded by the server.
type NATSPublisher struct {
	conn *nats.Conn
	js   jetstream.JetStream
}

// NewNATSPublisher connects to url and ensures the stream exists
func NewNATSPublisher(ctx context.Context, url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("auction"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Admitted bids for archival",
		Subjects:    []string{"bid.events.*"},
		Storage:     jetstream.FileStorage,
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      7 * 24 * time.Hour,
		Duplicates:  2 * time.Minute,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create/update stream: %w", err)
	}
	return &NATSPublisher{conn: conn, js: js}, nil
}

// Publish waits for the server to persist ev
func (p *NATSPublisher) Publish(ctx context.Context, ev BidEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, Subject(ev.ItemID), data, jetstream.WithMsgID(ev.EventID)); err != nil {
		return fmt.Errorf("failed to publish to JetStream: %w", err)
	}
	return nil
}

// Close drains the connection
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
