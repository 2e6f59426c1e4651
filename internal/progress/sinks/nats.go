package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/JakeFAU/linkscraper/internal/progress"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "linkscraper.jobs"

// Publisher is the subset of *nats.Conn the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Drain() error
}

// NATSSink publishes every event as JSON on a subject. Subscribers see the
// event's stage as a suffix, e.g. "linkscraper.jobs.JOB_DONE".
type NATSSink struct {
	pub     Publisher
	subject string
}

// ConnectNATS dials the server with unlimited reconnects.
func ConnectNATS(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("linkscraper"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

// NewNATSSink wraps an established connection.
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{pub: pub, subject: subject}
}

// Consume publishes the batch and flushes the connection so ctx bounds delivery
// to the server.
func (s *NATSSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		data, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := s.pub.Publish(s.subject+"."+string(evt.Stage), data); err != nil {
			return fmt.Errorf("publish event: %w", err)
		}
	}
	if err := s.pub.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush nats: %w", err)
	}
	return nil
}

// Close drains the connection.
func (s *NATSSink) Close(context.Context) error {
	if err := s.pub.Drain(); err != nil {
		return fmt.Errorf("drain nats: %w", err)
	}
	return nil
}
