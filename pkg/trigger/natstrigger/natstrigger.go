// Package natstrigger carries revalidation and invalidation signals between
// processes over core NATS.
package natstrigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/smartcache/errors"
	"github.com/c360/smartcache/natsclient"
	"github.com/c360/smartcache/pkg/trigger"
)

// DefaultSubject is used when no subject is configured.
const DefaultSubject = "smartcache.revalidate"

// Message is the wire format.
//
//	{"key":"products:shop-42","event":"invalidate","origin":"5b0c..."}
//
// An empty key targets every binding. An empty event means revalidate.
type Message struct {
	Key    string        `json:"key,omitempty"`
	Event  trigger.Event `json:"event,omitempty"`
	Origin string        `json:"origin,omitempty"`
}

// Decode parses and validates a message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, errors.WrapInvalid(
			fmt.Errorf("%w: %w", errors.ErrParsingFailed, err), "natstrigger", "Decode", "unmarshal message")
	}
	if msg.Event == "" {
		msg.Event = trigger.EventRevalidate
	}
	if msg.Event != trigger.EventRevalidate && msg.Event != trigger.EventInvalidate {
		return Message{}, errors.WrapInvalid(
			fmt.Errorf("%w: unsupported event %q", errors.ErrInvalidData, msg.Event),
			"natstrigger", "Decode", "validate event")
	}
	return msg, nil
}

// Source subscribes to a subject and re-emits every valid message as a
// signal.
type Source struct {
	*trigger.Broadcaster

	client  *natsclient.Client
	subject string
	ignore  string
	logger  *slog.Logger

	mu  sync.Mutex
	sub *natsclient.Subscription
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithSourceLogger sets the logger.
func WithSourceLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// IgnoreOrigin drops messages published by the Publisher with this origin,
// typically the local one.
func IgnoreOrigin(origin string) SourceOption {
	return func(s *Source) {
		s.ignore = origin
	}
}

// NewSource creates a Source. Its name is "nats".
func NewSource(client *natsclient.Client, subject string, opts ...SourceOption) *Source {
	if subject == "" {
		subject = DefaultSubject
	}
	s := &Source{
		Broadcaster: trigger.NewBroadcaster("nats"),
		client:      client,
		subject:     subject,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "natstrigger", "subject", subject)
	return s
}

// Start subscribes to the subject. Calling it again is a no-op.
func (s *Source) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return nil
	}

	sub, err := s.client.Subscribe(ctx, s.subject, s.handle)
	if err != nil {
		return errors.Wrap(err, "natstrigger", "Start", "subscribe")
	}
	s.sub = sub
	s.logger.Info("Listening for revalidation messages")
	return nil
}

func (s *Source) handle(_ context.Context, data []byte) {
	msg, err := Decode(data)
	if err != nil {
		s.logger.Warn("Dropping revalidation message", "error", err)
		return
	}
	if s.ignore != "" && msg.Origin == s.ignore {
		return
	}
	s.Fire(trigger.Signal{Event: msg.Event, Key: msg.Key})
}

// Stop unsubscribes and closes all signal subscriptions.
func (s *Source) Stop() error {
	s.mu.Lock()
	sub := s.sub
	s.sub = nil
	s.mu.Unlock()

	s.Broadcaster.Close()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

// Publisher sends revalidation messages for other processes.
type Publisher struct {
	client  *natsclient.Client
	subject string
	origin  string
}

// NewPublisher creates a Publisher with a fresh origin ID.
func NewPublisher(client *natsclient.Client, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{client: client, subject: subject, origin: uuid.NewString()}
}

// Origin identifies messages from this publisher.
func (p *Publisher) Origin() string {
	return p.origin
}

// Invalidate asks every listener to drop key and refetch.
func (p *Publisher) Invalidate(ctx context.Context, key string) error {
	return p.publish(ctx, Message{Key: key, Event: trigger.EventInvalidate})
}

// Revalidate asks every listener to refetch key while keeping data.
func (p *Publisher) Revalidate(ctx context.Context, key string) error {
	return p.publish(ctx, Message{Key: key, Event: trigger.EventRevalidate})
}

func (p *Publisher) publish(ctx context.Context, msg Message) error {
	msg.Origin = p.origin
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.WrapInvalid(err, "natstrigger", "Publish", "marshal message")
	}

	if err := p.client.Publish(ctx, p.subject, data); err != nil {
		return errors.WrapTransient(err, "natstrigger", "Publish", p.subject)
	}
	return nil
}
