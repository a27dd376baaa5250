// Package events connects the stub lifecycle to an external embedding pipeline
// over NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ineyio/inferhub"
)

// StubEvent announces a stub waiting for an embedding.
type StubEvent struct {
	ID          int64                `json:"id"`
	Kind        inferhub.StubKind    `json:"kind"`
	OwnerID     int64                `json:"ownerId"`
	Project     string               `json:"project"`
	ContentType inferhub.ContentType `json:"contentType"`
	Content     string               `json:"content"`
	CreatedAt   time.Time            `json:"createdAt"`
}

// CompletedEvent is sent by the pipeline once a stub has been embedded.
type CompletedEvent struct {
	Kind inferhub.StubKind `json:"kind"`
	ID   int64             `json:"id"`
}

// Marker flips a stub's embedded flag. inferhub.StubStore satisfies it.
type Marker interface {
	MarkEmbedded(ctx context.Context, kind inferhub.StubKind, id int64) error
}

// Config names the JetStream resources the bus uses.
type Config struct {
	Stream        string
	SubjectPrefix string
	Durable       string
}

// PendingSubject is where stub events are published.
func (c Config) PendingSubject() string { return c.SubjectPrefix + ".stubs.pending" }

// CompletedSubject is where the pipeline reports finished embeddings.
func (c Config) CompletedSubject() string { return c.SubjectPrefix + ".embeddings.completed" }

type msgPublisher interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSBus publishes stub events and consumes completion events.
type NATSBus struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	pub    msgPublisher
	cfg    Config
	logger *zap.Logger
}

var _ inferhub.EventPublisher = (*NATSBus)(nil)

// Connect dials url, opens JetStream and ensures the stream exists.
func Connect(url string, cfg Config, logger *zap.Logger) (*NATSBus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url, nats.Name("inferhub"))
	if err != nil {
		return nil, fmt.Errorf("inferhub/events: connect %s: %w", url, err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("inferhub/events: jetstream: %w", err)
	}

	b := &NATSBus{conn: conn, js: js, pub: js, cfg: cfg, logger: logger}
	if err := b.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *NATSBus) ensureStream() error {
	subjects := []string{b.cfg.PendingSubject(), b.cfg.CompletedSubject()}

	info, err := b.js.StreamInfo(b.cfg.Stream)
	if errors.Is(err, nats.ErrStreamNotFound) {
		_, err = b.js.AddStream(&nats.StreamConfig{
			Name:     b.cfg.Stream,
			Subjects: subjects,
			Storage:  nats.FileStorage,
		})
		if err != nil {
			return fmt.Errorf("inferhub/events: create stream %s: %w", b.cfg.Stream, err)
		}
		b.logger.Info("created stream", zap.String("stream", b.cfg.Stream), zap.Strings("subjects", subjects))
		return nil
	}
	if err != nil {
		return fmt.Errorf("inferhub/events: stream info %s: %w", b.cfg.Stream, err)
	}

	cfg := info.Config
	changed := false
	for _, s := range subjects {
		if !slices.Contains(cfg.Subjects, s) {
			cfg.Subjects = append(cfg.Subjects, s)
			changed = true
		}
	}
	if changed {
		if _, err := b.js.UpdateStream(&cfg); err != nil {
			return fmt.Errorf("inferhub/events: update stream %s: %w", b.cfg.Stream, err)
		}
		b.logger.Info("updated stream subjects", zap.String("stream", b.cfg.Stream))
	}
	return nil
}

// PublishStubs publishes one StubEvent per stub. Each message carries a fresh
// Nats-Msg-Id for JetStream de-duplication of client retries.
func (b *NATSBus) PublishStubs(ctx context.Context, stubs []inferhub.Stub) error {
	subject := b.cfg.PendingSubject()
	for _, s := range stubs {
		msg, err := stubMessage(subject, s)
		if err != nil {
			return err
		}
		if _, err := b.pub.PublishMsg(msg, nats.Context(ctx)); err != nil {
			return fmt.Errorf("inferhub/events: publish %s stub %d: %w", s.Kind, s.ID, err)
		}
	}
	return nil
}

func stubMessage(subject string, s inferhub.Stub) (*nats.Msg, error) {
	data, err := json.Marshal(StubEvent{
		ID:          s.ID,
		Kind:        s.Kind,
		OwnerID:     s.OwnerID,
		Project:     s.Project,
		ContentType: s.ContentType,
		Content:     s.Content,
		CreatedAt:   s.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("inferhub/events: encode stub %d: %w", s.ID, err)
	}
	msg := nats.NewMsg(subject)
	msg.Header.Set(nats.MsgIdHdr, uuid.NewString())
	msg.Data = data
	return msg, nil
}

// Consume pulls completion events with a durable consumer and marks the named
// stubs embedded. It blocks until ctx is done.
func (b *NATSBus) Consume(ctx context.Context, marker Marker) error {
	sub, err := b.js.PullSubscribe(b.cfg.CompletedSubject(), b.cfg.Durable, nats.ManualAck())
	if err != nil {
		return fmt.Errorf("inferhub/events: pull subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	b.logger.Info("consuming embedding completions",
		zap.String("subject", b.cfg.CompletedSubject()),
		zap.String("durable", b.cfg.Durable),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := sub.Fetch(10, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return nil
			}
			b.logger.Warn("fetch completions failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			b.settle(msg, handleCompleted(ctx, marker, msg.Data))
		}
	}
}

func (b *NATSBus) settle(msg *nats.Msg, err error) {
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, errPoison):
		b.logger.Warn("dropping completion event", zap.Error(err))
		_ = msg.Term()
	default:
		b.logger.Warn("completion event failed, will retry", zap.Error(err))
		_ = msg.Nak()
	}
}

var errPoison = errors.New("unprocessable completion event")

// handleCompleted applies one completion event. Malformed events and unknown
// stubs are reported as errPoison so they are not redelivered.
func handleCompleted(ctx context.Context, marker Marker, data []byte) error {
	var ev CompletedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: %v", errPoison, err)
	}
	if ev.Kind != inferhub.StubKindLog && ev.Kind != inferhub.StubKindContext {
		return fmt.Errorf("%w: unknown kind %q", errPoison, ev.Kind)
	}
	if err := marker.MarkEmbedded(ctx, ev.Kind, ev.ID); err != nil {
		if errors.Is(err, inferhub.ErrNotFound) {
			return fmt.Errorf("%w: %s stub %d not found", errPoison, ev.Kind, ev.ID)
		}
		return err
	}
	return nil
}

// Close drains the connection.
func (b *NATSBus) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}
