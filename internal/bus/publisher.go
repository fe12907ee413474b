package bus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/loqa-podcast/internal/logging"
	"github.com/loqalabs/loqa-podcast/internal/pipeline"
	"github.com/loqalabs/loqa-podcast/internal/protocol"
)

// Publisher broadcasts session lifecycle events to NATS.
type Publisher struct {
	client *Client
	log    *slog.Logger
}

func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client, log: client.log.With(slog.String("component", "bus-publisher"))}
}

func (p *Publisher) Record(ctx context.Context, evt pipeline.Event) {
	msg := protocol.AudioSessionEvent{
		SessionID:  evt.SessionID,
		Type:       evt.Type,
		Jobs:       evt.Jobs,
		Lines:      evt.Lines,
		Channels:   evt.Channels,
		Filename:   evt.Filename,
		Error:      evt.Error,
		ErrorKind:  evt.ErrorKind,
		DurationMS: evt.Duration.Milliseconds(),
		Timestamp:  evt.At,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.log.Warn("failed to encode session event", logging.Err(err))
		return
	}
	subject := protocol.SubjectForEvent(evt.Type)
	if err := p.client.Conn().Publish(subject, data); err != nil {
		p.log.Warn("failed to publish session event", slog.String("subject", subject), logging.Err(err))
	}
}
