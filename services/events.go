package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"energyquiz/session"
)

const (
	EventChanged  = "changed"
	EventFinished = "finished"
	EventRemoved  = "removed"
)

// MsgPublisher is the part of *nats.Conn the event publisher needs.
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// SessionEvent is the payload published for every lifecycle event.
type SessionEvent struct {
	ID         string           `json:"event_id"`
	Type       string           `json:"event_type"`
	SessionID  uint64           `json:"session_id"`
	Version    uint64           `json:"version"`
	OccurredAt time.Time        `json:"timestamp"`
	Snapshot   session.Snapshot `json:"snapshot"`
}

// NATSPublisher publishes session lifecycle events on
// <prefix>.<session id>.<event>.
type NATSPublisher struct {
	conn   MsgPublisher
	prefix string
	now    func() time.Time
}

func NewNATSPublisher(conn MsgPublisher, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "quiz.session"
	}
	return &NATSPublisher{conn: conn, prefix: prefix, now: time.Now}
}

// ConnectNATS dials url with reconnects enabled and logging handlers.
func ConnectNATS(url string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name("energyquiz"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

func (p *NATSPublisher) subject(id uint64, event string) string {
	return fmt.Sprintf("%s.%d.%s", p.prefix, id, event)
}

func (p *NATSPublisher) publish(event string, snap session.Snapshot) error {
	ev := SessionEvent{
		ID:         uuid.NewString(),
		Type:       event,
		SessionID:  snap.ID,
		Version:    snap.Version,
		OccurredAt: p.now().UTC(),
		Snapshot:   snap,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := p.subject(snap.ID, event)
	err = p.conn.PublishMsg(&nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type":  []string{event},
			nats.MsgIdHdr: []string{ev.ID},
		},
	})
	if err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", ev.ID).
		Uint64("version", snap.Version).
		Msg("published session event")
	return nil
}

func (p *NATSPublisher) notify(event string, snap session.Snapshot) {
	if err := p.publish(event, snap); err != nil {
		log.Warn().Err(err).Uint64("session_id", snap.ID).Str("event", event).Msg("session event dropped")
	}
}

func (p *NATSPublisher) SessionChanged(_ context.Context, snap session.Snapshot) {
	p.notify(EventChanged, snap)
}

func (p *NATSPublisher) SessionFinished(_ context.Context, snap session.Snapshot) {
	p.notify(EventFinished, snap)
}

func (p *NATSPublisher) SessionRemoved(_ context.Context, snap session.Snapshot) {
	p.notify(EventRemoved, snap)
}
