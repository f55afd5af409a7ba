// Package events fans appointment events out over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/hackgods/doctalk-booking/internal/appointment"
	"github.com/hackgods/doctalk-booking/pkg/logger"
)

const DefaultSubject = "booking.events"

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	PublishMsg(m *nats.Msg) error
}

// Message is the wire form of an appointment event.
type Message struct {
	ID            string          `json:"id"`
	EventType     string          `json:"event_type"`
	AppointmentID string          `json:"appointment_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NATSPublisher publishes each event on <subject>.<event type>, e.g.
// booking.events.appointment_created.
type NATSPublisher struct {
	conn    Conn
	subject string
}

var _ appointment.Publisher = (*NATSPublisher)(nil)

func NewNATSPublisher(conn Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) Publish(ctx context.Context, ev appointment.EventLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := Message{
		ID:        uuid.NewString(),
		EventType: ev.EventType,
		CreatedAt: ev.CreatedAt,
	}
	if ev.AppointmentID != nil {
		msg.AppointmentID = ev.AppointmentID.String()
	}
	if len(ev.Payload) > 0 {
		msg.Payload = json.RawMessage(ev.Payload)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	out := nats.NewMsg(p.Subject(ev.EventType))
	out.Data = data
	out.Header.Set(nats.MsgIdHdr, msg.ID)
	out.Header.Set("Event-Type", ev.EventType)
	if err := p.conn.PublishMsg(out); err != nil {
		return fmt.Errorf("publish %s: %w", ev.EventType, err)
	}
	return nil
}

// Subject is where events of eventType are published.
func (p *NATSPublisher) Subject(eventType string) string {
	return p.subject + "." + strings.ToLower(eventType)
}

// Connect dials NATS with reconnects enabled, logging connection changes.
func Connect(url string, log *logger.Logger) (*nats.Conn, error) {
	log = logger.OrNop(log)
	nc, err := nats.Connect(url,
		nats.Name("doctalk-booking"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}
