package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"pgoutput-consumer/pgoutput"
	"pgoutput-consumer/repl"
)

const (
	natsMaxReconnects = 5
	natsReconnectWait = 2 * time.Second
)

// NATSSink publishes JSON envelopes to a subject.
type NATSSink struct {
	conn    *nats.Conn
	subject string
	encoder Encoder
	log     *logrus.Logger
}

// NewNATSSink connects to url and creates a NATSSink publishing to subject.
func NewNATSSink(url, subject string, log *logrus.Logger) (*NATSSink, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	opts := []nats.Option{
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warnf("NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Infof("NATS reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Warn("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	log.Infof("connected to NATS at %s", url)

	return &NATSSink{
		conn:    conn,
		subject: subject,
		encoder: JSONEncoder(),
		log:     log,
	}, nil
}

// Handle implements repl.Handler.
func (s *NATSSink) Handle(ctx context.Context, raw repl.RawMessage, msg pgoutput.Message) error {
	data, err := s.encoder(NewEnvelope(raw, msg))
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := s.conn.Publish(s.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", s.subject, err)
	}

	s.log.Debugf("published %s message", msg.Type())
	return nil
}

// Close closes the NATS connection.
func (s *NATSSink) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
