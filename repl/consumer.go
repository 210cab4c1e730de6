package repl

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"pgoutput-consumer/pgoutput"
)

// Consumer drains a Source until a fixed number of row changes has been
// seen. Begin, Commit and Relation messages pass through to the handler
// without advancing the countdown.
type Consumer struct {
	remaining int
	ack       bool
	handler   Handler
	log       *logrus.Logger
}

// NewConsumer creates a Consumer that counts down from target and stops
// after the row change that takes the count below zero. When ack is true
// every processed message except the terminating one is acknowledged at its
// start position.
func NewConsumer(target int, ack bool, handler Handler, log *logrus.Logger) *Consumer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Consumer{remaining: target, ack: ack, handler: handler, log: log}
}

// Run pulls and processes messages in stream order until the countdown
// stops the loop. It returns nil on a countdown stop and the first error
// otherwise.
func (c *Consumer) Run(ctx context.Context, src Source) error {
	for {
		raw, err := src.Pull(ctx)
		if err != nil {
			return fmt.Errorf("pull message: %w", err)
		}

		stop, err := c.process(ctx, src, raw)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// process handles a single message and reports whether the countdown stops
// the loop.
func (c *Consumer) process(ctx context.Context, src Source, raw RawMessage) (bool, error) {
	msg, err := pgoutput.Decode(raw.Payload)

	var unrecognized *pgoutput.UnrecognizedTagError
	switch {
	case errors.As(err, &unrecognized):
		// Unknown message kinds are skipped but still acknowledged below,
		// like any other processed message.
		c.log.WithFields(logrus.Fields{
			"walEnd": raw.WALEnd,
			"tag":    string(unrecognized.Tag),
		}).Info("skipping message")
	case err != nil:
		return false, fmt.Errorf("decode message: %w", err)
	default:
		if err := c.handler(ctx, raw, msg); err != nil {
			return false, fmt.Errorf("handle %s message: %w", msg.Type(), err)
		}
		if _, ok := msg.(pgoutput.ChangeEvent); ok {
			c.remaining--
		}
	}

	// The stop check runs before the acknowledgment, so the terminating
	// change is emitted but never acknowledged and a later run sees it
	// again.
	if c.remaining < 0 {
		return true, nil
	}

	if c.ack {
		if err := src.Flush(ctx, raw.DataStart); err != nil {
			return false, fmt.Errorf("flush %s: %w", raw.DataStart, err)
		}
	}

	return false, nil
}
