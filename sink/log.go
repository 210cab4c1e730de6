package sink

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/k0kubun/pp/v3"
	"github.com/sirupsen/logrus"
	"pgoutput-consumer/pgoutput"
	"pgoutput-consumer/repl"
)

// LogHandler logs every decoded message with its stream positions and
// pretty-prints the record itself. It is the default way to inspect what a
// slot carries.
type LogHandler struct {
	log     *logrus.Logger
	printer *pp.PrettyPrinter
}

// NewLogHandler creates a LogHandler writing records to out, or stdout when
// out is nil.
func NewLogHandler(out io.Writer, color bool, log *logrus.Logger) *LogHandler {
	if out == nil {
		out = os.Stdout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	printer := pp.New()
	printer.SetOutput(out)
	printer.SetColoringEnabled(color)

	return &LogHandler{log: log, printer: printer}
}

// Handle implements repl.Handler.
func (h *LogHandler) Handle(ctx context.Context, raw repl.RawMessage, msg pgoutput.Message) error {
	h.log.WithFields(logrus.Fields{
		"type":      msg.Type().String(),
		"walEnd":    raw.WALEnd,
		"dataStart": raw.DataStart,
	}).Info("received message")

	if _, err := h.printer.Println(msg); err != nil {
		return fmt.Errorf("print message: %w", err)
	}
	return nil
}
