// Package logging configures logrus for the daemon and CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a logger writing to stderr
func New(level, format string) (*logrus.Logger, error) {
	return NewWithOutput(os.Stderr, level, format)
}

// NewWithOutput builds a logger writing to out
func NewWithOutput(out io.Writer, level, format string) (*logrus.Logger, error) {
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return log, nil
}

// Publisher is satisfied by *nats.Conn
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Hook forwards log entries to a message bus subject
type Hook struct {
	pub     Publisher
	subject string
	account string
}

// NewHook publishes entries on bchydro.{account}.logs
func NewHook(pub Publisher, account string) *Hook {
	return &Hook{
		pub:     pub,
		subject: fmt.Sprintf("bchydro.%s.logs", account),
		account: account,
	}
}

// Subject returns the subject entries are published on
func (h *Hook) Subject() string {
	return h.subject
}

func (h *Hook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *Hook) Fire(entry *logrus.Entry) error {
	// entry.Data is shared with the other hooks
	e := entry.WithField("account", h.account)
	e.Level = entry.Level
	e.Message = entry.Message
	e.Time = entry.Time

	msg, err := (&logrus.JSONFormatter{}).Format(e)
	if err != nil {
		return fmt.Errorf("formatting log entry: %w", err)
	}
	return h.pub.Publish(h.subject, msg)
}
