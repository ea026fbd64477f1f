// Package notify renders and delivers the waitlist emails.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
)

// Message is one templated email. Template names a file under templates/.
type Message struct {
	To       string
	Subject  string
	Text     string
	Template string
	Vars     map[string]any
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

// DeliveryError marks a failure that happened while handing a message to the transport.
type DeliveryError struct {
	To       string
	Template string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver %s to %s: %v", e.Template, e.To, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// LogSender writes messages to the process log instead of sending them.
// Used when no SMTP host is configured.
type LogSender struct {
	Logf func(format string, args ...any)
}

func (s LogSender) Send(ctx context.Context, m Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logf := s.Logf
	if logf == nil {
		logf = log.Printf
	}
	logf("notify: to=%s subject=%q template=%s\n%s", m.To, m.Subject, m.Template, m.Text)
	return nil
}

// Recorder keeps every message in memory. Tests use it as a Sender; Fail lets a
// test make delivery to particular addresses fail.
type Recorder struct {
	mu   sync.Mutex
	sent []Message
	Fail func(m Message) error
}

func (r *Recorder) Send(ctx context.Context, m Message) error {
	if r.Fail != nil {
		if err := r.Fail(m); err != nil {
			return &DeliveryError{To: m.To, Template: m.Template, Err: err}
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, m)
	return nil
}

func (r *Recorder) Sent() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.sent))
	copy(out, r.sent)
	return out
}
