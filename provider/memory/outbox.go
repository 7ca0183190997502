package memory

import (
	"context"
	"sync"
	"time"
)

// LinkSender delivers sign in links, typically by email.
type LinkSender interface {
	SendSignInLink(ctx context.Context, email, link string) error
}

// LinkSenderFunc adapts a function to the LinkSender interface.
type LinkSenderFunc func(ctx context.Context, email, link string) error

// SendSignInLink implements LinkSender.
func (f LinkSenderFunc) SendSignInLink(ctx context.Context, email, link string) error {
	return f(ctx, email, link)
}

// Message is a link recorded by an Outbox.
type Message struct {
	Email  string    `json:"email"`
	Link   string    `json:"link"`
	SentAt time.Time `json:"sent_at"`
}

// Outbox keeps every link instead of sending it.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

// SendSignInLink implements LinkSender.
func (o *Outbox) SendSignInLink(ctx context.Context, email, link string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	o.mu.Lock()
	o.messages = append(o.messages, Message{Email: email, Link: link, SentAt: time.Now().UTC()})
	o.mu.Unlock()
	return nil
}

// Last returns the latest link sent to email.
func (o *Outbox) Last(email string) (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].Email == email {
			return o.messages[i].Link, true
		}
	}
	return "", false
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}
