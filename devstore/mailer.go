package devstore

import (
	"context"

	"github.com/MKNTW/accountflow"
)

// Mailer receives the one-time codes the store would email in production.
type Mailer interface {
	DeliverCode(ctx context.Context, email string, purpose accountflow.CodePurpose, code string) error
}

// Delivery is one captured code.
type Delivery struct {
	Email   string
	Purpose accountflow.CodePurpose
	Code    string
}

// ChannelMailer pushes deliveries onto a buffered channel so tests and the
// dev server can read the code a real user would receive by email.
type ChannelMailer struct {
	ch chan Delivery
}

// NewChannelMailer returns a mailer buffering up to size deliveries.
func NewChannelMailer(size int) *ChannelMailer {
	if size <= 0 {
		size = 16
	}
	return &ChannelMailer{ch: make(chan Delivery, size)}
}

// Deliveries exposes the captured codes.
func (m *ChannelMailer) Deliveries() <-chan Delivery {
	return m.ch
}

// DeliverCode drops the delivery when the buffer is full rather than
// blocking account creation.
func (m *ChannelMailer) DeliverCode(_ context.Context, email string, purpose accountflow.CodePurpose, code string) error {
	select {
	case m.ch <- Delivery{Email: email, Purpose: purpose, Code: code}:
	default:
	}
	return nil
}
