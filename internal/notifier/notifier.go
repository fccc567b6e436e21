// Package notifier emails a summary of each run.
package notifier

import (
	"fmt"

	"github.com/ibeckermayer/instaflow/internal/config"
	"github.com/ibeckermayer/instaflow/internal/digest"
	"github.com/ibeckermayer/instaflow/internal/notifier/providers"
	"github.com/ibeckermayer/instaflow/internal/types"
)

// Notifier handles sending run summaries
type Notifier struct {
	sender        Sender
	builder       *digest.Builder
	to            string
	onlyOnFailure bool
}

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// New creates a new notifier with the given sender
func New(sender Sender, to string, onlyOnFailure bool) (*Notifier, error) {
	b, err := digest.New()
	if err != nil {
		return nil, err
	}
	return &Notifier{
		sender:        sender,
		builder:       b,
		to:            to,
		onlyOnFailure: onlyOnFailure,
	}, nil
}

// NewFromConfig creates a notifier based on configuration
func NewFromConfig(cfg config.NotifyConfig) (*Notifier, error) {
	var sender Sender

	switch cfg.Provider {
	case "smtp":
		sender = providers.NewSMTPSender(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPass,
			cfg.FromAddr,
		)
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}

	return New(sender, cfg.ToAddr, cfg.OnlyOnFailure)
}

// NotifyRun emails the summary of a finished run. Successful runs are
// skipped when the notifier only reports failures.
func (n *Notifier) NotifyRun(r *types.RunReport) error {
	if n.onlyOnFailure && r.Succeeded() {
		return nil
	}
	d, err := n.builder.Build(r)
	if err != nil {
		return err
	}
	return n.sender.Send(n.to, d.Subject, d.HTMLBody, d.PlainBody)
}
