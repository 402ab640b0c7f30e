// Package notify implements the downstream notification pipeline: matching
// saved searches against newly ingested records, immediate dispatch, and the
// periodic digest job that drains pending flags.
//
// Message delivery itself is an external collaborator: the package only
// renders a message and hands it off. Mailer is the capability interface;
// the default implementation logs the handoff, which is what development and
// single-node deployments run with. Production wires a real transport behind
// the same interface.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/civicband/civic-observer-sub002/internal/metrics"
)

// Delivery stream identifiers, the logical channel a message belongs to.
const (
	StreamImmediate = "search-immediate"
	StreamDigest    = "search-digest"
)

// Message is a rendered notification ready for handoff.
type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
	Stream   string
}

// Mailer hands a rendered message to the delivery collaborator. The pipeline
// does not manage delivery retries; a returned error means the handoff
// itself failed.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// LogMailer is the default Mailer: it records the handoff in the structured
// log and counts it, without any network side effects.
type LogMailer struct{}

// Send implements Mailer.
func (LogMailer) Send(_ context.Context, msg Message) error {
	metrics.MailsHandedOff.WithLabelValues(msg.Stream).Inc()
	log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("stream", msg.Stream).
		Int("text_bytes", len(msg.TextBody)).
		Msg("message handed off")
	return nil
}
