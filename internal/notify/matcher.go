package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/civicband/civic-observer-sub002/internal/domain"
	"github.com/civicband/civic-observer-sub002/internal/repo"
	"github.com/civicband/civic-observer-sub002/internal/search"
)

// DefaultMatchLimit caps how many results a single notification includes.
const DefaultMatchLimit = 10

// Matcher evaluates saved searches after an ingestion run finishes for one
// resource identity. Candidates are scoped structurally in the store, then
// each stored query is re-executed against records newer than the
// subscription's last notification. Immediate subscriptions are notified on
// the spot; daily and weekly ones are flagged for the digest dispatcher.
type Matcher struct {
	DB       *gorm.DB
	Searcher search.Searcher
	Mailer   Mailer

	// MatchLimit bounds results per subscription; zero means
	// DefaultMatchLimit.
	MatchLimit int
}

// MatchSummary reports what one Dispatch pass did.
type MatchSummary struct {
	Evaluated int `json:"evaluated"`
	Matched   int `json:"matched"`
	Immediate int `json:"immediate"`
	Flagged   int `json:"flagged"`
}

// Dispatch runs the matching pass for records ingested under id. A failure
// on one subscription is logged and does not abort evaluation of the rest;
// only a candidate-listing failure is fatal.
func (m *Matcher) Dispatch(ctx context.Context, id domain.ResourceIdentity) error {
	_, err := m.Run(ctx, id)
	return err
}

// Run is Dispatch with the pass summary exposed, for the CLI and tests.
func (m *Matcher) Run(ctx context.Context, id domain.ResourceIdentity) (*MatchSummary, error) {
	limit := m.MatchLimit
	if limit <= 0 {
		limit = DefaultMatchLimit
	}

	subs, err := repo.ListCandidates(ctx, m.DB, id)
	if err != nil {
		return nil, err
	}

	summary := &MatchSummary{}
	for i := range subs {
		sub := &subs[i]
		summary.Evaluated++
		if err := m.evaluate(ctx, sub, limit, summary); err != nil {
			log.Error().Err(err).
				Str("subscription_id", sub.ID).
				Str("owner", sub.Owner).
				Str("resource", id.String()).
				Msg("saved search evaluation failed")
		}
	}

	log.Info().
		Str("resource", id.String()).
		Int("evaluated", summary.Evaluated).
		Int("matched", summary.Matched).
		Int("immediate", summary.Immediate).
		Int("flagged", summary.Flagged).
		Msg("notification matching finished")
	return summary, nil
}

func (m *Matcher) evaluate(ctx context.Context, sub *domain.SavedSearch, limit int, summary *MatchSummary) error {
	since := sub.LastNotificationSent
	if since == nil {
		// Never notified: everything since the subscription existed is new.
		t := sub.CreatedAt
		since = &t
	}

	results, err := m.Searcher.Search(ctx, sub.Query, search.Filters{
		Subdomain: sub.Subdomain,
		Category:  sub.Category,
		Since:     since,
	}, limit, 0)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		return nil
	}
	summary.Matched++

	now := time.Now().UTC()
	if sub.Frequency == domain.FreqImmediate {
		if err := m.Mailer.Send(ctx, renderImmediate(sub, results)); err != nil {
			return err
		}
		if err := repo.MarkNotified(ctx, m.DB, sub.ID, now); err != nil {
			return err
		}
		summary.Immediate++
		return nil
	}

	if err := repo.MarkPending(ctx, m.DB, sub.ID, now); err != nil {
		return err
	}
	summary.Flagged++
	return nil
}
