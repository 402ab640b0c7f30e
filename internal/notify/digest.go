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

// Dispatcher drains the pending flags for one notification frequency: it
// groups flagged subscriptions by owner, sends one aggregated message per
// owner, and clears exactly the flags it read. Clearing is conditional on
// the PendingSince token captured at read time, so a subscription re-flagged
// while the digest was in flight stays pending for the next run.
type Dispatcher struct {
	DB       *gorm.DB
	Searcher search.Searcher
	Mailer   Mailer

	// MatchLimit bounds results per subscription section; zero means
	// DefaultMatchLimit.
	MatchLimit int
}

// DigestSummary reports what one dispatch run sent and cleared.
type DigestSummary struct {
	EmailsSent        int `json:"emails_sent"`
	SearchesNotified  int `json:"searches_notified"`
	SearchesRemaining int `json:"searches_remaining"`
}

// RunDaily dispatches the daily digest stream.
func (d *Dispatcher) RunDaily(ctx context.Context) (*DigestSummary, error) {
	return d.run(ctx, domain.FreqDaily)
}

// RunWeekly dispatches the weekly digest stream.
func (d *Dispatcher) RunWeekly(ctx context.Context) (*DigestSummary, error) {
	return d.run(ctx, domain.FreqWeekly)
}

func (d *Dispatcher) run(ctx context.Context, frequency string) (*DigestSummary, error) {
	limit := d.MatchLimit
	if limit <= 0 {
		limit = DefaultMatchLimit
	}

	pending, err := repo.ListPending(ctx, d.DB, frequency)
	if err != nil {
		return nil, err
	}

	summary := &DigestSummary{}
	// ListPending orders by owner, so pending rows for one recipient are
	// contiguous.
	for start := 0; start < len(pending); {
		end := start
		for end < len(pending) && pending[end].Owner == pending[start].Owner {
			end++
		}
		d.dispatchOwner(ctx, pending[start:end], limit, summary)
		start = end
	}

	log.Info().
		Str("frequency", frequency).
		Int("pending", len(pending)).
		Int("emails_sent", summary.EmailsSent).
		Int("searches_notified", summary.SearchesNotified).
		Int("searches_remaining", summary.SearchesRemaining).
		Msg("digest dispatch finished")
	return summary, nil
}

// dispatchOwner sends one aggregated message covering every pending
// subscription of a single owner. A failure leaves the owner's flags set so
// the next run retries them.
func (d *Dispatcher) dispatchOwner(ctx context.Context, subs []domain.SavedSearch, limit int, summary *DigestSummary) {
	owner := subs[0].Owner

	sections := make([]DigestSection, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		results, err := d.sectionResults(ctx, sub, limit)
		if err != nil {
			log.Error().Err(err).
				Str("subscription_id", sub.ID).
				Str("owner", owner).
				Msg("digest section query failed")
			summary.SearchesRemaining++
			continue
		}
		sections = append(sections, DigestSection{Search: sub, Results: results})
	}
	if len(sections) == 0 {
		return
	}

	if err := d.Mailer.Send(ctx, renderDigest(owner, sections)); err != nil {
		log.Error().Err(err).Str("owner", owner).Msg("digest handoff failed")
		summary.SearchesRemaining += len(sections)
		return
	}
	summary.EmailsSent++

	sentAt := time.Now().UTC()
	for _, sec := range sections {
		if sec.Search.PendingSince == nil {
			// Flag without a token: nothing to compare against, leave it
			// for the next run rather than clear blind.
			summary.SearchesRemaining++
			continue
		}
		cleared, err := repo.ClearPending(ctx, d.DB, sec.Search.ID, *sec.Search.PendingSince, sentAt)
		if err != nil {
			log.Error().Err(err).
				Str("subscription_id", sec.Search.ID).
				Msg("pending flag clear failed")
			summary.SearchesRemaining++
			continue
		}
		if cleared {
			summary.SearchesNotified++
		} else {
			// Re-flagged mid-send; the new pending state survives.
			summary.SearchesRemaining++
		}
	}
}

// sectionResults re-executes one stored query for its digest section. The
// window opens at the last notification (or subscription creation), not at
// PendingSince: records that arrived between the flagging detection and this
// run are included rather than deferred.
func (d *Dispatcher) sectionResults(ctx context.Context, sub *domain.SavedSearch, limit int) ([]search.Result, error) {
	since := sub.LastNotificationSent
	if since == nil {
		t := sub.CreatedAt
		since = &t
	}
	return d.Searcher.Search(ctx, sub.Query, search.Filters{
		Subdomain: sub.Subdomain,
		Category:  sub.Category,
		Since:     since,
	}, limit, 0)
}
