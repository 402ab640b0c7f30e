package search

import (
	"context"

	"gorm.io/gorm"

	"github.com/civicband/civic-observer-sub002/internal/domain"
)

// sqliteSearcher matches pages relationally: every query term must appear in
// the page text (case-insensitive LIKE), scoped by the structural filters.
// Ranking is by meeting date descending, then page order: the shape a
// relational text index gives you without a dedicated scoring model.
type sqliteSearcher struct {
	db *gorm.DB
}

// pageRow is the joined projection the backend selects.
type pageRow struct {
	MeetingKey string
	PageNumber int
	Text       string
	Title      string
	Date       string
	Subdomain  string
	Category   string
}

// Search implements Searcher.
func (s *sqliteSearcher) Search(ctx context.Context, query string, f Filters, limit, offset int) ([]Result, error) {
	queryTerms := terms(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	q := s.db.WithContext(ctx).
		Model(&domain.MeetingPage{}).
		Select("meeting_pages.meeting_key, meeting_pages.page_number, meeting_pages.text, meetings.title, meetings.date, meetings.subdomain, meetings.category").
		Joins("JOIN meetings ON meetings.key = meeting_pages.meeting_key")

	for _, t := range queryTerms {
		q = q.Where("meeting_pages.text LIKE ?", "%"+t+"%")
	}
	if f.Subdomain != "" {
		q = q.Where("meetings.subdomain = ?", f.Subdomain)
	}
	if f.Category != "" {
		q = q.Where("meetings.category = ?", f.Category)
	}
	if f.Since != nil {
		q = q.Where("meeting_pages.updated_at > ? OR meeting_pages.created_at > ?", f.Since.UTC(), f.Since.UTC())
	}

	var rows []pageRow
	err := q.Order("meetings.date desc, meeting_pages.meeting_key asc, meeting_pages.page_number asc").
		Offset(offset).
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(rows))
	for _, r := range rows {
		out = append(out, Result{
			MeetingKey: r.MeetingKey,
			Title:      r.Title,
			Date:       r.Date,
			Subdomain:  r.Subdomain,
			Category:   r.Category,
			PageNumber: r.PageNumber,
			Snippet:    snippetAround(r.Text, queryTerms, 120),
			// All terms matched by construction; LIKE matching has no
			// graded relevance.
			Score: 1.0,
		})
	}
	return out, nil
}
