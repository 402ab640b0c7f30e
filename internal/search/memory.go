package search

import (
	"context"
	"sort"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/civicband/civic-observer-sub002/internal/domain"
)

// memorySearcher loads the structurally scoped candidate pages and ranks
// them in memory by Jaccard similarity between the query token set and each
// page's token set: score = |Q ∩ P| / |Q ∪ P|. Scoring and ordering are
// deterministic (stable sort with explicit tie-breaks), so repeated queries
// over unchanged data return identical result lists.
type memorySearcher struct {
	db *gorm.DB
}

// Search implements Searcher.
func (s *memorySearcher) Search(ctx context.Context, query string, f Filters, limit, offset int) ([]Result, error) {
	queryTerms := terms(query)
	if len(queryTerms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	qSet := make(map[string]struct{}, len(queryTerms))
	for _, t := range queryTerms {
		qSet[t] = struct{}{}
	}

	q := s.db.WithContext(ctx).
		Model(&domain.MeetingPage{}).
		Select("meeting_pages.meeting_key, meeting_pages.page_number, meeting_pages.text, meetings.title, meetings.date, meetings.subdomain, meetings.category").
		Joins("JOIN meetings ON meetings.key = meeting_pages.meeting_key")
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
	if err := q.Scan(&rows).Error; err != nil {
		return nil, err
	}

	type scored struct {
		row      pageRow
		score    float64
		lenRunes int
	}
	buf := make([]scored, 0, len(rows))
	for _, r := range rows {
		pTokens := tokenSet(r.Text)
		over := overlap(qSet, pTokens)
		if over == 0 {
			continue
		}
		union := float64(len(qSet) + len(pTokens) - over)
		if union <= 0 {
			continue
		}
		buf = append(buf, scored{
			row:      r,
			score:    float64(over) / union,
			lenRunes: utf8.RuneCountInString(r.Text),
		})
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].score != buf[b].score {
			return buf[a].score > buf[b].score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		if buf[a].row.MeetingKey != buf[b].row.MeetingKey {
			return buf[a].row.MeetingKey < buf[b].row.MeetingKey
		}
		return buf[a].row.PageNumber < buf[b].row.PageNumber
	})

	if offset >= len(buf) {
		return nil, nil
	}
	buf = buf[offset:]
	if limit < len(buf) {
		buf = buf[:limit]
	}

	out := make([]Result, 0, len(buf))
	for _, sc := range buf {
		out = append(out, Result{
			MeetingKey: sc.row.MeetingKey,
			Title:      sc.row.Title,
			Date:       sc.row.Date,
			Subdomain:  sc.row.Subdomain,
			Category:   sc.row.Category,
			PageNumber: sc.row.PageNumber,
			Snippet:    snippetAround(sc.row.Text, queryTerms, 120),
			Score:      sc.score,
		})
	}
	return out, nil
}

func tokenSet(text string) map[string]struct{} {
	words := wordRE.FindAllString(strings.ToLower(text), -1)
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
