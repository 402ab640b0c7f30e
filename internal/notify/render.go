package notify

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/civicband/civic-observer-sub002/internal/domain"
	"github.com/civicband/civic-observer-sub002/internal/search"
)

var titleCaser = cases.Title(language.English)

// DigestSection is one saved search's contribution to an aggregated digest.
type DigestSection struct {
	Search  *domain.SavedSearch
	Results []search.Result
}

// renderImmediate builds the single-search notification sent on the
// immediate path.
func renderImmediate(sub *domain.SavedSearch, results []search.Result) Message {
	subject := fmt.Sprintf("New results for %q", titleCaser.String(sub.Query))

	var text, html strings.Builder
	fmt.Fprintf(&text, "Your saved search %q has %d new result(s).\n\n", sub.Query, len(results))
	fmt.Fprintf(&html, "<p>Your saved search <strong>%s</strong> has %d new result(s).</p>", sub.Query, len(results))
	writeResults(&text, &html, results)

	return Message{
		To:       sub.Owner,
		Subject:  subject,
		TextBody: text.String(),
		HTMLBody: html.String(),
		Stream:   StreamImmediate,
	}
}

// renderDigest builds the one aggregated message covering every pending
// saved search for a single recipient.
func renderDigest(owner string, sections []DigestSection) Message {
	subject := fmt.Sprintf("Civic Observer digest: %d saved search(es) with new results", len(sections))

	var text, html strings.Builder
	fmt.Fprintf(&text, "New meeting records matched %d of your saved searches.\n", len(sections))
	fmt.Fprintf(&html, "<p>New meeting records matched %d of your saved searches.</p>", len(sections))
	for _, sec := range sections {
		fmt.Fprintf(&text, "\n== %q ==\n", sec.Search.Query)
		fmt.Fprintf(&html, "<h3>%s</h3>", titleCaser.String(sec.Search.Query))
		writeResults(&text, &html, sec.Results)
	}

	return Message{
		To:       owner,
		Subject:  subject,
		TextBody: text.String(),
		HTMLBody: html.String(),
		Stream:   StreamDigest,
	}
}

func writeResults(text, html *strings.Builder, results []search.Result) {
	html.WriteString("<ul>")
	for _, r := range results {
		fmt.Fprintf(text, "- %s (%s, p.%d): %s\n", r.Title, r.Date, r.PageNumber, r.Snippet)
		fmt.Fprintf(html, "<li><strong>%s</strong> (%s, p.%d): %s</li>", r.Title, r.Date, r.PageNumber, r.Snippet)
	}
	html.WriteString("</ul>")
}
