package apsiken

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"kakomon-harvester/lib/fetch"
	"kakomon-harvester/lib/htmlutil"
)

// SessionMeta identifies one exam session on the site.
type SessionMeta struct {
	// Label is the human-readable session name, e.g. 令和6年春期.
	Label string
	// Year is the Gregorian exam year, also used as the partition key.
	Year int
	// TimesCode is the site's value for the times[] form field.
	TimesCode string
	// BaseURL is the quiz entry page the walk starts from.
	BaseURL string
}

// DiscoverSessions fetches the quiz entry page and lists the exam
// sessions offered by its session checkboxes. Sessions whose label
// cannot be dated are skipped with a warning.
func DiscoverSessions(ctx context.Context, client *fetch.Client, baseURL string) ([]SessionMeta, error) {
	ctx, span := tracer.Start(ctx, "DiscoverSessions")
	defer span.End()

	res, err := client.Do(ctx, fetch.Request{
		Method:   "GET",
		URL:      baseURL,
		CacheKey: "sessions-index",
	})
	if err != nil {
		return nil, fmt.Errorf("fetching session index: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.Text()))
	if err != nil {
		return nil, fmt.Errorf("parsing session index: %w", err)
	}

	var sessions []SessionMeta
	doc.Find("input[name='times[]']").Each(func(_ int, sel *goquery.Selection) {
		code := sel.AttrOr("value", "")
		if code == "" {
			return
		}
		label := sessionLabel(sel)
		if label == "" {
			slog.Warn("session checkbox has no label", "code", code)
			return
		}
		year, err := EraToGregorian(label)
		if err != nil {
			slog.Warn("skipping undatable session", "label", label, "err", err)
			return
		}
		sessions = append(sessions, SessionMeta{
			Label:     label,
			Year:      year,
			TimesCode: code,
			BaseURL:   baseURL,
		})
	})
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no sessions found at %s", baseURL)
	}
	return sessions, nil
}

// sessionLabel finds the text naming a session checkbox, either in an
// enclosing <label> or in the text node right after the input.
func sessionLabel(sel *goquery.Selection) string {
	if label := sel.Closest("label"); label.Length() > 0 {
		return htmlutil.CleanText(label.Text())
	}
	for node := sel.Get(0).NextSibling; node != nil; node = node.NextSibling {
		if node.Type == html.TextNode {
			if text := htmlutil.CleanText(node.Data); text != "" {
				return text
			}
			continue
		}
		if node.Type == html.ElementNode {
			if text := htmlutil.CleanText(htmlutil.GetText(node)); text != "" {
				return text
			}
		}
	}
	return ""
}
