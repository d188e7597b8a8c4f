package repository

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/sylver911/qs-trader-logic-sub000/internal/trader/dto"
)

// newsRepository reads recent headlines for a ticker from an RSS search feed.
type newsRepository struct {
	feedURL string
}

// NewNewsRepository creates a headline source. feedURL is a format string
// receiving the query-escaped ticker.
func NewNewsRepository(feedURL string) NewsRepository {
	return &newsRepository{feedURL: feedURL}
}

func (r *newsRepository) RecentHeadlines(ctx context.Context, ticker string, limit int) ([]dto.NewsHeadline, error) {
	feedURL := fmt.Sprintf(r.feedURL, url.QueryEscape(strings.ToUpper(ticker)))
	fp := gofeed.NewParser()
	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse news feed: %w", err)
	}

	sort.Slice(feed.Items, func(i, j int) bool {
		if feed.Items[i].PublishedParsed == nil || feed.Items[j].PublishedParsed == nil {
			return false
		}
		return feed.Items[i].PublishedParsed.After(*feed.Items[j].PublishedParsed)
	})

	var headlines []dto.NewsHeadline
	for _, item := range feed.Items {
		if len(headlines) >= limit {
			break
		}
		h := dto.NewsHeadline{Title: item.Title, Link: item.Link, PublishedAt: item.PublishedParsed}
		if item.Author != nil {
			h.Source = item.Author.Name
		}
		headlines = append(headlines, h)
	}
	return headlines, nil
}
