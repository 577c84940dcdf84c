package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/lazypower/hypermem/internal/engine"
	"github.com/lazypower/hypermem/internal/metrics"
	"github.com/lazypower/hypermem/internal/store"
	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// FeedResult summarizes one feed poll.
type FeedResult struct {
	FeedID      int64  `json:"feed_id"`
	CommunityID string `json:"community_id"`
	URL         string `json:"url"`
	Created     int    `json:"created"`
	Duplicates  int    `json:"duplicates"`
	Failed      int    `json:"failed"`
	Error       string `json:"error,omitempty"`
}

// IngestDueFeeds polls every feed that is due, a bounded number at a time.
// A failing feed is recorded on its row and never stops the others; the
// returned error covers only the due-feed lookup.
func (p *Pipeline) IngestDueFeeds(ctx context.Context) ([]FeedResult, error) {
	feeds, err := p.DB.DueFeeds(ctx, p.now(), p.cfg.FeedLeeway.Duration)
	if err != nil {
		return nil, err
	}
	if len(feeds) == 0 {
		return nil, nil
	}

	results := make([]FeedResult, len(feeds))
	var g errgroup.Group
	g.SetLimit(p.cfg.FeedConcurrency)
	for i, f := range feeds {
		g.Go(func() error {
			results[i] = p.IngestFeed(ctx, f)
			return nil
		})
	}
	g.Wait()

	var created int
	for _, r := range results {
		created += r.Created
	}
	log.Info().Int("feeds", len(feeds)).Int("created", created).Msg("feed poll complete")
	return results, nil
}

// IngestFeed fetches one feed and stores its newest unseen items.
func (p *Pipeline) IngestFeed(ctx context.Context, f store.Feed) FeedResult {
	res := FeedResult{FeedID: f.ID, CommunityID: f.CommunityID, URL: f.URL}
	logger := log.With().Int64("feed_id", f.ID).Str("community", f.CommunityID).Logger()

	parsed, err := p.parser.ParseURLWithContext(f.URL, ctx)
	if err != nil {
		res.Error = err.Error()
		metrics.IngestItems.WithLabelValues("feed", "error").Inc()
		logger.Warn().Err(err).Str("url", f.URL).Msg("feed fetch failed")
		if merr := p.DB.MarkFeedFailed(ctx, f.ID, err.Error()); merr != nil {
			logger.Warn().Err(merr).Msg("record feed failure")
		}
		return res
	}

	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		title = f.URL
	}
	source := store.MemberInput{
		NodeInput: store.NodeInput{Key: f.URL, Type: store.NodeTopic, Name: title},
		Role:      RoleSource,
	}

	for _, item := range recentItems(parsed.Items, p.cfg.MaxItems) {
		created, err := p.ingestItem(ctx, f, item, source)
		switch {
		case err != nil:
			res.Failed++
			metrics.IngestItems.WithLabelValues("feed", "error").Inc()
			logger.Warn().Err(err).Str("link", item.Link).Msg("feed item failed")
		case created:
			res.Created++
			metrics.IngestItems.WithLabelValues("feed", "created").Inc()
		default:
			res.Duplicates++
			metrics.IngestItems.WithLabelValues("feed", "duplicate").Inc()
		}
	}

	if err := p.DB.MarkFeedFetched(ctx, f.ID, title, p.now()); err != nil {
		logger.Warn().Err(err).Msg("record feed fetch")
	}
	logger.Debug().Int("created", res.Created).Int("duplicates", res.Duplicates).Int("failed", res.Failed).Msg("feed ingested")
	return res
}

// ingestItem stores one item unless its link was ingested before. The
// lookup skips extraction for known links; the store's unique source_url
// index settles races between concurrent polls.
func (p *Pipeline) ingestItem(ctx context.Context, f store.Feed, item *gofeed.Item, source store.MemberInput) (bool, error) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		link = strings.TrimSpace(item.GUID)
	}
	if link != "" {
		seen, err := p.DB.HasSourceURL(ctx, f.CommunityID, link)
		if err != nil {
			return false, err
		}
		if seen {
			return false, nil
		}
	}

	text := itemText(item)
	if text == "" {
		return false, fmt.Errorf("item has no text")
	}

	ex, err := p.Extractor.Extract(ctx, text)
	if err != nil {
		return false, fmt.Errorf("extract: %w", err)
	}
	summary := ex.Summary
	if summary == "" {
		summary = strings.TrimSpace(item.Title)
	}

	meta := store.Metadata{"feed_id": f.ID}
	if link != "" {
		meta["source_url"] = link
	}
	if t := itemTime(item); t != nil {
		meta["published_at"] = t.UnixMilli()
	}

	members := append(engine.EntityMembers(ex.Entities, RoleMentioned), source)
	_, err = p.Engine.CreateMemory(ctx, f.CommunityID, "feed", store.HyperedgeInput{
		ChannelID:       store.IngestionChannel,
		EdgeType:        store.EdgeFact,
		Summary:         summary,
		Content:         text,
		SourceMessageID: item.GUID,
		Metadata:        meta,
		Members:         members,
	})
	if errors.Is(err, store.ErrDuplicate) {
		// another poll stored the same link while this item was extracting
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// itemText joins the title with the stripped body, preferring full content
// over the description.
func itemText(item *gofeed.Item) string {
	body := item.Content
	if strings.TrimSpace(body) == "" {
		body = item.Description
	}
	parts := make([]string, 0, 2)
	if t := strings.TrimSpace(item.Title); t != "" {
		parts = append(parts, t)
	}
	if b := StripHTML(body); b != "" {
		parts = append(parts, b)
	}
	return strings.Join(parts, "\n\n")
}

func itemTime(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	return item.UpdatedParsed
}

// recentItems returns up to max items, newest first. Undated items sort
// after dated ones and keep feed order among themselves.
func recentItems(items []*gofeed.Item, max int) []*gofeed.Item {
	sorted := make([]*gofeed.Item, 0, len(items))
	for _, it := range items {
		if it != nil {
			sorted = append(sorted, it)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, tj := itemTime(sorted[i]), itemTime(sorted[j])
		switch {
		case ti == nil:
			return false
		case tj == nil:
			return true
		default:
			return ti.After(*tj)
		}
	})
	if max > 0 && len(sorted) > max {
		sorted = sorted[:max]
	}
	return sorted
}
