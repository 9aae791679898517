package substack

import (
	"context"
	"time"

	"github.com/hsrmk/skystack/internal/domain"
	"github.com/hsrmk/skystack/internal/logger"
)

const (
	// MaxPageSize is the upstream's hard per-request page cap.
	MaxPageSize = 20

	// backfillItemCap bounds a single backward walk.
	backfillItemCap = 5000
)

// ArchiveFetcher fetches one normalized archive page.
type ArchiveFetcher interface {
	ArchivePage(ctx context.Context, baseURL string, offset, limit int) ([]domain.PostItem, error)
}

// Paginator walks a reverse-chronological archive feed in either direction.
type Paginator struct {
	fetcher ArchiveFetcher
	logger  logger.Logger
}

// NewPaginator creates a paginator over the given fetcher.
func NewPaginator(fetcher ArchiveFetcher, log logger.Logger) *Paginator {
	return &Paginator{fetcher: fetcher, logger: log}
}

// FetchPosts collects up to limit items in the feed's native newest-first
// order, issuing successive page fetches until the limit is reached or a
// page comes back short.
func (p *Paginator) FetchPosts(ctx context.Context, baseURL string, limit int) ([]domain.PostItem, error) {
	items := make([]domain.PostItem, 0, limit)
	offset := 0

	for len(items) < limit {
		fetchLimit := min(MaxPageSize, limit-len(items))
		page, err := p.fetcher.ArchivePage(ctx, baseURL, offset, fetchLimit)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		items = append(items, page...)
		if len(page) < fetchLimit {
			break
		}
		offset += fetchLimit
	}

	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// FetchLatestPosts collects items strictly newer than since, newest first.
// The feed is reverse-chronological, so the walk short-circuits at the first
// item at or before the cutoff; cost is bounded by the number of new items,
// not the feed size. Also returns the post dates of the collected items.
func (p *Paginator) FetchLatestPosts(ctx context.Context, baseURL string, since time.Time) ([]domain.PostItem, []time.Time, error) {
	var items []domain.PostItem
	var dates []time.Time

	offset := 0
	for {
		page, err := p.fetcher.ArchivePage(ctx, baseURL, offset, MaxPageSize)
		if err != nil {
			return nil, nil, err
		}
		if len(page) == 0 {
			break
		}

		stop := false
		for i := range page {
			if page[i].PostDate.IsZero() {
				continue
			}
			if !page[i].PostDate.After(since) {
				stop = true
				break
			}
			items = append(items, page[i])
			dates = append(dates, page[i].PostDate)
		}
		if stop || len(page) < MaxPageSize {
			break
		}
		offset += MaxPageSize
	}

	return items, dates, nil
}

// FetchOlderPosts collects items strictly older than the watermark. Unlike
// the latest-posts walk it cannot short-circuit: qualifying items sit past
// all newer pages, so it walks the whole feed, bounded by backfillItemCap.
func (p *Paginator) FetchOlderPosts(ctx context.Context, baseURL string, olderThan time.Time) ([]domain.PostItem, error) {
	var items []domain.PostItem

	offset := 0
	for len(items) < backfillItemCap {
		page, err := p.fetcher.ArchivePage(ctx, baseURL, offset, MaxPageSize)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		for i := range page {
			if len(items) >= backfillItemCap {
				break
			}
			if page[i].PostDate.IsZero() {
				continue
			}
			if page[i].PostDate.Before(olderThan) {
				items = append(items, page[i])
			}
		}

		if len(page) < MaxPageSize {
			break
		}
		offset += MaxPageSize
	}

	if len(items) > backfillItemCap {
		items = items[:backfillItemCap]
	}
	return items, nil
}
