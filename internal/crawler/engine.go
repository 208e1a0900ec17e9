package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/JakeFAU/codesearch-harvester/internal/clock/system"
	"github.com/JakeFAU/codesearch-harvester/internal/dedup"
	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
	"github.com/JakeFAU/codesearch-harvester/internal/metrics"
)

// Config holds the engine's tunables.
type Config struct {
	// BaseQuery is combined with every partition qualifier.
	BaseQuery string
	// PageSize is the number of items requested per page.
	PageSize int
	// MaxResults is the search window reachable through pagination.
	MaxResults int
	// PagePause is the courtesy delay before every search request except the
	// first of a run, including the probe of each following partition.
	PagePause time.Duration
	Clock     clock.Clock
	Logger    *zap.Logger
}

// Summary counts what a run did.
type Summary struct {
	Partitions   int
	Pages        int
	Stored       int
	Duplicates   int
	NotFiles     int
	Failures     int
	PageFailures int
}

// Engine is the partitioned crawler.
type Engine struct {
	searcher   harvest.Searcher
	resolver   harvest.Resolver
	store      *dedup.Store
	checkpoint harvest.CheckpointStore
	partitions harvest.Partitioner
	cfg        Config
	clock      clock.Clock
	logger     *zap.Logger
	searched   bool
}

// NewEngine wires the collaborators into an Engine.
func NewEngine(
	searcher harvest.Searcher,
	resolver harvest.Resolver,
	store *dedup.Store,
	checkpoint harvest.CheckpointStore,
	partitions harvest.Partitioner,
	cfg Config,
) (*Engine, error) {
	if searcher == nil || resolver == nil || store == nil || checkpoint == nil || partitions == nil {
		return nil, errors.New("crawler: all collaborators are required")
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("crawler: page size must be > 0, got %d", cfg.PageSize)
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = harvest.MaxResultsPerQuery
	}
	if cfg.MaxResults < cfg.PageSize {
		return nil, fmt.Errorf("crawler: max results %d is below page size %d", cfg.MaxResults, cfg.PageSize)
	}
	if cfg.MaxResults > harvest.MaxResultsPerQuery {
		return nil, fmt.Errorf("crawler: max results %d exceeds the search cap of %d", cfg.MaxResults, harvest.MaxResultsPerQuery)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		searcher:   searcher,
		resolver:   resolver,
		store:      store,
		checkpoint: checkpoint,
		partitions: partitions,
		cfg:        cfg,
		clock:      system.Or(cfg.Clock),
		logger:     logger,
	}, nil
}

// Run crawls from the saved checkpoint until the partition sequence ends. It
// only returns an error when the checkpoint cannot be loaded or ctx is done.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	e.searched = false
	state, err := e.resume(ctx)
	if err != nil {
		return sum, err
	}
	e.logger.Info("starting crawl",
		zap.String("query", e.cfg.BaseQuery),
		zap.Stringer("partition", state.Partition),
		zap.Int("page", state.Page),
	)

	partition, resumePage := state.Partition, state.Page
	for {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Partitions++
		if err := e.crawlPartition(ctx, partition, resumePage, &sum); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sum, ctxErr
			}
			sum.PageFailures++
			metrics.ObservePartition("failed")
			e.logger.Error("partition aborted; moving on",
				zap.Stringer("partition", partition),
				zap.Error(err),
			)
		} else {
			metrics.ObservePartition("exhausted")
		}

		next, ok := e.partitions.Next(partition)
		if !ok {
			e.logger.Info("crawl complete",
				zap.Stringer("last_partition", partition),
				zap.Int("stored", sum.Stored),
				zap.Int("duplicates", sum.Duplicates),
			)
			return sum, nil
		}
		if err := e.advance(ctx, harvest.CrawlState{Partition: next}); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return sum, ctxErr
			}
			e.logger.Error("checkpoint transition failed", zap.Stringer("partition", next), zap.Error(err))
		}
		partition, resumePage = next, 0
	}
}

func (e *Engine) resume(ctx context.Context) (harvest.CrawlState, error) {
	state, ok, err := e.checkpoint.Load(ctx)
	if err != nil {
		return harvest.CrawlState{}, fmt.Errorf("load checkpoint: %w", err)
	}
	fresh := harvest.CrawlState{Partition: e.partitions.First()}
	if !ok {
		return fresh, nil
	}
	if !e.partitions.Contains(state.Partition) || state.Page < 0 {
		e.logger.Warn("checkpoint outside configured partitions; starting over",
			zap.Stringer("partition", state.Partition),
			zap.Int("page", state.Page),
		)
		return fresh, nil
	}
	return state, nil
}

// crawlPartition processes pages resumePage+1 through the clamped page count.
func (e *Engine) crawlPartition(ctx context.Context, partition harvest.SearchPartition, resumePage int, sum *Summary) error {
	query := partition.Query(e.cfg.BaseQuery)
	probe, err := e.search(ctx, query, 1)
	if err != nil {
		return fmt.Errorf("search %q: %w", query, err)
	}
	pages := harvest.PageCount(probe.TotalCount, e.cfg.PageSize, e.cfg.MaxResults)
	logger := e.logger.With(zap.Stringer("partition", partition))
	if pages == 0 {
		logger.Info("no results for partition", zap.Int("total_count", probe.TotalCount))
		return nil
	}
	logger.Info("partition searched",
		zap.Int("total_count", probe.TotalCount),
		zap.Int("pages", pages),
		zap.Int("resume_after", resumePage),
	)

	for page := resumePage + 1; page <= pages; page++ {
		result := probe
		if page > 1 {
			result, err = e.search(ctx, query, page)
			if err != nil {
				metrics.ObservePage("failed")
				return fmt.Errorf("search %q page %d: %w", query, page, err)
			}
		}
		if err := e.processPage(ctx, harvest.PageCursor{Partition: partition, Page: page}, result.Items, sum); err != nil {
			metrics.ObservePage("failed")
			return fmt.Errorf("page %d: %w", page, err)
		}
		metrics.ObservePage("done")
		sum.Pages++
	}
	logger.Info("partition exhausted", zap.Int("pages", pages))
	return nil
}

// search issues one search request, pausing first unless it is the run's
// first request.
func (e *Engine) search(ctx context.Context, query string, page int) (harvest.SearchPage, error) {
	if e.searched {
		if err := system.Sleep(ctx, e.clock, e.cfg.PagePause); err != nil {
			return harvest.SearchPage{}, err
		}
	}
	e.searched = true
	return e.searcher.Search(ctx, query, page)
}

func (e *Engine) processPage(ctx context.Context, cursor harvest.PageCursor, items []harvest.SearchResultItem, sum *Summary) error {
	logger := e.logger.With(zap.Stringer("partition", cursor.Partition), zap.Int("page", cursor.Page))

	fresh, known, err := e.store.Unseen(ctx, items)
	if err != nil {
		return err
	}
	for _, item := range known {
		logger.Debug("duplicated", zap.String("name", item.PathName), zap.String("sha", item.Identifier))
	}

	resolutions := e.resolver.ResolveMany(ctx, fresh)
	if err := ctx.Err(); err != nil {
		return err
	}
	decisions, err := e.store.FilterPage(ctx, resolutions)
	if err != nil {
		return err
	}

	counts := map[dedup.Outcome]int{dedup.Duplicate: len(known)}
	for i, d := range decisions {
		counts[d.Outcome]++
		name := fresh[i].PathName
		switch d.Outcome {
		case dedup.Failed:
			logger.Warn("item skipped", zap.String("name", name), zap.Error(d.Err))
		case dedup.NotFile:
			logger.Debug("not a file", zap.String("name", name))
		case dedup.Duplicate:
			logger.Debug("duplicated", zap.String("name", name))
		case dedup.Kept:
			logger.Debug("crawled", zap.String("name", name))
		}
	}

	records := dedup.Records(decisions)
	stored, err := e.store.InsertPage(ctx, records)
	if err != nil {
		return err
	}
	if err := e.advance(ctx, harvest.CrawlState{Partition: cursor.Partition, Page: cursor.Page}); err != nil {
		return err
	}

	// Rows lost to a concurrent writer between lookup and insert count as duplicates.
	counts[dedup.Duplicate] += len(records) - stored
	counts[dedup.Kept] = stored
	for outcome, n := range counts {
		metrics.ObserveArtifacts(outcome.String(), n)
	}
	sum.Stored += stored
	sum.Duplicates += counts[dedup.Duplicate]
	sum.NotFiles += counts[dedup.NotFile]
	sum.Failures += counts[dedup.Failed]

	logger.Info("page done",
		zap.Int("items", len(items)),
		zap.Int("stored", stored),
		zap.Int("duplicates", counts[dedup.Duplicate]),
		zap.Int("not_files", counts[dedup.NotFile]),
		zap.Int("errors", counts[dedup.Failed]),
	)
	return nil
}

func (e *Engine) advance(ctx context.Context, state harvest.CrawlState) error {
	if err := e.checkpoint.Save(ctx, state); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	metrics.ObserveCheckpoint(state.Partition.Lower, state.Page)
	return nil
}
