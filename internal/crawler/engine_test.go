package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/codesearch-harvester/internal/dedup"
	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
	"github.com/JakeFAU/codesearch-harvester/internal/storage/memory"
)

type searchCall struct {
	Query string
	Page  int
}

// fakeSearcher serves pages of synthetic items sized from per-query totals.
type fakeSearcher struct {
	mu       sync.Mutex
	pageSize int
	totals   map[string]int
	items    func(query string, page, n int) []harvest.SearchResultItem
	fail     map[searchCall]error
	calls    []searchCall
}

func newFakeSearcher(pageSize int, totals map[string]int) *fakeSearcher {
	return &fakeSearcher{pageSize: pageSize, totals: totals, fail: map[searchCall]error{}}
}

func (f *fakeSearcher) Search(_ context.Context, query string, page int) (harvest.SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := searchCall{Query: query, Page: page}
	f.calls = append(f.calls, call)
	if err := f.fail[call]; err != nil {
		return harvest.SearchPage{}, err
	}
	total := f.totals[query]
	reachable := min(total, harvest.MaxResultsPerQuery)
	n := max(0, min(f.pageSize, reachable-(page-1)*f.pageSize))
	var items []harvest.SearchResultItem
	if f.items != nil {
		items = f.items(query, page, n)
	} else {
		items = make([]harvest.SearchResultItem, 0, n)
		for i := range n {
			name := fmt.Sprintf("f%d_%d.go", page, i)
			items = append(items, harvest.SearchResultItem{
				Identifier:  fmt.Sprintf("%s|%d|%d", query, page, i),
				DisplayName: name,
				PathName:    "src/" + name,
				ContentURL:  "https://api.example.test/" + name,
				Query:       query,
			})
		}
	}
	return harvest.SearchPage{TotalCount: total, Items: items}, nil
}

func (f *fakeSearcher) Calls() []searchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]searchCall(nil), f.calls...)
}

// fakeResolver treats paths ending in "/" as directories and paths containing
// "broken" as failures.
type fakeResolver struct{}

func (fakeResolver) ResolveMany(_ context.Context, items []harvest.SearchResultItem) []harvest.Resolution {
	out := make([]harvest.Resolution, len(items))
	for i, item := range items {
		switch {
		case strings.Contains(item.PathName, "broken"):
			out[i] = harvest.Resolution{Err: errors.New("content unavailable")}
		case strings.HasSuffix(item.PathName, "/"):
			out[i] = harvest.Resolution{Artifact: harvest.ResolvedArtifact{Item: item}}
		default:
			out[i] = harvest.Resolution{Artifact: harvest.ResolvedArtifact{
				Item:       item,
				Content:    []byte(item.PathName),
				Extension:  harvest.ExtensionOf(item.DisplayName),
				IsFile:     true,
				Identifier: item.Identifier,
			}}
		}
	}
	return out
}

type harness struct {
	searcher   *fakeSearcher
	repo       *memory.ArtifactStore
	checkpoint *memory.CheckpointStore
	engine     *Engine
}

func newHarness(t *testing.T, totals map[string]int) *harness {
	t.Helper()
	h := &harness{
		searcher:   newFakeSearcher(100, totals),
		repo:       memory.NewArtifactStore(),
		checkpoint: memory.NewCheckpointStore(),
	}
	h.engine = h.build(t)
	return h
}

func (h *harness) build(t *testing.T) *Engine {
	t.Helper()
	return h.buildWithBounds(t, 10, 11)
}

func (h *harness) buildWithBounds(t *testing.T, start, end int64) *Engine {
	t.Helper()
	parts, err := harvest.NewSizePartitioner(start, end, 1)
	require.NoError(t, err)
	engine, err := NewEngine(h.searcher, fakeResolver{}, dedup.New(h.repo), h.checkpoint, parts, Config{
		BaseQuery: `"foo"`,
		PageSize:  100,
	})
	require.NoError(t, err)
	return engine
}

func TestRunPaginatesAndAdvancesPartition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, map[string]int{`"foo" size:10..11`: 250})

	sum, err := h.engine.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, []searchCall{
		{Query: `"foo" size:10..11`, Page: 1},
		{Query: `"foo" size:10..11`, Page: 2},
		{Query: `"foo" size:10..11`, Page: 3},
		{Query: `"foo" size:11..12`, Page: 1},
	}, h.searcher.Calls())
	assert.Equal(t, 250, sum.Stored)
	assert.Equal(t, 3, sum.Pages)

	n, err := h.repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(250), n)

	p10 := harvest.SearchPartition{Lower: 10, Upper: 11}
	p11 := harvest.SearchPartition{Lower: 11, Upper: 12}
	assert.Equal(t, []harvest.CrawlState{
		{Partition: p10, Page: 1},
		{Partition: p10, Page: 2},
		{Partition: p10, Page: 3},
		{Partition: p11, Page: 0},
	}, h.checkpoint.History())
}

// pauseClock fires every wait at once and counts the waits.
type pauseClock struct {
	clock.Clock
	waits atomic.Int32
}

func (c *pauseClock) After(time.Duration) <-chan time.Time {
	c.waits.Add(1)
	ch := make(chan time.Time, 1)
	ch <- time.Time{}
	return ch
}

func TestRunPausesBeforeEveryFollowUpSearch(t *testing.T) {
	t.Parallel()

	h := &harness{
		searcher:   newFakeSearcher(100, map[string]int{`"foo" size:10..11`: 250}),
		repo:       memory.NewArtifactStore(),
		checkpoint: memory.NewCheckpointStore(),
	}
	parts, err := harvest.NewSizePartitioner(10, 11, 1)
	require.NoError(t, err)
	clk := &pauseClock{Clock: clock.WallClock}
	engine, err := NewEngine(h.searcher, fakeResolver{}, dedup.New(h.repo), h.checkpoint, parts, Config{
		BaseQuery: `"foo"`,
		PageSize:  100,
		PagePause: time.Minute,
		Clock:     clk,
	})
	require.NoError(t, err)

	_, err = engine.Run(context.Background())
	require.NoError(t, err)

	// Four searches: three pages of size:10..11, then the size:11..12 probe.
	require.Len(t, h.searcher.Calls(), 4)
	assert.Equal(t, int32(3), clk.waits.Load())
}

func TestRunClampsOverCapPartitions(t *testing.T) {
	t.Parallel()

	h := &harness{
		searcher:   newFakeSearcher(100, map[string]int{`"foo" size:1..2`: 48213}),
		repo:       memory.NewArtifactStore(),
		checkpoint: memory.NewCheckpointStore(),
	}
	engine := h.buildWithBounds(t, 1, 1)

	sum, err := engine.Run(context.Background())
	require.NoError(t, err)

	calls := h.searcher.Calls()
	require.Len(t, calls, 10)
	assert.Equal(t, 10, calls[len(calls)-1].Page)
	assert.Equal(t, 1000, sum.Stored)
}

func TestRunKeepsFirstOfDuplicateIdentifiersInPage(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]int{`"foo" size:10..11`: 3})
	h.searcher.items = func(query string, _ int, _ int) []harvest.SearchResultItem {
		return []harvest.SearchResultItem{
			{Identifier: "same", DisplayName: "a.go", PathName: "one/a.go", Query: query},
			{Identifier: "same", DisplayName: "a.go", PathName: "two/a.go", Query: query},
			{Identifier: "other", DisplayName: "b.go", PathName: "one/b.go", Query: query},
		}
	}

	sum, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Stored)
	assert.Equal(t, 1, sum.Duplicates)

	records := h.repo.Records()
	require.Len(t, records, 2)
	assert.Equal(t, "one/a.go", records[0].PathName)
	assert.Equal(t, `"foo" size:10..11`, records[0].Query)
}

func TestRunDropsNonFilesAndFailedItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]int{`"foo" size:10..11`: 3})
	h.searcher.items = func(query string, _ int, _ int) []harvest.SearchResultItem {
		return []harvest.SearchResultItem{
			{Identifier: "shared", DisplayName: "pkg", PathName: "pkg/", Query: query},
			{Identifier: "bad", DisplayName: "broken.go", PathName: "broken.go", Query: query},
			{Identifier: "shared", DisplayName: "Makefile", PathName: "pkg/Makefile", Query: query},
		}
	}

	sum, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Stored)
	assert.Equal(t, 1, sum.NotFiles)
	assert.Equal(t, 1, sum.Failures)
	assert.Zero(t, sum.Duplicates)

	records := h.repo.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "Makefile", records[0].Extension)

	// The page still advanced: item failures never abort it.
	assert.Contains(t, h.checkpoint.History(),
		harvest.CrawlState{Partition: harvest.SearchPartition{Lower: 10, Upper: 11}, Page: 1})
}

func TestRunIsIdempotentAcrossRestarts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, map[string]int{`"foo" size:10..11`: 150})

	_, err := h.engine.Run(ctx)
	require.NoError(t, err)

	// Lose the checkpoint and crawl everything again.
	h.checkpoint = memory.NewCheckpointStore()
	again := h.build(t)
	sum, err := again.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, sum.Stored)
	assert.Equal(t, 150, sum.Duplicates)

	n, err := h.repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(150), n)
}

func TestRunPersistFailureLeavesCheckpointBehind(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]int{
		`"foo" size:10..11`: 250,
		`"foo" size:11..12`: 10,
	})
	h.repo.FailInserts = errors.New("database unavailable")

	sum, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.PageFailures)
	assert.Zero(t, sum.Stored)

	// Only the partition transition was written; no page of either partition.
	assert.Equal(t, []harvest.CrawlState{
		{Partition: harvest.SearchPartition{Lower: 11, Upper: 12}, Page: 0},
	}, h.checkpoint.History())

	calls := h.searcher.Calls()
	assert.Equal(t, searchCall{Query: `"foo" size:11..12`, Page: 1}, calls[len(calls)-1])
	assert.NotContains(t, calls, searchCall{Query: `"foo" size:10..11`, Page: 2})
}

func TestRunSearchFailureMovesToNextPartition(t *testing.T) {
	t.Parallel()

	h := newHarness(t, map[string]int{`"foo" size:10..11`: 250})
	h.searcher.fail[searchCall{Query: `"foo" size:10..11`, Page: 2}] = harvest.ErrRetriesExhausted

	sum, err := h.engine.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.PageFailures)
	assert.Equal(t, 100, sum.Stored)

	p10 := harvest.SearchPartition{Lower: 10, Upper: 11}
	p11 := harvest.SearchPartition{Lower: 11, Upper: 12}
	assert.Equal(t, []harvest.CrawlState{
		{Partition: p10, Page: 1},
		{Partition: p11, Page: 0},
	}, h.checkpoint.History())
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, map[string]int{`"foo" size:10..11`: 250})
	require.NoError(t, h.checkpoint.Save(ctx, harvest.CrawlState{
		Partition: harvest.SearchPartition{Lower: 10, Upper: 11},
		Page:      2,
	}))

	sum, err := h.engine.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, sum.Stored)
	assert.Equal(t, []searchCall{
		{Query: `"foo" size:10..11`, Page: 1},
		{Query: `"foo" size:10..11`, Page: 3},
		{Query: `"foo" size:11..12`, Page: 1},
	}, h.searcher.Calls())
}

func TestRunIgnoresCheckpointOutsideBounds(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	h := newHarness(t, nil)
	require.NoError(t, h.checkpoint.Save(ctx, harvest.CrawlState{
		Partition: harvest.SearchPartition{Lower: 500, Upper: 501},
		Page:      4,
	}))

	_, err := h.engine.Run(ctx)
	require.NoError(t, err)
	calls := h.searcher.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, searchCall{Query: `"foo" size:10..11`, Page: 1}, calls[0])
}

type brokenCheckpoint struct{}

func (brokenCheckpoint) Load(context.Context) (harvest.CrawlState, bool, error) {
	return harvest.CrawlState{}, false, errors.New("permission denied")
}

func (brokenCheckpoint) Save(context.Context, harvest.CrawlState) error { return nil }

func TestRunFailsWhenCheckpointUnreadable(t *testing.T) {
	t.Parallel()

	parts, err := harvest.NewSizePartitioner(1, 2, 1)
	require.NoError(t, err)
	engine, err := NewEngine(newFakeSearcher(100, nil), fakeResolver{}, dedup.New(memory.NewArtifactStore()),
		brokenCheckpoint{}, parts, Config{PageSize: 100})
	require.NoError(t, err)

	_, err = engine.Run(context.Background())
	require.Error(t, err)
}

func TestRunStopsOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h := newHarness(t, map[string]int{`"foo" size:10..11`: 250})

	_, err := h.engine.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.checkpoint.History())
}

func TestNewEngineValidates(t *testing.T) {
	t.Parallel()

	parts, err := harvest.NewSizePartitioner(1, 2, 1)
	require.NoError(t, err)
	store := dedup.New(memory.NewArtifactStore())
	cp := memory.NewCheckpointStore()

	_, err = NewEngine(nil, fakeResolver{}, store, cp, parts, Config{PageSize: 100})
	require.Error(t, err)

	_, err = NewEngine(newFakeSearcher(100, nil), fakeResolver{}, store, cp, parts, Config{})
	require.Error(t, err)

	_, err = NewEngine(newFakeSearcher(100, nil), fakeResolver{}, store, cp, parts, Config{PageSize: 100, MaxResults: 50})
	require.Error(t, err)

	_, err = NewEngine(newFakeSearcher(100, nil), fakeResolver{}, store, cp, parts, Config{PageSize: 100, MaxResults: 2000})
	require.ErrorContains(t, err, "exceeds the search cap")

	engine, err := NewEngine(newFakeSearcher(100, nil), fakeResolver{}, store, cp, parts, Config{PageSize: 100})
	require.NoError(t, err)
	assert.Equal(t, harvest.MaxResultsPerQuery, engine.cfg.MaxResults)
}
