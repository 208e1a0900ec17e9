package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
	"github.com/JakeFAU/codesearch-harvester/internal/hash/gitblob"
)

type stubContent struct {
	mu       sync.Mutex
	payloads map[string]harvest.ContentPayload
	errs     map[string]error
	delay    func(url string) time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *stubContent) Content(_ context.Context, url string) (harvest.ContentPayload, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		old := s.peak.Load()
		if cur <= old || s.peak.CompareAndSwap(old, cur) {
			break
		}
	}
	if s.delay != nil {
		time.Sleep(s.delay(url))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[url]; ok {
		return harvest.ContentPayload{}, err
	}
	return s.payloads[url], nil
}

func fileOf(sha, text string) harvest.ContentPayload {
	return harvest.ContentPayload{Type: "file", Identifier: sha, Encoding: "none", Content: text}
}

func TestResolveOneFile(t *testing.T) {
	t.Parallel()

	content := &stubContent{payloads: map[string]harvest.ContentPayload{
		"u1": {Type: "file", Identifier: "ce013625030ba8dba906f756967f9e9ca394464a", Encoding: "base64", Content: "aGVs\nbG8K\n"},
	}}
	r := New(content, Config{Hasher: gitblob.New()})

	art, err := r.ResolveOne(context.Background(), harvest.SearchResultItem{
		Identifier: "ce013625030ba8dba906f756967f9e9ca394464a", DisplayName: "data.tar.gz", ContentURL: "u1",
	})
	require.NoError(t, err)
	assert.True(t, art.IsFile)
	assert.Equal(t, "hello\n", string(art.Content))
	assert.Equal(t, "gz", art.Extension)
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", art.Identifier)
}

func TestResolveOneFillsMissingIdentifier(t *testing.T) {
	t.Parallel()

	content := &stubContent{payloads: map[string]harvest.ContentPayload{
		"u1": {Type: "file", Encoding: "base64", Content: "aGVsbG8K"},
	}}
	r := New(content, Config{Hasher: gitblob.New()})
	art, err := r.ResolveOne(context.Background(), harvest.SearchResultItem{DisplayName: "Makefile", ContentURL: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", art.Identifier)
	assert.Equal(t, "Makefile", art.Extension)
}

func TestResolveOneHashesUnencodedContentWithoutIdentifier(t *testing.T) {
	t.Parallel()

	content := &stubContent{payloads: map[string]harvest.ContentPayload{
		"u1": {Type: "file", Encoding: "none", Content: "hello\n"},
		"u2": {Type: "file", Encoding: "none", Content: "bye\n"},
	}}
	r := New(content, Config{Hasher: gitblob.New()})
	first, err := r.ResolveOne(context.Background(), harvest.SearchResultItem{PathName: "a", ContentURL: "u1"})
	require.NoError(t, err)
	second, err := r.ResolveOne(context.Background(), harvest.SearchResultItem{PathName: "b", ContentURL: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", first.Identifier)
	assert.NotEmpty(t, second.Identifier)
	assert.NotEqual(t, first.Identifier, second.Identifier)
}

func TestResolveOneRejectsFileWithoutIdentifier(t *testing.T) {
	t.Parallel()

	content := &stubContent{payloads: map[string]harvest.ContentPayload{
		"u1": {Type: "file", Encoding: "none", Content: "hello\n"},
	}}
	_, err := New(content, Config{}).ResolveOne(context.Background(), harvest.SearchResultItem{PathName: "a", ContentURL: "u1"})
	require.ErrorIs(t, err, ErrNoIdentifier)
}

func TestResolveOneNonFileIsDropped(t *testing.T) {
	t.Parallel()

	content := &stubContent{payloads: map[string]harvest.ContentPayload{"d": {Type: "dir"}}}
	art, err := New(content, Config{}).ResolveOne(context.Background(), harvest.SearchResultItem{ContentURL: "d"})
	require.NoError(t, err)
	assert.False(t, art.IsFile)
	assert.Empty(t, art.Content)
}

func TestResolveOneErrors(t *testing.T) {
	t.Parallel()

	content := &stubContent{
		payloads: map[string]harvest.ContentPayload{"bad": {Type: "file", Encoding: "base64", Content: "!!!"}},
		errs:     map[string]error{"down": errors.New("unreachable")},
	}
	r := New(content, Config{})
	_, err := r.ResolveOne(context.Background(), harvest.SearchResultItem{ContentURL: "down", PathName: "p"})
	require.ErrorContains(t, err, "unreachable")
	_, err = r.ResolveOne(context.Background(), harvest.SearchResultItem{ContentURL: "bad"})
	require.ErrorContains(t, err, "decode base64")
}

func TestResolveManyPreservesOrder(t *testing.T) {
	t.Parallel()

	content := &stubContent{
		payloads: map[string]harvest.ContentPayload{},
		errs:     map[string]error{"u3": errors.New("boom")},
		// Earlier items finish last.
		delay: func(url string) time.Duration {
			var n int
			_, _ = fmt.Sscanf(url, "u%d", &n)
			return time.Duration(10-n) * 3 * time.Millisecond
		},
	}
	items := make([]harvest.SearchResultItem, 0, 8)
	for i := range 8 {
		url := fmt.Sprintf("u%d", i)
		content.payloads[url] = fileOf(fmt.Sprintf("sha%d", i), url)
		items = append(items, harvest.SearchResultItem{Identifier: fmt.Sprintf("sha%d", i), ContentURL: url})
	}

	results := New(content, Config{}).ResolveMany(context.Background(), items)
	require.Len(t, results, len(items))
	for i, res := range results {
		if i == 3 {
			require.Error(t, res.Err)
			continue
		}
		require.NoError(t, res.Err)
		assert.Equal(t, items[i].Identifier, res.Artifact.Identifier)
		assert.Equal(t, items[i].ContentURL, string(res.Artifact.Content))
	}
	assert.Greater(t, content.peak.Load(), int32(1), "items should resolve concurrently")
}

func TestResolveManyBoundsConcurrency(t *testing.T) {
	t.Parallel()

	content := &stubContent{
		payloads: map[string]harvest.ContentPayload{},
		delay:    func(string) time.Duration { return 5 * time.Millisecond },
	}
	items := make([]harvest.SearchResultItem, 0, 10)
	for i := range 10 {
		url := fmt.Sprintf("u%d", i)
		content.payloads[url] = fileOf("x", "y")
		items = append(items, harvest.SearchResultItem{ContentURL: url})
	}
	results := New(content, Config{MaxConcurrency: 2}).ResolveMany(context.Background(), items)
	require.Len(t, results, 10)
	assert.LessOrEqual(t, content.peak.Load(), int32(2))
	assert.Nil(t, New(content, Config{}).ResolveMany(context.Background(), nil))
}
