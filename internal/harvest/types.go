package harvest

import (
	"fmt"
	"strings"
)

// MaxResultsPerQuery is the number of results the search service pages through
// for any single query, regardless of the reported total.
const MaxResultsPerQuery = 1000

// SearchPartition is a byte-size bracket appended to the base query.
type SearchPartition struct {
	Lower int64 `yaml:"lower"`
	Upper int64 `yaml:"upper"`
}

// Qualifier renders the partition as a search qualifier, e.g. "size:10..11".
func (p SearchPartition) Qualifier() string {
	return fmt.Sprintf("size:%d..%d", p.Lower, p.Upper)
}

// Query appends the partition qualifier to the base query.
func (p SearchPartition) Query(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return p.Qualifier()
	}
	return base + " " + p.Qualifier()
}

func (p SearchPartition) String() string {
	return p.Qualifier()
}

// PageCursor addresses one page of a partition. Page numbers are 1-indexed.
type PageCursor struct {
	Partition SearchPartition
	Page      int
}

// SearchResultItem is one stub returned by a search page.
type SearchResultItem struct {
	Identifier  string
	DisplayName string
	PathName    string
	ContentURL  string
	Query       string
}

// ResolvedArtifact is a search item paired with its fetched content.
// Artifacts with IsFile == false must be dropped.
type ResolvedArtifact struct {
	Item       SearchResultItem
	Content    []byte
	Extension  string
	IsFile     bool
	Identifier string
}

// Record is the durable row stored for every unique artifact.
type Record struct {
	ID          int64
	DisplayName string
	PathName    string
	Identifier  string
	ContentURL  string
	Content     []byte
	Extension   string
	Query       string
}

// RecordFromArtifact builds the persisted row for a resolved artifact.
func RecordFromArtifact(a ResolvedArtifact) Record {
	id := a.Identifier
	if id == "" {
		id = a.Item.Identifier
	}
	return Record{
		DisplayName: a.Item.DisplayName,
		PathName:    a.Item.PathName,
		Identifier:  id,
		ContentURL:  a.Item.ContentURL,
		Content:     a.Content,
		Extension:   a.Extension,
		Query:       a.Item.Query,
	}
}

// Quota reports the remaining request budget for each quota class.
type Quota struct {
	CoreRemaining   int
	SearchRemaining int
}

// Exhausted reports whether either quota class has run out.
func (q Quota) Exhausted() bool {
	return q.CoreRemaining <= 0 || q.SearchRemaining <= 0
}

// CrawlState is the durable checkpoint: the partition being crawled and the
// last page of it that was fully persisted (0 when none has been).
type CrawlState struct {
	Partition SearchPartition `yaml:"partition"`
	Page      int             `yaml:"page"`
}

// SearchPage is one page of search results.
type SearchPage struct {
	TotalCount int
	Items      []SearchResultItem
}

// ContentPayload is what the content call returns for one item.
type ContentPayload struct {
	Type       string
	Identifier string
	Encoding   string
	Content    string
}

// ExtensionOf returns the segment of name after its last '.'. A name without a
// dot is returned unchanged.
func ExtensionOf(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name
	}
	return name[idx+1:]
}

// PageCount returns how many pages of pageSize are fetched for a query
// reporting total results, clamped so that page*pageSize never exceeds
// maxResults.
func PageCount(total, pageSize, maxResults int) int {
	if total <= 0 || pageSize <= 0 || maxResults <= 0 {
		return 0
	}
	results := min(total, maxResults)
	pages := (results + pageSize - 1) / pageSize
	return min(pages, maxResults/pageSize)
}
