// Package dedup decides which resolved artifacts of a page are new.
//
// Identifiers are unique across the whole crawl. The durable store answers
// for previous pages and runs; a page-scoped seen set suppresses repeats inside
// the page being processed, keeping the first occurrence in input order.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
)

// Outcome classifies one item of a page.
type Outcome int

const (
	// Kept items are new and will be persisted.
	Kept Outcome = iota
	// Duplicate items are already stored or appeared earlier in the page.
	Duplicate
	// NotFile items resolved to something other than a file.
	NotFile
	// Failed items could not be resolved.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Kept:
		return "crawled"
	case Duplicate:
		return "duplicated"
	case NotFile:
		return "not_a_file"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// ErrMissingIdentifier marks file resolutions that carry no identifier.
var ErrMissingIdentifier = errors.New("resolved file has no identifier")

// Decision is the verdict for one resolution.
type Decision struct {
	Artifact harvest.ResolvedArtifact
	Outcome  Outcome
	Err      error
}

// Store is the DedupStore over a persistence collaborator.
type Store struct {
	repo harvest.Repository
}

// New wraps repo.
func New(repo harvest.Repository) *Store {
	return &Store{repo: repo}
}

// Contains reports whether identifier is already persisted.
func (s *Store) Contains(ctx context.Context, identifier string) (bool, error) {
	ok, err := s.repo.ExistsByIdentifier(ctx, identifier)
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return ok, nil
}

// InsertIfAbsent stores record and reports whether it was new.
func (s *Store) InsertIfAbsent(ctx context.Context, record harvest.Record) (bool, error) {
	added, err := s.repo.InsertIgnoringConflict(ctx, record)
	if err != nil {
		return false, fmt.Errorf("dedup insert: %w", err)
	}
	return added, nil
}

// InsertPage stores records as one atomic batch.
func (s *Store) InsertPage(ctx context.Context, records []harvest.Record) (int, error) {
	added, err := s.repo.InsertBatch(ctx, records)
	if err != nil {
		return 0, fmt.Errorf("dedup batch insert: %w", err)
	}
	return added, nil
}

// Unseen returns the items whose identifiers are not yet persisted, plus the
// ones that are. Items without an identifier are always unseen; their
// identifier is only known after resolution.
func (s *Store) Unseen(ctx context.Context, items []harvest.SearchResultItem) (fresh, known []harvest.SearchResultItem, err error) {
	fresh = make([]harvest.SearchResultItem, 0, len(items))
	for _, item := range items {
		if item.Identifier == "" {
			fresh = append(fresh, item)
			continue
		}
		ok, err := s.Contains(ctx, item.Identifier)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			known = append(known, item)
			continue
		}
		fresh = append(fresh, item)
	}
	return fresh, known, nil
}

// FilterPage decides every resolution of one page. Non-file and failed
// resolutions never enter the seen set. An error means the durable store could
// not be consulted and the page must not be persisted.
func (s *Store) FilterPage(ctx context.Context, resolutions []harvest.Resolution) ([]Decision, error) {
	seen := NewSeenSet(len(resolutions))
	decisions := make([]Decision, 0, len(resolutions))
	for _, res := range resolutions {
		d := Decision{Artifact: res.Artifact}
		switch {
		case res.Err != nil:
			d.Outcome, d.Err = Failed, res.Err
		case !res.Artifact.IsFile:
			d.Outcome = NotFile
		default:
			id := harvest.RecordFromArtifact(res.Artifact).Identifier
			if id == "" {
				d.Outcome, d.Err = Failed, ErrMissingIdentifier
				break
			}
			if !seen.Admit(id) {
				d.Outcome = Duplicate
				break
			}
			stored, err := s.Contains(ctx, id)
			if err != nil {
				return nil, err
			}
			if stored {
				d.Outcome = Duplicate
			} else {
				d.Outcome = Kept
			}
		}
		decisions = append(decisions, d)
	}
	return decisions, nil
}

// Records returns the rows to persist for the kept decisions, in order.
func Records(decisions []Decision) []harvest.Record {
	var out []harvest.Record
	for _, d := range decisions {
		if d.Outcome == Kept {
			out = append(out, harvest.RecordFromArtifact(d.Artifact))
		}
	}
	return out
}

// SeenSet is a first-wins identifier set scoped to one page.
type SeenSet struct {
	ids map[string]struct{}
}

// NewSeenSet creates an empty set sized for n identifiers.
func NewSeenSet(n int) *SeenSet {
	return &SeenSet{ids: make(map[string]struct{}, n)}
}

// Admit records id and reports whether it is the first occurrence.
func (s *SeenSet) Admit(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}
