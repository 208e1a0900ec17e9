// Package resolver turns search result stubs into artifacts with content.
package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
)

// FileType is the content type marker for regular files.
const FileType = "file"

// ErrNoIdentifier is returned for files whose identifier is neither reported
// nor computable.
var ErrNoIdentifier = errors.New("file has no content identifier")

// Hasher computes content identifiers.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Config tunes the resolver.
type Config struct {
	// MaxConcurrency bounds in-flight content fetches per batch; zero runs
	// one goroutine per item.
	MaxConcurrency int
	// Hasher, when set, fills missing identifiers and verifies reported ones.
	Hasher Hasher
	Logger *zap.Logger
}

// Resolver implements harvest.Resolver.
type Resolver struct {
	content harvest.ContentFetcher
	cfg     Config
	logger  *zap.Logger
}

// New creates a Resolver.
func New(content harvest.ContentFetcher, cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{content: content, cfg: cfg, logger: logger}
}

// ResolveOne fetches the content behind item. Non-file payloads yield an
// artifact with IsFile == false and no content; they are not errors.
func (r *Resolver) ResolveOne(ctx context.Context, item harvest.SearchResultItem) (harvest.ResolvedArtifact, error) {
	payload, err := r.content.Content(ctx, item.ContentURL)
	if err != nil {
		return harvest.ResolvedArtifact{}, fmt.Errorf("resolve %s: %w", item.PathName, err)
	}
	artifact := harvest.ResolvedArtifact{
		Item:      item,
		Extension: harvest.ExtensionOf(item.DisplayName),
	}
	if payload.Type != FileType {
		return artifact, nil
	}

	content, err := decodeContent(payload)
	if err != nil {
		return harvest.ResolvedArtifact{}, fmt.Errorf("resolve %s: %w", item.PathName, err)
	}
	artifact.Content = content
	artifact.IsFile = true
	artifact.Identifier = r.identify(item, payload, content)
	if artifact.Identifier == "" {
		return harvest.ResolvedArtifact{}, fmt.Errorf("resolve %s: %w", item.PathName, ErrNoIdentifier)
	}
	return artifact, nil
}

// ResolveMany resolves items concurrently. The result at index i always
// belongs to items[i].
func (r *Resolver) ResolveMany(ctx context.Context, items []harvest.SearchResultItem) []harvest.Resolution {
	if len(items) == 0 {
		return nil
	}
	workers := r.cfg.MaxConcurrency
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}
	mapper := iter.Mapper[harvest.SearchResultItem, harvest.Resolution]{MaxGoroutines: workers}
	return mapper.Map(items, func(item *harvest.SearchResultItem) harvest.Resolution {
		artifact, err := r.ResolveOne(ctx, *item)
		return harvest.Resolution{Artifact: artifact, Err: err}
	})
}

func (r *Resolver) identify(item harvest.SearchResultItem, payload harvest.ContentPayload, content []byte) string {
	id := item.Identifier
	if id == "" {
		id = payload.Identifier
	}
	// Only decoded base64 bodies are exact blob bytes worth verifying, but
	// any body beats an empty identifier.
	if r.cfg.Hasher == nil || (id != "" && payload.Encoding != "base64") {
		return id
	}
	computed, err := r.cfg.Hasher.Hash(content)
	if err != nil {
		r.logger.Warn("hash content failed", zap.String("path", item.PathName), zap.Error(err))
		return id
	}
	if id == "" {
		return computed
	}
	if computed != id {
		r.logger.Warn("content identifier mismatch",
			zap.String("path", item.PathName),
			zap.String("reported", id),
			zap.String("computed", computed),
		)
	}
	return id
}

func decodeContent(payload harvest.ContentPayload) ([]byte, error) {
	if payload.Encoding != "base64" {
		return []byte(payload.Content), nil
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload.Content)
	out, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("decode base64 content: %w", err)
	}
	return out, nil
}
