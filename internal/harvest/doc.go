// Package harvest defines the data model and collaborator contracts shared by
// the code-search harvesting pipeline.
//
// A crawl walks an ordered sequence of SearchPartition values. Each partition
// narrows the base query (for example by byte size) so that no single query
// reports more results than the remote service will page through. Pages of a
// partition are fetched sequentially, their items resolved into artifacts,
// filtered for duplicates and persisted; the CrawlState checkpoint is advanced
// only after a page has been durably stored.
package harvest
