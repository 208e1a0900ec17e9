// Package crawler drives the partitioned search crawl.
//
// The Engine walks a sequence of size partitions. For every partition it
// probes the search total, pages through the clamped result window, resolves
// each page's items concurrently, drops duplicates and persists the survivors
// as one batch before advancing the durable checkpoint. Pages and partitions
// are strictly sequential so the checkpoint always names the last page whose
// artifacts are stored.
package crawler
