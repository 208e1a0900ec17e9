// Package main hosts the harvester entrypoint.
//
// Architecture overview:
//   - Configuration: internal/config loads a YAML file (the only flag, --config) and HARVEST_* environment
//     overrides through Viper. Missing credentials, a missing query or an unreadable checkpoint abort startup.
//   - Crawl loop: internal/crawler.Engine walks size partitions of the base query one page at a time. Every page
//     is resolved concurrently, deduplicated by content sha, stored as one batch and only then checkpointed.
//   - GitHub access: internal/github issues authenticated GETs through a Colly collector and classifies each
//     response once (ok, rate limited, malformed, transport error). internal/fetch retries rejected attempts and
//     internal/ratelimit polls /rate_limit before every attempt, cooling down while either quota class is empty.
//   - Persistence: SQLite (default), Postgres or memory behind harvest.Repository; the checkpoint is a YAML file
//     replaced atomically.
//   - Observability: zap logs carry the run id; Prometheus metrics are served on metrics.listen_addr when set.
//
// Operational notes:
//   - SIGINT/SIGTERM stop the crawl between waits. Restarting resumes after the last checkpointed page; inserts
//     ignore known shas so replayed pages never duplicate rows.
//   - Run locally: go run ./cmd/harvester --config harvest.yaml (or rely solely on env overrides).
package main
