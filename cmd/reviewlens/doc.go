// Package main hosts the review scraping service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, job management and
//     synchronous scrape endpoints. Requests are validated against the target
//     allowlist, persisted via the JobStore, and enqueued for the worker pool.
//   - Orchestrator & queue: jobs flow through a bounded in-memory queue sized by
//     config.Scraper.QueueDepth and are drained by a fixed worker pool sized by
//     config.Scraper.Workers. Context cancellation stops workers cleanly on
//     shutdown; per-job cancellation interrupts work at page boundaries.
//   - Render pipeline: workers check browser sessions out of a bounded render
//     pool (Chromedp sessions recycled after a page budget), paginate per
//     platform, and hand rendered HTML to the goquery-based normalizers.
//     Search tuples are resolved through a lightweight Colly fetch of the
//     platform's search page before rendering.
//   - Admission control: a per-domain three-tier rate limiter (minute bucket,
//     burst window, hourly cap) gates outbound work; rate-limited jobs return
//     to pending and are requeued after the advised delay. robots.txt policy
//     is enforced per host when configured.
//   - Caching & fanout: extraction results live in a TTL cache (memory or
//     Redis) with single-flight coalescing of identical scrapes. Job records
//     persist to memory or Postgres; completion events publish to memory or
//     Google Cloud Pub/Sub.
//   - Configuration & plumbing: Viper populates config from env/files; zap
//     provides structured logging; Prometheus collectors back both the JSON
//     metrics document and the exposition endpoint.
//
// Run locally: go run ./cmd/reviewlens -config config.yaml (or rely solely on
// REVIEWLENS_* env overrides). The process reacts to SIGINT/SIGTERM with a
// graceful HTTP drain followed by worker shutdown.
package main
