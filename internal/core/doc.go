// Package core provides the business logic for timing report imports and
// lap-time analysis.
//
// This package contains all domain logic independent of the HTTP layer. It
// can be used by web handlers, tools, or tests without modification; tests
// run it against store.NewMemory.
//
// # Architecture
//
//   - Service: entry point for imports. Synchronous checks ([Service.CheckResults],
//     [Service.CheckTimecard]) and background jobs ([Service.SubmitImport]).
//   - JobTracker: the import job lifecycle, pending -> started -> completed
//     or failed. Every transition is guarded by a per-job lock and a
//     conditional store update.
//   - WorkerPool: bounded background execution. A full queue fails the job
//     as retryable instead of blocking the request.
//   - Resolver: generic cached find-or-create for teams, classes, car models,
//     drivers, circuits and car entries.
//   - CheckLimiter: caps concurrent synchronous checks, which run outside
//     the pool.
//   - Analyzer: percentile lap-time queries over stored laps.
//
// # Import Flow
//
//  1. Client calls [Service.SubmitImport]; a pending job is stored and queued
//  2. A worker marks it started, fetches and parses the report
//  3. Records are reconciled against the store in one transaction
//  4. The job is completed with an [timing.ImportSummary], or failed with a
//     reason and a retryable flag
//
// Results reports create the event, session and entry data. Timecards only
// add laps for drivers that already hold a result in the session; other rows
// are reported as row errors wrapping timing.ErrReferentialPrecondition.
//
// # Error Handling
//
// Errors wrap the kinds in package timing and are classified with errors.Is.
// [MapError] turns any error into a [UserMessage] with a support code:
//
//   - IMP001-IMP005: import request errors (validation, queue, rate limits)
//   - RPT001-RPT004: report errors (unreachable, HTML, missing columns)
//   - JOB001-JOB002: job errors
//   - ANL001-ANL003: analysis errors
//   - DB001-DB004: storage errors
package core
