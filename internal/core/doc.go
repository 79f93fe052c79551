// Package core provides the business logic for email list cleaning.
//
// It has no transport dependencies and is used by the web handlers, the
// command line tool and tests alike.
//
// # Pipeline
//
// A file moves through four stages:
//
//  1. [ParseFile] decodes CSV (or XLSX) into a [Dataset] of header-aligned rows.
//  2. The caller picks a [ColumnMapping]; [ColumnMapping.Validate] checks it.
//  3. [Runner.Run] classifies each mapped address with a [Validator], which
//     checks syntax locally and asks an [MXResolver] whether the domain
//     publishes MX records.
//  4. Results go to [ExportCSV] / [ExportXLSX] and, once per run, to a
//     [ListStore] as an [EmailListRecord].
//
// [Service] wraps the pipeline for the HTTP API with upload sessions,
// background runs bounded by a [RunLimiter], and progress fan-out through
// [Service.SubscribeProgress].
//
// # Progress
//
// Rows with an empty mapped email are skipped and do not count toward
// progress. Percentages are computed over the remaining rows, never go
// backwards, and reach 100 only after the last address is classified.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each category has a code prefix for support reference: FILE, MAP, RUN,
// LIST, DB, AUTH and RATE. Unknown errors map to ERR000.
package core
