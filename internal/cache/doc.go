// Package cache defines the edge cache used for proxied third-party scripts.
// Entries are addressed by a Locator (namespace + full remote URL) and can be
// kept on disk (StoragePath/<namespace>/<sha256>.body, temp file + rename) or
// in a SQLite table through gorm. Both backends expose size and modtime so the
// proxy layer can decide freshness from the script's max-age without keeping
// any process-wide state of its own.
package cache
