// Package ingest imports history items from JSON files into a history store.
//
// A file holds either a single item object or an array of items, in the same
// flat shape HistoryItem marshals to. After each file the store is trimmed to
// the configured retention. Watch keeps a directory imported as files are
// dropped into it.
package ingest
