package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/icongen/historydb/pkg/stores"
)

// DefaultDebounce is how long a file must stay quiet before Watch imports it.
const DefaultDebounce = 500 * time.Millisecond

// Store is the part of the history store the importer writes to.
type Store interface {
	Save(ctx context.Context, item stores.HistoryItem) error
	Trim(ctx context.Context, maxCount int) (int, error)
}

// Result describes one imported file.
type Result struct {
	File    string `json:"file"`
	Saved   int    `json:"saved"`
	Skipped int    `json:"skipped"`
	Trimmed int    `json:"trimmed"`
}

// Importer loads item files into a Store.
type Importer struct {
	store    Store
	logger   zerolog.Logger
	maxItems int
	debounce time.Duration
}

// NewImporter creates an importer. A maxItems of zero disables trimming.
func NewImporter(store Store, logger zerolog.Logger, maxItems int) *Importer {
	return &Importer{
		store:    store,
		logger:   logger.With().Str("component", "ingest").Logger(),
		maxItems: maxItems,
		debounce: DefaultDebounce,
	}
}

// SetDebounce changes the quiet period used by Watch.
func (im *Importer) SetDebounce(d time.Duration) {
	im.debounce = d
}

// ImportFile saves every item in a file. Items the store rejects as invalid
// are skipped and counted; any other store error aborts the file.
func (im *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	items, err := decodeItems(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	result := &Result{File: path}
	for _, item := range items {
		if err := im.store.Save(ctx, item); err != nil {
			if errors.Is(err, stores.ErrInvalidItem) {
				im.logger.Warn().Err(err).Str("file", path).Str("item_id", item.ID).Msg("Skipping invalid item")
				result.Skipped++
				continue
			}
			return result, fmt.Errorf("failed to save item %q from %s: %w", item.ID, path, err)
		}
		result.Saved++
	}

	if im.maxItems > 0 && result.Saved > 0 {
		removed, err := im.store.Trim(ctx, im.maxItems)
		if err != nil {
			return result, fmt.Errorf("failed to trim history: %w", err)
		}
		result.Trimmed = removed
	}

	im.logger.Info().
		Str("file", path).
		Int("saved", result.Saved).
		Int("skipped", result.Skipped).
		Int("trimmed", result.Trimmed).
		Msg("History file imported")

	return result, nil
}

// ImportDir imports every .json file directly inside dir in name order.
// Files that fail to import are logged and skipped.
func (im *Importer) ImportDir(ctx context.Context, dir string) ([]Result, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !isItemFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	results := make([]Result, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		result, err := im.ImportFile(ctx, filepath.Join(dir, name))
		if err != nil {
			im.logger.Warn().Err(err).Str("file", name).Msg("Failed to import history file")
			continue
		}
		results = append(results, *result)
	}

	return results, nil
}

// Watch imports .json files as they are written into dir until ctx is done.
// Each file is imported once it has been quiet for the debounce period.
// onImport, if set, is called after every successful import.
func (im *Importer) Watch(ctx context.Context, dir string, onImport func(Result)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	im.logger.Info().Str("dir", dir).Msg("Watching for history files")

	ready := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, timer := range timers {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || !isItemFile(event.Name) {
				continue
			}

			im.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("History file changed")

			if timer, ok := timers[event.Name]; ok {
				timer.Stop()
			}
			name := event.Name
			timers[name] = time.AfterFunc(im.debounce, func() {
				select {
				case ready <- name:
				case <-ctx.Done():
				}
			})

		case name := <-ready:
			delete(timers, name)
			result, err := im.ImportFile(ctx, name)
			if err != nil {
				im.logger.Error().Err(err).Str("file", name).Msg("Failed to import history file")
				continue
			}
			if onImport != nil {
				onImport(*result)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			im.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func isItemFile(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(filepath.Base(name), ".")
}

// decodeItems accepts a single item object or an array of items.
func decodeItems(data []byte) ([]stores.HistoryItem, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	if data[0] == '[' {
		var items []stores.HistoryItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, err
		}
		return items, nil
	}

	var item stores.HistoryItem
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, err
	}
	return []stores.HistoryItem{item}, nil
}
