package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// NoChangesDiagnostic is reported when a watch poll finds the directory
// unchanged since the previous pass.
const NoChangesDiagnostic = "ingestion_watch_poll_no_changes"

// Fingerprint summarizes the regular files in dir as name=size:mtime_ms
// entries in name order. A missing directory has an empty fingerprint.
func Fingerprint(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d:%d", e.Name(), info.Size(), info.ModTime().UnixMilli()))
	}
	return strings.Join(parts, "\n"), nil
}

// Watch ingests dir now and again whenever it changes, until ctx is done.
// File events are debounced; a poll every WatchInterval covers filesystems
// without event support. A trigger that finds the directory fingerprint
// unchanged skips the scan and reports NoChangesDiagnostic. onPass, if set,
// receives every summary.
func (i *Ingester) Watch(ctx context.Context, dir string, onPass func(Summary)) error {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		i.logger.Warn().Err(err).Str("dir", dir).Msg("file events unavailable, polling only")
	}

	interval := i.cfg.WatchInterval
	if interval <= 0 {
		interval = DefaultConfig().WatchInterval
	}
	debounce := i.cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultConfig().Debounce
	}

	last := "\x00"
	pass := func() error {
		fp, err := Fingerprint(dir)
		if err != nil {
			i.logger.Warn().Err(err).Str("dir", dir).Msg("fingerprint failed")
		}
		if err == nil && fp == last {
			i.logger.Debug().Str("dir", dir).Msg("watch poll found no changes")
			if onPass != nil {
				onPass(Summary{Diagnostics: []string{NoChangesDiagnostic}})
			}
			return nil
		}

		sum, err := i.IngestDir(ctx, dir)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if last, err = Fingerprint(dir); err != nil {
			last = "\x00"
		}
		if onPass != nil {
			onPass(sum)
		}
		return nil
	}

	if err := pass(); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var debounceTimer *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.NewTimer(debounce)
			debounceC = debounceTimer.C
		case <-debounceC:
			debounceC = nil
			if err := pass(); err != nil {
				return err
			}
		case <-ticker.C:
			if err := pass(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			i.logger.Warn().Err(err).Str("dir", dir).Msg("watcher error")
		}
	}
}
