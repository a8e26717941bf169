// Copyright (C) 2026 Seqlab (dev@seqlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mirror

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-exports a mirror file whenever something outside the service
// modifies or deletes it, and reconciles the whole directory on a timer
// as a backstop for missed filesystem events.
type Watcher struct {
	exporter *Exporter

	// debounce collapses the burst of events an editor save produces
	// into one export.
	debounce time.Duration
	interval time.Duration
}

func NewWatcher(exporter *Exporter, reconcileInterval time.Duration) *Watcher {
	if reconcileInterval <= 0 {
		reconcileInterval = 10 * time.Minute
	}
	return &Watcher{
		exporter: exporter,
		debounce: 500 * time.Millisecond,
		interval: reconcileInterval,
	}
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()
	if err := fsw.Add(w.exporter.dir); err != nil {
		return err
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	pending := make(map[string]bool)
	var flush <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			assembly, relevant := w.assemblyFor(ev)
			if !relevant {
				continue
			}
			pending[assembly] = true
			flush = time.After(w.debounce)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.exporter.log.Warn("mirror watch error", "error", err)

		case <-flush:
			for assembly := range pending {
				w.restore(ctx, assembly)
			}
			pending = make(map[string]bool)
			flush = nil

		case <-ticker.C:
			if err := w.exporter.ExportAll(ctx); err != nil {
				w.exporter.log.Warn("mirror reconcile failed", "error", err)
			}
		}
	}
}

// assemblyFor maps a filesystem event back to the assembly whose mirror
// was touched. Temp files from our own atomic writes are ignored.
func (w *Watcher) assemblyFor(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return "", false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".mirror-") || !strings.HasSuffix(base, ".gff3") {
		return "", false
	}
	return strings.TrimSuffix(base, ".gff3"), true
}

// restore overwrites an externally modified mirror with authoritative
// store state. The store always wins; the mirror is not an input channel.
func (w *Watcher) restore(ctx context.Context, assembly string) {
	w.exporter.log.Info("mirror file changed externally, restoring", "assembly", assembly)
	if err := w.exporter.ExportAssembly(ctx, assembly); err != nil {
		w.exporter.log.Warn("mirror restore failed", "assembly", assembly, "error", err)
	}
}
