// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch reports document changes under a set of files and
// directories so the index can follow a notes folder as it is edited.
//
// Editors often save in several steps (truncate, write, rename), so
// events are collected for a debounce window and delivered as one batch
// with a single Change per path.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op is the action a Change asks for.
type Op int

const (
	// OpUpsert means the file was created or written and should be
	// (re)ingested.
	OpUpsert Op = iota
	// OpRemove means the file is gone and its document should be deleted.
	OpRemove
)

// String returns a human-readable op name.
func (o Op) String() string {
	switch o {
	case OpUpsert:
		return "upsert"
	case OpRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Change is one debounced file change.
type Change struct {
	Path string
	Op   Op
}

// Handler receives each debounced batch, sorted by path.
type Handler func(ctx context.Context, changes []Change)

// Options configures a Watcher.
type Options struct {
	// Debounce is how long to wait after the last event before flushing.
	// Default: 500ms
	Debounce time.Duration

	// Extensions lists the lowercase file extensions watched inside
	// directories. Files passed to New directly are always watched.
	Extensions map[string]bool
}

// DefaultOptions watches Markdown and plain text.
func DefaultOptions() Options {
	return Options{
		Debounce: 500 * time.Millisecond,
		Extensions: map[string]bool{
			".md":       true,
			".markdown": true,
			".txt":      true,
		},
	}
}

// Watcher turns fsnotify events into debounced Change batches.
type Watcher struct {
	watcher *fsnotify.Watcher
	handler Handler
	opts    Options

	dirs  []string
	files map[string]bool
}

// New creates a Watcher over roots, which may be files or directories.
// Directories are watched recursively; hidden directories are skipped.
func New(roots []string, handler Handler, opts *Options) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultOptions().Debounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	w := &Watcher{
		watcher: fw,
		handler: handler,
		opts:    *opts,
		files:   make(map[string]bool),
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			fw.Close()
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			fw.Close()
			return nil, err
		}
		if info.IsDir() {
			w.dirs = append(w.dirs, abs)
			err = w.addRecursive(abs)
		} else {
			// Watching the parent survives editors that replace the file.
			w.files[abs] = true
			err = fw.Add(filepath.Dir(abs))
		}
		if err != nil {
			fw.Close()
			return nil, fmt.Errorf("watch %s: %w", root, err)
		}
	}
	return w, nil
}

// Run delivers batches until ctx is cancelled, then releases the
// underlying watcher. A batch pending at cancellation is dropped.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	pending := make(map[string]Op)
	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if op, ok := w.classify(event); ok {
				pending[event.Name] = op
				if armed && !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.opts.Debounce)
				armed = true
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("File watcher error", "error", err)

		case <-timer.C:
			armed = false
			w.handler(ctx, flush(pending))
			pending = make(map[string]Op)
		}
	}
}

// classify maps an event onto a Change op, or reports false for events
// that do not concern a watched document. New directories under a
// watched root are added to the watch set.
func (w *Watcher) classify(event fsnotify.Event) (Op, bool) {
	if event.Op == fsnotify.Chmod {
		return 0, false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if w.underDir(event.Name) && !hidden(event.Name) {
				if err := w.addRecursive(event.Name); err != nil {
					slog.Warn("Could not watch new directory", "path", event.Name, "error", err)
				}
			}
			return 0, false
		}
	}

	if !w.watched(event.Name) {
		return 0, false
	}
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return OpRemove, true
	}
	return OpUpsert, true
}

func (w *Watcher) watched(path string) bool {
	if w.files[path] {
		return true
	}
	if hidden(path) || !w.opts.Extensions[strings.ToLower(filepath.Ext(path))] {
		return false
	}
	return w.underDir(path)
}

func (w *Watcher) underDir(path string) bool {
	for _, dir := range w.dirs {
		if rel, err := filepath.Rel(dir, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

// flush resolves the pending set into a sorted batch. An upsert whose
// file has since disappeared becomes a remove.
func flush(pending map[string]Op) []Change {
	changes := make([]Change, 0, len(pending))
	for path, op := range pending {
		if op == OpUpsert {
			if _, err := os.Stat(path); err != nil {
				op = OpRemove
			}
		}
		changes = append(changes, Change{Path: path, Op: op})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}
