// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch starts an fsnotify watch on path's parent directory and calls
// OnFileChanged(path) whenever path itself is written or recreated,
// giving external callers the externally-signalled invalidation path
// without requiring GetOrParse to be called again first.
// The returned watcher must be closed by the caller once done.
func (c *Cache) Watch(path string) (*fsnotify.Watcher, error) {
	abs, err := Canonicalize(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("cache: starting watcher for %s: %w", path, err)
	}
	dir := filepath.Dir(abs)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("cache: watching %s: %w", dir, err)
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if !(ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create)) {
					continue
				}
				if evAbs, err := Canonicalize(ev.Name); err == nil && evAbs == abs {
					c.OnFileChanged(path)
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return w, nil
}
