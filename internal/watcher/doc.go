// Package watcher turns a directory of JSON documents into a live document
// source. File events come from fsnotify, or from polling where fsnotify is
// unavailable, and are debounced before they reach the store.
//
// Usage:
//
//	w, err := watcher.New(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	src := watcher.NewSource(w, dir, st, logger)
//	if err := src.Run(ctx); err != nil {
//	    return err
//	}
package watcher
