package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// poller detects changes by rescanning the tree. Used where fsnotify is
// unavailable, such as some network mounts and container volumes.
type poller struct {
	root     string
	interval time.Duration
	exts     []string
	state    map[string]fileSnapshot
	emit     func(FileEvent)
}

type fileSnapshot struct {
	modTime time.Time
	size    int64
}

func newPoller(root string, interval time.Duration, exts []string, emit func(FileEvent)) *poller {
	return &poller{root: root, interval: interval, exts: exts, emit: emit}
}

// run scans until ctx or stop is done. The first scan is the baseline and
// emits nothing.
func (p *poller) run(ctx context.Context, stop <-chan struct{}) error {
	state, err := p.scan()
	if err != nil {
		return fmt.Errorf("perform initial scan: %w", err)
	}
	p.state = state

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			if err := p.detectChanges(); err != nil {
				return err
			}
		}
	}
}

func (p *poller) scan() (map[string]fileSnapshot, error) {
	if _, err := os.Stat(p.root); err != nil {
		return nil, err
	}
	state := make(map[string]fileSnapshot)
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil || rel == "." {
			return nil
		}
		if ignored(rel, d.IsDir(), p.exts) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		state[filepath.ToSlash(rel)] = fileSnapshot{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	return state, err
}

func (p *poller) detectChanges() error {
	current, err := p.scan()
	if err != nil {
		return fmt.Errorf("walk directory for changes: %w", err)
	}

	now := time.Now()
	for rel, snap := range current {
		prev, ok := p.state[rel]
		switch {
		case !ok:
			p.emit(FileEvent{Path: rel, Operation: OpCreate, Timestamp: now})
		case prev != snap:
			p.emit(FileEvent{Path: rel, Operation: OpModify, Timestamp: now})
		}
	}
	for rel := range p.state {
		if _, ok := current[rel]; !ok {
			p.emit(FileEvent{Path: rel, Operation: OpDelete, Timestamp: now})
		}
	}
	p.state = current
	return nil
}
