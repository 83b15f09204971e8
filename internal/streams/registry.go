package streams

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"taillogs/internal/fileutil"

	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"
)

// Registry holds the current configuration document and persists changes to it
type Registry struct {
	path   string
	logger *pterm.Logger

	mu  sync.RWMutex
	doc *Document
}

// Load reads the document at path. A missing or undecodable document is
// ErrNoConfiguration.
func Load(path string, logger *pterm.Logger) (*Registry, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded stream configuration", logger.Args(
		"path", path,
		"node", doc.NodeName,
		"streams", len(doc.Streams),
	))

	return &Registry{path: path, logger: logger, doc: doc}, nil
}

// NewRegistry wraps an in-memory document persisted at path
func NewRegistry(doc *Document, path string, logger *pterm.Logger) *Registry {
	return &Registry{path: path, logger: logger, doc: doc.Clone()}
}

func readDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoConfiguration, err)
	}
	doc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNoConfiguration, path, err)
	}
	return doc, nil
}

// Path returns the document location
func (r *Registry) Path() string {
	return r.path
}

// Snapshot returns a copy of the current document
func (r *Registry) Snapshot() *Document {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.Clone()
}

// NodeName returns the configured node name
func (r *Registry) NodeName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doc.NodeName
}

// Reload re-reads the document from disk. On failure the previous document
// stays in effect.
func (r *Registry) Reload() error {
	doc, err := readDocument(r.path)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.doc = doc
	r.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the document, persists the result and
// makes it current. fn returning an error aborts without writing.
func (r *Registry) Update(fn func(doc *Document) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.doc.Clone()
	if err := fn(next); err != nil {
		return err
	}

	data, err := Encode(next)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := fileutil.WriteFileAtomic(r.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	r.doc = next
	return nil
}

// Watch reloads the document whenever it changes on disk, until ctx is done
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so atomic renames over the file are seen
	dir := filepath.Dir(r.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	target := filepath.Clean(r.path)
	r.logger.Info("Watching stream configuration", r.logger.Args("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := r.Reload(); err != nil {
				r.logger.Warn("Ignoring unreadable configuration change", r.logger.Args("path", target, "error", err))
				continue
			}
			r.logger.Info("Reloaded stream configuration", r.logger.Args("path", target, "node", r.NodeName()))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				if rerr := r.Reload(); rerr == nil {
					continue
				}
			}
			r.logger.Warn("Configuration watcher error", r.logger.Args("error", err))
		}
	}
}
