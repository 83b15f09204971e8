package streams

import (
	"context"
	"fmt"

	"taillogs/internal/cursor"

	"github.com/pterm/pterm"
)

// Filters reads and rewrites per-stream activation flags. Every rewrite is
// one full document write taken under the shared guard.
type Filters struct {
	registry *Registry
	guard    *cursor.Guard
	logger   *pterm.Logger
}

// NewFilters creates a filter store over registry
func NewFilters(registry *Registry, guard *cursor.Guard, logger *pterm.Logger) *Filters {
	return &Filters{registry: registry, guard: guard, logger: logger}
}

// ActiveMap returns stream name → activation flag
func (f *Filters) ActiveMap() map[string]bool {
	return f.registry.Snapshot().ActiveMap()
}

// SetActive toggles one stream
func (f *Filters) SetActive(ctx context.Context, name string, active bool) error {
	release, err := f.guard.Lock(ctx)
	if err != nil {
		return err
	}
	defer release()

	err = f.registry.Update(func(doc *Document) error {
		s, ok := doc.Stream(name)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownStream, name)
		}
		s.Active = active
		return nil
	})
	if err != nil {
		return err
	}

	f.logger.Info("Stream filter changed", f.logger.Args("stream", name, "active", active))
	return nil
}

// Apply sets each named stream active when its value is exactly "true" and
// inactive otherwise. Unknown names are ignored and streams not named keep
// their flag.
func (f *Filters) Apply(ctx context.Context, values map[string]string) (map[string]bool, error) {
	release, err := f.guard.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	var result map[string]bool
	err = f.registry.Update(func(doc *Document) error {
		for name, value := range values {
			s, ok := doc.Stream(name)
			if !ok {
				f.logger.Warn("Ignoring filter for unknown stream", f.logger.Args("stream", name))
				continue
			}
			s.Active = value == "true"
		}
		result = doc.ActiveMap()
		return nil
	})
	if err != nil {
		return nil, err
	}

	f.logger.Info("Stream filters applied", f.logger.Args("requested", len(values)))
	return result, nil
}
