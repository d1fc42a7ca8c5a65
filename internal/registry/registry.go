package registry

import (
	"fmt"
	"sync"

	"github.com/jwalitptl/notify-api/internal/model"
	apperrors "github.com/jwalitptl/notify-api/pkg/errors"
)

// Registry maps notification type names to their configuration. Writes
// serialize on the mutex; registration validates up front so a bad type
// fails at startup rather than at dispatch time.
type Registry struct {
	mu    sync.RWMutex
	types map[string]model.NotificationType
}

func New() *Registry {
	return &Registry{types: make(map[string]model.NotificationType)}
}

func (r *Registry) Register(t model.NotificationType) error {
	if err := t.Validate(); err != nil {
		return apperrors.NewConfiguration(fmt.Sprintf("notification type %q", t.Name), err)
	}
	if t.Priority == "" {
		t.Priority = model.PriorityNormal
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[t.Name] = t
	return nil
}

// RegisterAll registers every type, stopping at the first invalid one.
func (r *Registry) RegisterAll(types []model.NotificationType) error {
	for _, t := range types {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Get(name string) (model.NotificationType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[name]
	return t, ok
}

// Names returns the registered type names, for diagnostics.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	return names
}
