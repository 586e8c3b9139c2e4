package scheduler

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Job is the body of a scheduled job. It runs inside the transaction of its fire.
type Job interface {
	Execute(ctx context.Context) error
}

type JobFunc func(ctx context.Context) error

func (f JobFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// ParameterSetter receives the persisted parameters before execution.
type ParameterSetter interface {
	SetParameters(params map[string]interface{}) error
}

// IdentifierSetter receives the handle of the job being fired.
type IdentifierSetter interface {
	SetIdentifier(id JobIdentifier)
}

// ServiceAware receives the services a job may need.
type ServiceAware interface {
	SetServices(services *Services)
}

// Factory builds a fresh Job for every fire.
type Factory func() Job

// Registry maps the persisted job type to its implementation.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(jobType string, factory Factory) error {
	if jobType == "" || factory == nil {
		return errors.New("job type and factory are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[jobType]; ok {
		return errors.Errorf("job type %q already registered", jobType)
	}
	r.factories[jobType] = factory
	return nil
}

// MustRegister is Register for init time wiring.
func (r *Registry) MustRegister(jobType string, factory Factory) {
	if err := r.Register(jobType, factory); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(jobType string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[jobType]
	return f, ok
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]string, 0, len(r.factories))
	for k := range r.factories {
		list = append(list, k)
	}
	sort.Strings(list)
	return list
}
