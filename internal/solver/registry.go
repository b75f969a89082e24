package solver

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry manages loaded solver artifacts.
type Registry struct {
	sync.RWMutex
	artifacts   map[string]*Artifact   // name -> artifact
	byAlgorithm map[string][]*Artifact // algorithm -> artifacts, in registration order
	logger      *zap.Logger
}

// NewRegistry creates a new solver registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		artifacts:   make(map[string]*Artifact),
		byAlgorithm: make(map[string][]*Artifact),
		logger:      logger.With(zap.String("component", "solver-registry")),
	}
}

// Register adds an artifact to the registry.
func (r *Registry) Register(artifact *Artifact) error {
	r.Lock()
	defer r.Unlock()

	name := artifact.Name()

	if _, exists := r.artifacts[name]; exists {
		return &AlreadyRegisteredError{SolverName: name}
	}

	r.artifacts[name] = artifact

	for _, alg := range artifact.Algorithms() {
		r.byAlgorithm[alg] = append(r.byAlgorithm[alg], artifact)
	}

	r.logger.Info("Solver registered",
		zap.String("name", name),
		zap.Strings("algorithms", artifact.Algorithms()),
	)

	return nil
}

// Get retrieves an artifact by name.
func (r *Registry) Get(name string) (*Artifact, bool) {
	r.RLock()
	defer r.RUnlock()

	artifact, ok := r.artifacts[name]
	return artifact, ok
}

// LookupByAlgorithm finds artifacts implementing algorithm, earliest
// registered first.
func (r *Registry) LookupByAlgorithm(algorithm string) []*Artifact {
	r.RLock()
	defer r.RUnlock()

	artifacts, ok := r.byAlgorithm[algorithm]
	if !ok || len(artifacts) == 0 {
		return []*Artifact{}
	}
	result := make([]*Artifact, len(artifacts))
	copy(result, artifacts)
	return result
}

// List returns all registered artifacts sorted by name.
func (r *Registry) List() []*Artifact {
	r.RLock()
	defer r.RUnlock()

	result := make([]*Artifact, 0, len(r.artifacts))
	for _, artifact := range r.artifacts {
		result = append(result, artifact)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

// Algorithms returns every algorithm with at least one artifact.
func (r *Registry) Algorithms() []string {
	r.RLock()
	defer r.RUnlock()

	result := make([]string, 0, len(r.byAlgorithm))
	for alg, artifacts := range r.byAlgorithm {
		if len(artifacts) > 0 {
			result = append(result, alg)
		}
	}
	sort.Strings(result)
	return result
}

// Unregister removes an artifact from the registry.
func (r *Registry) Unregister(name string) {
	r.Lock()
	defer r.Unlock()

	artifact, ok := r.artifacts[name]
	if !ok {
		return
	}

	for _, alg := range artifact.Algorithms() {
		artifacts := r.byAlgorithm[alg]
		for i, a := range artifacts {
			if a.Name() == name {
				r.byAlgorithm[alg] = append(artifacts[:i:i], artifacts[i+1:]...)
				break
			}
		}
		if len(r.byAlgorithm[alg]) == 0 {
			delete(r.byAlgorithm, alg)
		}
	}

	delete(r.artifacts, name)

	r.logger.Info("Solver unregistered", zap.String("name", name))
}

// Count returns the number of registered artifacts.
func (r *Registry) Count() int {
	r.RLock()
	defer r.RUnlock()

	return len(r.artifacts)
}
