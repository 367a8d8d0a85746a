package distro

import (
	"fmt"
	"sort"
	"strings"
)

// KeyAnalyzer rewrites a key before it is hashed so that related keys
// partition together
type KeyAnalyzer interface {
	Name() string
	Interested(key string) bool
	Analyze(key string) string
}

// AnalyzerRegistry maps analyzer names to constructors
type AnalyzerRegistry struct {
	factories map[string]func() KeyAnalyzer
}

// NewAnalyzerRegistry returns a registry with the built-in analyzers
func NewAnalyzerRegistry() *AnalyzerRegistry {
	r := &AnalyzerRegistry{factories: make(map[string]func() KeyAnalyzer)}
	r.Register("service", func() KeyAnalyzer { return ServiceAnalyzer{} })
	r.Register("namespaced", func() KeyAnalyzer { return NamespacedAnalyzer{} })
	return r
}

// Register adds or replaces an analyzer constructor
func (r *AnalyzerRegistry) Register(name string, factory func() KeyAnalyzer) {
	r.factories[name] = factory
}

// Names lists registered analyzers
func (r *AnalyzerRegistry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build instantiates the named analyzers in order
func (r *AnalyzerRegistry) Build(names []string) ([]KeyAnalyzer, error) {
	analyzers := make([]KeyAnalyzer, 0, len(names))
	for _, name := range names {
		factory, ok := r.factories[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAnalyzer, name)
		}
		analyzers = append(analyzers, factory())
	}
	return analyzers, nil
}

// ServiceAnalyzer maps "service#instance" keys to "service" so every
// instance of a service lands on the same owner
type ServiceAnalyzer struct{}

func (ServiceAnalyzer) Name() string { return "service" }

func (ServiceAnalyzer) Interested(key string) bool {
	return strings.Contains(key, "#")
}

func (ServiceAnalyzer) Analyze(key string) string {
	service, _, _ := strings.Cut(key, "#")
	return service
}

// NamespacedAnalyzer maps "namespace##group@@service#instance" keys to
// "group@@service"
type NamespacedAnalyzer struct{}

func (NamespacedAnalyzer) Name() string { return "namespaced" }

func (NamespacedAnalyzer) Interested(key string) bool {
	return strings.Contains(key, "##")
}

func (NamespacedAnalyzer) Analyze(key string) string {
	_, rest, _ := strings.Cut(key, "##")
	service, _, _ := strings.Cut(rest, "#")
	return service
}
