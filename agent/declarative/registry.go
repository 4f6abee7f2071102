package declarative

import (
	"sort"
	"sync"

	"github.com/BaSui01/chatflow/types"
	"go.uber.org/zap"
)

// Registry holds the named scenarios available to the server. Reload
// replaces the whole set only when every file in the directory is valid.
type Registry struct {
	mu        sync.RWMutex
	scenarios map[string]*ScenarioDefinition
	loader    ScenarioLoader
	factory   *ScenarioFactory
	logger    *zap.Logger
}

// NewRegistry creates an empty registry. factory, when set, must be able
// to Build a scenario before it is accepted.
func NewRegistry(loader ScenarioLoader, factory *ScenarioFactory, logger *zap.Logger) *Registry {
	if loader == nil {
		loader = NewYAMLLoader()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		scenarios: make(map[string]*ScenarioDefinition),
		loader:    loader,
		factory:   factory,
		logger:    logger.With(zap.String("component", "scenario_registry")),
	}
}

// Reload loads every scenario in dir and swaps them in atomically.
func (r *Registry) Reload(dir string) error {
	defs, err := r.loader.LoadDir(dir)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := r.check(def); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.scenarios = defs
	r.mu.Unlock()

	r.logger.Info("scenarios loaded", zap.String("dir", dir), zap.Int("count", len(defs)))
	return nil
}

// Put adds or replaces one scenario.
func (r *Registry) Put(def *ScenarioDefinition) error {
	if err := r.check(def); err != nil {
		return err
	}
	r.mu.Lock()
	r.scenarios[def.Name] = def
	r.mu.Unlock()
	return nil
}

// check 构建一次场景：转移引用的参与者与重名只在 Build 中才能发现
func (r *Registry) check(def *ScenarioDefinition) error {
	if r.factory == nil {
		return nil
	}
	_, err := r.factory.Build(def)
	return err
}

// Get returns the named scenario or SCENARIO_NOT_FOUND.
func (r *Registry) Get(name string) (*ScenarioDefinition, error) {
	r.mu.RLock()
	def, ok := r.scenarios[name]
	r.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrScenarioNotFound, "scenario %q not found", name)
	}
	return def, nil
}

// Names returns the scenario names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scenarios))
	for n := range r.scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of scenarios.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scenarios)
}
