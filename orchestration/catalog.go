package orchestration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/structa/flowgate/core"
	"github.com/structa/flowgate/risk"
)

// WorkflowCatalog resolves workflow definitions by schema key and version.
type WorkflowCatalog interface {
	Load(ctx context.Context, schemaKey, version string) (*WorkflowDefinition, error)
}

// RiskRulesStore resolves risk rules documents by schema key.
type RiskRulesStore interface {
	Load(ctx context.Context, schemaKey string) (*risk.Config, error)
}

// MemoryCatalog is a map-backed catalog for embedding and tests.
type MemoryCatalog struct {
	mu   sync.RWMutex
	defs map[string]*WorkflowDefinition
}

// NewMemoryCatalog creates an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{defs: make(map[string]*WorkflowDefinition)}
}

func catalogKey(schemaKey, version string) string {
	if version == "" {
		version = "latest"
	}
	return schemaKey + "@" + version
}

// Register adds a definition, replacing any previous one for the same key
// and version. The definition also serves as "latest" for its schema key.
func (c *MemoryCatalog) Register(def *WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs[catalogKey(def.SchemaKey, def.Version)] = def
	c.defs[catalogKey(def.SchemaKey, "")] = def
	return nil
}

func (c *MemoryCatalog) Load(_ context.Context, schemaKey, version string) (*WorkflowDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[catalogKey(schemaKey, version)]
	if !ok {
		return nil, fmt.Errorf("workflow %s@%s: %w", schemaKey, version, core.ErrWorkflowNotFound)
	}
	return def, nil
}

// FileCatalog loads workflow documents from a directory. Files are named
// "<schemaKey>@<version>.yaml" (or .yml/.json); "<schemaKey>.yaml" serves
// any version.
type FileCatalog struct {
	dir    string
	logger core.Logger
}

// NewFileCatalog creates a catalog over a directory.
func NewFileCatalog(dir string, logger core.Logger) *FileCatalog {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &FileCatalog{dir: dir, logger: logger}
}

func (c *FileCatalog) Load(_ context.Context, schemaKey, version string) (*WorkflowDefinition, error) {
	var candidates []string
	if version != "" {
		base := schemaKey + "@" + version
		candidates = append(candidates, base+".yaml", base+".yml", base+".json")
	}
	candidates = append(candidates, schemaKey+".yaml", schemaKey+".yml", schemaKey+".json")

	for _, name := range candidates {
		path := filepath.Join(c.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read workflow file %s: %w", path, err)
		}
		var def *WorkflowDefinition
		if strings.HasSuffix(name, ".json") {
			def, err = ParseWorkflowJSON(data)
		} else {
			def, err = ParseWorkflowYAML(data)
		}
		if err != nil {
			return nil, fmt.Errorf("workflow file %s: %w", path, err)
		}
		c.logger.Debug("Loaded workflow definition", map[string]interface{}{
			"schema_key": schemaKey,
			"version":    version,
			"file":       name,
		})
		return def, nil
	}
	return nil, fmt.Errorf("workflow %s@%s: %w", schemaKey, version, core.ErrWorkflowNotFound)
}

// MemoryRulesStore is a map-backed rules store.
type MemoryRulesStore struct {
	mu    sync.RWMutex
	rules map[string]*risk.Config
}

// NewMemoryRulesStore creates an empty store.
func NewMemoryRulesStore() *MemoryRulesStore {
	return &MemoryRulesStore{rules: make(map[string]*risk.Config)}
}

// Register adds a rules document. The document must carry the schema key
// it gates; callers loading bare wire documents set it first.
func (s *MemoryRulesStore) Register(cfg *risk.Config) error {
	if cfg.SchemaKey == "" {
		return fmt.Errorf("rules document has no schema key: %w", core.ErrInvalidConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[cfg.SchemaKey] = cfg
	return nil
}

func (s *MemoryRulesStore) Load(_ context.Context, schemaKey string) (*risk.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.rules[schemaKey]
	if !ok {
		return nil, fmt.Errorf("rules for %s: %w", schemaKey, core.ErrRulesNotFound)
	}
	return cfg, nil
}

// FileRulesStore loads "<schemaKey>.rules.json" documents from a directory.
type FileRulesStore struct {
	dir string
}

// NewFileRulesStore creates a store over a directory.
func NewFileRulesStore(dir string) *FileRulesStore {
	return &FileRulesStore{dir: dir}
}

func (s *FileRulesStore) Load(_ context.Context, schemaKey string) (*risk.Config, error) {
	path := filepath.Join(s.dir, schemaKey+".rules.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("rules for %s: %w", schemaKey, core.ErrRulesNotFound)
		}
		return nil, fmt.Errorf("read rules file %s: %w", path, err)
	}
	cfg, err := risk.ParseConfig(data)
	if err != nil {
		return nil, err
	}
	if cfg.SchemaKey == "" {
		cfg.SchemaKey = schemaKey
	}
	return cfg, nil
}
