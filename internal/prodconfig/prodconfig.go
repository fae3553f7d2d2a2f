// Package prodconfig loads per-product configuration (prod.json,
// schema version 2.x) from product folders. Files are validated against
// an embedded CUE schema before use.
package prodconfig

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaCUE string

// FileName is the per-product configuration file name.
const FileName = "prod.json"

// AffiliateURL is one configured affiliate link.
type AffiliateURL struct {
	URL       string `json:"url"`
	Label     string `json:"label"`
	IsPrimary bool   `json:"is_primary"`
}

// PlatformConfig is the per-platform block of a product configuration.
// Props carries opaque platform-specific settings.
type PlatformConfig struct {
	Enabled      bool           `json:"enabled"`
	PlatformType string         `json:"platform_type"`
	Privacy      string         `json:"privacy"`
	Schedule     string         `json:"schedule"`
	Props        map[string]any `json:"props"`
	AffURLs      []AffiliateURL `json:"aff_urls"`
}

// ProdDetail describes the product itself. Tags keep file order.
type ProdDetail struct {
	Code             string   `json:"code"`
	Name             string   `json:"name"`
	ShortDescription string   `json:"short_description"`
	LongDescription  string   `json:"long_description"`
	Tags             []string `json:"tags"`
	Category         string   `json:"category"`
}

// Config is one parsed prod.json.
type Config struct {
	Version    string                    `json:"version"`
	ProdDetail ProdDetail                `json:"prod_detail"`
	Platforms  map[string]PlatformConfig `json:"platforms"`
}

// Platform returns the block for a platform name, or nil when absent.
func (c *Config) Platform(name string) *PlatformConfig {
	if c == nil {
		return nil
	}
	if pc, ok := c.Platforms[name]; ok {
		return &pc
	}
	return nil
}

// Parse validates raw prod.json bytes against the schema and decodes
// them.
func Parse(data []byte) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse json: %w", err)
	}
	val := ctx.Encode(raw)
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// LoadFile reads and parses one prod.json.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Library is a thread-safe sku -> configuration index.
type Library struct {
	mu      sync.RWMutex
	configs map[string]*Config
}

// NewLibrary creates an empty library.
func NewLibrary() *Library {
	return &Library{configs: make(map[string]*Config)}
}

// Put indexes a configuration under its product code.
func (l *Library) Put(cfg *Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs[cfg.ProdDetail.Code] = cfg
}

// Get returns the configuration for a product code.
func (l *Library) Get(code string) (*Config, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.configs[code]
	return cfg, ok
}

// Len returns the number of indexed configurations.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.configs)
}

// LoadDir walks root for product folders containing a prod.json and
// indexes each valid file. Invalid files are reported but do not stop
// the walk.
func (l *Library) LoadDir(root string) (loaded int, errs []error) {
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != FileName {
			return nil
		}
		cfg, err := LoadFile(path)
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		l.Put(cfg)
		loaded++
		return nil
	})
	if walkErr != nil {
		errs = append(errs, fmt.Errorf("walk %s: %w", root, walkErr))
	}
	return loaded, errs
}
