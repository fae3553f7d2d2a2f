// Package platform shapes order payloads for each target platform:
// title and description limits, tag formatting, and the opaque
// platform_config map handed to agents.
package platform

import (
	"strings"
	"sync"

	"github.com/mediaverse/hub/internal/prodconfig"
)

// Input is the raw product material a shaper works from. Config is the
// product's block for the target platform and may be nil.
type Input struct {
	ProductName      string
	ShortDescription string
	LongDescription  string
	Tags             []string
	Config           *prodconfig.PlatformConfig
}

// Output is the shaped payload.
type Output struct {
	Title       string
	Description string
	Tags        []string
	Config      map[string]any
}

// Shaper formats payloads for one platform.
type Shaper interface {
	// Name is the platform identifier agents report.
	Name() string
	// StableTagCount is how many leading tags stay fixed during tag
	// randomisation.
	StableTagCount() int
	// Shape applies the platform's limits and settings.
	Shape(in Input) Output
}

// Registry maps platform names to shapers.
type Registry struct {
	mu      sync.RWMutex
	shapers map[string]Shaper
}

// NewRegistry creates a registry pre-populated with the built-in
// shapers.
func NewRegistry() *Registry {
	r := &Registry{shapers: make(map[string]Shaper)}
	r.Register(&YouTube{})
	r.Register(&TikTok{})
	r.Register(&Facebook{})
	return r
}

// Register adds or replaces the shaper for its platform name.
func (r *Registry) Register(s Shaper) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shapers[s.Name()] = s
}

// Get returns the shaper for a platform, falling back to a generic
// shaper for unknown platforms.
func (r *Registry) Get(name string) Shaper {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.shapers[name]; ok {
		return s
	}
	return genericShaper{name: name}
}

// genericShaper passes material through unshaped for platforms without
// a dedicated implementation.
type genericShaper struct {
	name string
}

func (g genericShaper) Name() string        { return g.name }
func (g genericShaper) StableTagCount() int { return 3 }

func (g genericShaper) Shape(in Input) Output {
	return Output{
		Title:       in.ProductName,
		Description: pickDescription(in),
		Tags:        append([]string(nil), in.Tags...),
		Config:      baseConfig(in.Config),
	}
}

// pickDescription prefers the long description, falling back to the
// short one.
func pickDescription(in Input) string {
	if in.LongDescription != "" {
		return in.LongDescription
	}
	return in.ShortDescription
}

// baseConfig extracts the common platform settings.
func baseConfig(pc *prodconfig.PlatformConfig) map[string]any {
	cfg := map[string]any{"privacy": "public"}
	if pc == nil {
		return cfg
	}
	if pc.Privacy != "" {
		cfg["privacy"] = pc.Privacy
	}
	if pc.Schedule != "" {
		cfg["schedule"] = pc.Schedule
	}
	for k, v := range pc.Props {
		cfg[k] = v
	}
	return cfg
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// hashtag prefixes a tag with '#', stripping internal whitespace.
func hashtag(tag string) string {
	cleaned := strings.Join(strings.Fields(tag), "")
	if cleaned == "" {
		return ""
	}
	return "#" + cleaned
}
