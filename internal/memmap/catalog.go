package memmap

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/muurk/stagehand/internal/target"
)

//go:embed catalog/platforms.yaml
var platformsYAML []byte

// Platform is the memory map and stage table of one SoC family.
type Platform struct {
	// Name is the platform identifier (e.g., "lan966x")
	Name string `yaml:"name"`

	// Description is a human-readable description
	Description string `yaml:"description"`

	// Verified indicates whether the map has been tested on hardware
	Verified bool `yaml:"verified"`

	// BootRegion names the region the core executes from at reset.
	// Offset references resolve against it.
	BootRegion string `yaml:"boot_region"`

	Regions     []*Region              `yaml:"regions"`
	Controllers map[string]*Controller `yaml:"controllers"`
	Stages      map[string]*Stage      `yaml:"stages"`

	// stages indexes Stages by lower-cased name
	stages map[string]*Stage
}

// Region is a contiguous physical memory range.
type Region struct {
	Name string `yaml:"name"`
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`

	// Requires names a controller that must be online for the region
	// to be addressable.
	Requires string `yaml:"requires,omitempty"`

	Views []View `yaml:"views"`
}

// View is the window through which a region is seen from one
// security space.
type View struct {
	Space string `yaml:"space"`
	// Base is the address the stage uses in this space. Defaults to
	// the region base.
	Base *uint64 `yaml:"base,omitempty"`
	// Target is the debugger address of the first byte of the view.
	// Defaults to the region base.
	Target *uint64 `yaml:"target,omitempty"`
}

// Controller is a status probe for a memory controller.
type Controller struct {
	Description string `yaml:"description"`
	Address     uint64 `yaml:"address"`
	Mask        uint32 `yaml:"mask"`
	Value       uint32 `yaml:"value"`
	Verified    bool   `yaml:"verified"`
}

// Stage binds a boot stage name to its entry point, either a symbol
// from previously loaded stages or a fixed address literal.
type Stage struct {
	Symbol  string `yaml:"symbol,omitempty"`
	Address string `yaml:"address,omitempty"`
}

// Catalog holds all known platforms.
type Catalog struct {
	Platforms []*Platform

	index map[string]*Platform
	mu    sync.RWMutex
}

type catalogContainer struct {
	Platforms []*Platform `yaml:"platforms"`
}

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
	defaultCatalogErr  error
)

// LoadCatalog returns the embedded platform catalog. The catalog is
// parsed once.
func LoadCatalog() (*Catalog, error) {
	defaultCatalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = ParseCatalog(platformsYAML)
	})
	return defaultCatalog, defaultCatalogErr
}

// LoadCatalogFile parses a user supplied catalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog parses and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var container catalogContainer
	if err := yaml.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("failed to parse platform catalog: %w", err)
	}

	c := &Catalog{
		Platforms: container.Platforms,
		index:     make(map[string]*Platform),
	}
	for _, p := range c.Platforms {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("platform %q: %w", p.Name, err)
		}
		c.index[strings.ToLower(p.Name)] = p
	}
	return c, nil
}

// Get retrieves a platform by name, case-insensitively.
func (c *Catalog) Get(name string) (*Platform, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.index[strings.ToLower(name)]
	if !ok {
		return nil, &UnsupportedPlatformError{Name: name, Available: c.namesLocked()}
	}
	return p, nil
}

// Names returns all platform names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.namesLocked()
}

func (c *Catalog) namesLocked() []string {
	names := make([]string, 0, len(c.index))
	for _, p := range c.Platforms {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

func (p *Platform) validate() error {
	if p.Name == "" {
		return fmt.Errorf("missing name")
	}
	if _, ok := p.Region(p.BootRegion); !ok {
		return fmt.Errorf("boot region %q is not defined", p.BootRegion)
	}
	for _, r := range p.Regions {
		if r.Size == 0 {
			return fmt.Errorf("region %q has zero size", r.Name)
		}
		if len(r.Views) == 0 {
			return fmt.Errorf("region %q has no views", r.Name)
		}
		for _, v := range r.Views {
			if _, err := target.ParseSpace(v.Space); err != nil {
				return fmt.Errorf("region %q: %w", r.Name, err)
			}
		}
		if r.Requires != "" {
			if _, ok := p.Controllers[r.Requires]; !ok {
				return fmt.Errorf("region %q requires unknown controller %q", r.Name, r.Requires)
			}
		}
	}
	p.stages = make(map[string]*Stage, len(p.Stages))
	for name, s := range p.Stages {
		key := strings.ToLower(name)
		if _, dup := p.stages[key]; dup {
			return fmt.Errorf("stage %q is defined more than once, ignoring case", name)
		}
		p.stages[key] = s
		if s.Symbol == "" && s.Address == "" {
			return fmt.Errorf("stage %q has neither symbol nor address", name)
		}
		if s.Address != "" {
			if _, err := target.ParseAddress(s.Address); err != nil {
				return fmt.Errorf("stage %q: %w", name, err)
			}
		}
	}
	return nil
}

// Region returns the named region.
func (p *Platform) Region(name string) (*Region, bool) {
	for _, r := range p.Regions {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Stage returns the stage binding for name, case-insensitively.
func (p *Platform) Stage(name string) (*Stage, bool) {
	if s, ok := p.Stages[name]; ok {
		return s, true
	}
	s, ok := p.stages[strings.ToLower(name)]
	return s, ok
}

// StageNames returns the platform's stage names in sorted order.
func (p *Platform) StageNames() []string {
	names := make([]string, 0, len(p.Stages))
	for n := range p.Stages {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (p *Platform) String() string {
	verified := ""
	if p.Verified {
		verified = " (verified)"
	}
	return fmt.Sprintf("%s - %s%s", p.Name, p.Description, verified)
}

// view returns the region's view for space.
func (r *Region) view(space target.Space) (base, tgt uint64, ok bool) {
	for _, v := range r.Views {
		s, err := target.ParseSpace(v.Space)
		if err != nil || s != space {
			continue
		}
		base, tgt = r.Base, r.Base
		if v.Base != nil {
			base = *v.Base
		}
		if v.Target != nil {
			tgt = *v.Target
		}
		return base, tgt, true
	}
	return 0, 0, false
}

// Literal returns the parsed stage address, if the stage has one.
func (s *Stage) Literal() (target.Address, bool) {
	if s.Address == "" {
		return target.Address{}, false
	}
	a, err := target.ParseAddress(s.Address)
	if err != nil {
		return target.Address{}, false
	}
	return a, true
}
