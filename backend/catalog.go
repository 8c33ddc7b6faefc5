// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package backend

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/wardenai/warden/gateway"
	"github.com/wardenai/warden/shared/logger"
)

const (
	defaultProbeTimeout  = 3 * time.Second
	defaultProbeInterval = 30 * time.Second
)

// DescriptorSpec is the YAML shape of one catalog entry.
type DescriptorSpec struct {
	Name         string   `yaml:"name"`
	Local        bool     `yaml:"local"`
	MaxLevel     string   `yaml:"max_level"`
	CostPer1K    float64  `yaml:"cost_per_1k"`
	Capabilities []string `yaml:"capabilities"`
	Model        string   `yaml:"model"`
	Tier         string   `yaml:"tier"`
	Transport    string   `yaml:"transport"`
	Endpoint     string   `yaml:"endpoint"`
	APIKeyEnv    string   `yaml:"api_key_env"`
	Command      []string `yaml:"command"`
}

// Descriptor converts the YAML shape into a validated Descriptor.
func (s DescriptorSpec) Descriptor() (Descriptor, error) {
	level, err := gateway.ParseLevel(s.MaxLevel)
	if err != nil {
		return Descriptor{}, fmt.Errorf("backend %s: %w", s.Name, err)
	}
	d := Descriptor{
		Name:         s.Name,
		Local:        s.Local,
		MaxLevel:     level,
		CostPer1K:    s.CostPer1K,
		Capabilities: s.Capabilities,
		Model:        s.Model,
		Tier:         Tier(s.Tier),
		Transport:    TransportKind(s.Transport),
		Endpoint:     s.Endpoint,
		APIKeyEnv:    s.APIKeyEnv,
		Command:      s.Command,
	}
	if err := d.validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// ProbeFunc reports whether one backend is currently usable. Injected so
// tests control availability without network access.
type ProbeFunc func(ctx context.Context, d Descriptor) bool

// Catalog is the registry of backend descriptors. Descriptors are fixed at
// construction; availability is written only by probes and read under a
// read lock, so readers see eventually consistent state.
type Catalog struct {
	mu        sync.RWMutex
	backends  []Descriptor
	available map[string]bool

	probe         ProbeFunc
	probeInterval time.Duration
	log           *logger.Logger
}

// CatalogOption tunes catalog construction.
type CatalogOption func(*Catalog)

// WithProbe overrides the default reachability probe.
func WithProbe(p ProbeFunc) CatalogOption {
	return func(c *Catalog) { c.probe = p }
}

// WithProbeInterval sets the periodic refresh interval.
func WithProbeInterval(d time.Duration) CatalogOption {
	return func(c *Catalog) { c.probeInterval = d }
}

// NewCatalog builds a catalog from validated descriptors. Every backend
// starts unavailable until its first probe succeeds.
func NewCatalog(descriptors []Descriptor, opts ...CatalogOption) (*Catalog, error) {
	c := &Catalog{
		backends:      make([]Descriptor, 0, len(descriptors)),
		available:     make(map[string]bool, len(descriptors)),
		probe:         defaultProbe,
		probeInterval: defaultProbeInterval,
		log:           logger.New("backend-catalog"),
	}
	seen := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if seen[d.Name] {
			return nil, fmt.Errorf("duplicate backend name %q", d.Name)
		}
		seen[d.Name] = true
		d.Available = false
		c.backends = append(c.backends, d)
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ProbeAll probes every backend concurrently and waits for all probes or
// the aggregate context deadline, whichever comes first. Probes that miss
// the deadline leave their backend unavailable.
func (c *Catalog) ProbeAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, d := range c.snapshotDescriptors() {
		wg.Add(1)
		go func(d Descriptor) {
			defer wg.Done()
			probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
			defer cancel()
			up := c.probe(probeCtx, d)
			c.setAvailable(d.Name, up)
		}(d)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.log.Warn("", "startup probe deadline exceeded, remaining backends stay unavailable", nil)
	}
}

// Start runs the periodic availability refresh until ctx is cancelled.
func (c *Catalog) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.ProbeAll(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Get returns the named descriptor with its current availability.
func (c *Catalog) Get(name string) (Descriptor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, d := range c.backends {
		if d.Name == name {
			d.Available = c.available[name]
			return d, true
		}
	}
	return Descriptor{}, false
}

// All returns every descriptor in catalog order with current availability.
func (c *Catalog) All() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, len(c.backends))
	for i, d := range c.backends {
		d.Available = c.available[d.Name]
		out[i] = d
	}
	return out
}

// Eligible returns available backends that may see the given level, in
// catalog order. The local flag restricts the result to local backends.
func (c *Catalog) Eligible(level gateway.SensitivityLevel, localOnly bool) []Descriptor {
	var out []Descriptor
	for _, d := range c.All() {
		if !d.Available || !d.Accepts(level) {
			continue
		}
		if localOnly && !d.Local {
			continue
		}
		out = append(out, d)
	}
	return out
}

func (c *Catalog) snapshotDescriptors() []Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Descriptor, len(c.backends))
	copy(out, c.backends)
	return out
}

func (c *Catalog) setAvailable(name string, up bool) {
	c.mu.Lock()
	was := c.available[name]
	c.available[name] = up
	c.mu.Unlock()
	if was != up {
		c.log.Info("", "backend availability changed", map[string]interface{}{
			"backend":   name,
			"available": up,
		})
	}
}

// defaultProbe checks credential presence, then transport reachability.
// CLI backends probe by resolving the command on PATH; HTTP backends by a
// GET against the endpoint, where any response at all counts as reachable.
func defaultProbe(ctx context.Context, d Descriptor) bool {
	if d.APIKeyEnv != "" && os.Getenv(d.APIKeyEnv) == "" {
		return false
	}
	switch d.Transport {
	case TransportCLI:
		_, err := exec.LookPath(d.Command[0])
		return err == nil
	case TransportSSE, TransportLocalJSON:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Endpoint, nil)
		if err != nil {
			return false
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return true
	default:
		return false
	}
}
