// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package backend

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/wardenai/warden/gateway"
)

func localBackend(name string) Descriptor {
	return Descriptor{
		Name:      name,
		Local:     true,
		MaxLevel:  gateway.LevelConfidential,
		Tier:      TierLocal,
		Transport: TransportLocalJSON,
		Endpoint:  "http://localhost:11434/api/generate",
		Model:     "llama3",
	}
}

func externalBackend(name string, tier Tier, costPer1K float64) Descriptor {
	return Descriptor{
		Name:      name,
		MaxLevel:  gateway.LevelInternal,
		CostPer1K: costPer1K,
		Tier:      tier,
		Transport: TransportSSE,
		Endpoint:  "https://api.example.com/v1/messages",
		Model:     "example-large",
	}
}

func probedCatalog(t *testing.T, avail map[string]bool, descs ...Descriptor) *Catalog {
	t.Helper()
	c, err := NewCatalog(descs, WithProbe(func(ctx context.Context, d Descriptor) bool {
		return avail[d.Name]
	}))
	require.NoError(t, err)
	c.ProbeAll(context.Background())
	return c
}

func TestDescriptorSpecFromYAML(t *testing.T) {
	raw := `
- name: premium-remote
  local: false
  max_level: INTERNAL
  cost_per_1k: 0.015
  capabilities: [coding, reasoning]
  model: example-large
  tier: premium
  transport: sse
  endpoint: https://api.example.com/v1/messages
  api_key_env: EXAMPLE_API_KEY
- name: local-llama
  local: true
  max_level: CONFIDENTIAL
  cost_per_1k: 0
  model: llama3
  tier: local
  transport: local_json
  endpoint: http://localhost:11434/api/generate
`
	var specs []DescriptorSpec
	require.NoError(t, yaml.Unmarshal([]byte(raw), &specs))
	require.Len(t, specs, 2)

	d, err := specs[0].Descriptor()
	require.NoError(t, err)
	assert.Equal(t, "premium-remote", d.Name)
	assert.Equal(t, gateway.LevelInternal, d.MaxLevel)
	assert.Equal(t, TierPremium, d.Tier)
	assert.Equal(t, TransportSSE, d.Transport)
	assert.False(t, d.Local)
	assert.False(t, d.ZeroCost())

	d, err = specs[1].Descriptor()
	require.NoError(t, err)
	assert.True(t, d.Local)
	assert.True(t, d.ZeroCost())
	assert.True(t, d.Accepts(gateway.LevelConfidential))
	assert.False(t, d.Accepts(gateway.LevelSecret))
}

func TestDescriptorSpecRejectsBadLevel(t *testing.T) {
	spec := DescriptorSpec{Name: "x", MaxLevel: "TOPSECRET", Tier: "local", Transport: "cli", Command: []string{"x"}}
	_, err := spec.Descriptor()
	assert.Error(t, err)
}

func TestNewCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]Descriptor{localBackend("a"), localBackend("a")})
	assert.ErrorContains(t, err, "duplicate backend name")
}

func TestBackendsStartUnavailable(t *testing.T) {
	c, err := NewCatalog([]Descriptor{localBackend("local-llama")})
	require.NoError(t, err)

	d, ok := c.Get("local-llama")
	require.True(t, ok)
	assert.False(t, d.Available, "availability is never assumed from config")
}

func TestProbeAllRunsConcurrentlyAndSetsAvailability(t *testing.T) {
	var probes atomic.Int32
	descs := []Descriptor{
		localBackend("local-llama"),
		externalBackend("premium-remote", TierPremium, 0.015),
		externalBackend("free-remote", TierFree, 0),
	}
	c, err := NewCatalog(descs, WithProbe(func(ctx context.Context, d Descriptor) bool {
		probes.Add(1)
		return d.Name != "premium-remote"
	}))
	require.NoError(t, err)

	c.ProbeAll(context.Background())

	assert.EqualValues(t, 3, probes.Load())
	d, _ := c.Get("local-llama")
	assert.True(t, d.Available)
	d, _ = c.Get("premium-remote")
	assert.False(t, d.Available)
	d, _ = c.Get("free-remote")
	assert.True(t, d.Available)
}

func TestEligibleFiltersLevelLocalityAndAvailability(t *testing.T) {
	c := probedCatalog(t,
		map[string]bool{"local-llama": true, "premium-remote": true, "free-remote": false},
		localBackend("local-llama"),
		externalBackend("premium-remote", TierPremium, 0.015),
		externalBackend("free-remote", TierFree, 0),
	)

	got := c.Eligible(gateway.LevelInternal, false)
	names := make([]string, 0, len(got))
	for _, d := range got {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"local-llama", "premium-remote"}, names)

	// CONFIDENTIAL exceeds the external backend's max level.
	got = c.Eligible(gateway.LevelConfidential, false)
	require.Len(t, got, 1)
	assert.Equal(t, "local-llama", got[0].Name)

	got = c.Eligible(gateway.LevelInternal, true)
	require.Len(t, got, 1)
	assert.True(t, got[0].Local)
}

func TestProbeRefreshFlipsAvailability(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	c, err := NewCatalog([]Descriptor{localBackend("local-llama")}, WithProbe(func(ctx context.Context, d Descriptor) bool {
		return up.Load()
	}))
	require.NoError(t, err)

	c.ProbeAll(context.Background())
	d, _ := c.Get("local-llama")
	assert.True(t, d.Available)

	up.Store(false)
	c.ProbeAll(context.Background())
	d, _ = c.Get("local-llama")
	assert.False(t, d.Available)
}
