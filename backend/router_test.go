// Copyright 2025 Warden
// SPDX-License-Identifier: BUSL-1.1

package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenai/warden/budget"
	"github.com/wardenai/warden/gateway"
)

func decision(route gateway.Route, level gateway.SensitivityLevel) gateway.GatewayDecision {
	return gateway.GatewayDecision{Allowed: true, Route: route, Level: level}
}

// fullCatalog has one backend per tier, all available unless overridden.
func fullCatalog(t *testing.T, overrides map[string]bool) *Router {
	t.Helper()
	avail := map[string]bool{
		"free-remote":    true,
		"premium-remote": true,
		"budget-remote":  true,
		"local-llama":    true,
	}
	for k, v := range overrides {
		avail[k] = v
	}
	c := probedCatalog(t, avail,
		externalBackend("free-remote", TierFree, 0),
		externalBackend("premium-remote", TierPremium, 0.015),
		externalBackend("budget-remote", TierBudget, 0.002),
		localBackend("local-llama"),
	)
	return NewRouter(c)
}

func TestSelectLocalOnlyPicksLocalBackend(t *testing.T) {
	r := fullCatalog(t, nil)

	d, reason, err := r.Select(decision(gateway.RouteLocal, gateway.LevelConfidential), TaskGeneral, 10, 1000, "")
	require.NoError(t, err)
	assert.True(t, d.Local)
	assert.Equal(t, "local-llama", d.Name)
	assert.Contains(t, reason, "local-only")
}

func TestSelectLocalOnlyWithNoLocalBackendFails(t *testing.T) {
	r := fullCatalog(t, map[string]bool{"local-llama": false})

	_, _, err := r.Select(decision(gateway.RouteLocal, gateway.LevelConfidential), TaskGeneral, 10, 1000, "")
	assert.ErrorIs(t, err, ErrNoBackendAvailable)
}

func TestSelectForcedBackendAccepted(t *testing.T) {
	r := fullCatalog(t, nil)

	d, reason, err := r.Select(decision(gateway.RouteExternal, gateway.LevelPublic), TaskGeneral, 10, 1000, "premium-remote")
	require.NoError(t, err)
	assert.Equal(t, "premium-remote", d.Name)
	assert.Contains(t, reason, "forced backend")
}

func TestSelectForcedBackendHardErrors(t *testing.T) {
	r := fullCatalog(t, map[string]bool{"budget-remote": false})

	tests := []struct {
		name   string
		dec    gateway.GatewayDecision
		forced string
		reason string
	}{
		{
			name:   "unknown backend",
			dec:    decision(gateway.RouteExternal, gateway.LevelPublic),
			forced: "no-such-backend",
			reason: "not in catalog",
		},
		{
			name:   "unavailable backend",
			dec:    decision(gateway.RouteExternal, gateway.LevelPublic),
			forced: "budget-remote",
			reason: "not available",
		},
		{
			name:   "level exceeds backend max",
			dec:    decision(gateway.RouteExternal, gateway.LevelConfidential),
			forced: "premium-remote",
			reason: "below decided level",
		},
		{
			name:   "external backend on local route",
			dec:    decision(gateway.RouteLocal, gateway.LevelInternal),
			forced: "premium-remote",
			reason: "requires a local backend",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := r.Select(tt.dec, TaskGeneral, 10, 1000, tt.forced)
			var fbe *ForcedBackendError
			require.ErrorAs(t, err, &fbe, "forced backend is never silently substituted")
			assert.Contains(t, fbe.Reason, tt.reason)
		})
	}
}

func TestSelectBackgroundPrefersZeroCost(t *testing.T) {
	r := fullCatalog(t, nil)

	d, reason, err := r.Select(decision(gateway.RouteExternal, gateway.LevelPublic), TaskBackground, 10, 1000, "")
	require.NoError(t, err)
	assert.True(t, d.ZeroCost())
	assert.Contains(t, reason, "background")
}

func TestSelectComplexTaskPrefersPremium(t *testing.T) {
	r := fullCatalog(t, nil)

	d, reason, err := r.Select(decision(gateway.RouteExternal, gateway.LevelPublic), TaskCoding, 10, 1000, "")
	require.NoError(t, err)
	assert.Equal(t, "premium-remote", d.Name)
	assert.Contains(t, reason, "premium")
}

func TestSelectGlobalOrderPrefersFreeTier(t *testing.T) {
	r := fullCatalog(t, nil)

	d, _, err := r.Select(decision(gateway.RouteExternal, gateway.LevelPublic), TaskGeneral, 10, 1000, "")
	require.NoError(t, err)
	assert.Equal(t, "free-remote", d.Name)
}

func TestSelectSubstitutesZeroCostWhenOverBudget(t *testing.T) {
	r := fullCatalog(t, nil)

	// Remaining budget covers no paid backend; a zero-cost one exists.
	d, _, err := r.Select(decision(gateway.RouteExternal, gateway.LevelPublic), TaskCoding, 0.001, 10000, "")
	require.NoError(t, err)
	assert.True(t, d.ZeroCost())
}

func TestSelectBudgetExceededWithoutZeroCostOption(t *testing.T) {
	r := fullCatalog(t, map[string]bool{"free-remote": false, "local-llama": false})

	_, _, err := r.Select(decision(gateway.RouteExternal, gateway.LevelPublic), TaskCoding, 0.001, 10000, "")
	assert.ErrorIs(t, err, budget.ErrBudgetExceeded)
}

func TestSelectNoBackendsAvailable(t *testing.T) {
	r := fullCatalog(t, map[string]bool{
		"free-remote": false, "premium-remote": false, "budget-remote": false, "local-llama": false,
	})

	_, _, err := r.Select(decision(gateway.RouteExternal, gateway.LevelPublic), TaskGeneral, 10, 1000, "")
	assert.ErrorIs(t, err, ErrNoBackendAvailable)
}

func TestLocalRouteNeverSelectsExternal(t *testing.T) {
	r := fullCatalog(t, nil)

	for _, task := range []TaskType{TaskGeneral, TaskBackground, TaskCoding} {
		d, _, err := r.Select(decision(gateway.RouteLocal, gateway.LevelInternal), task, 10, 1000, "")
		require.NoError(t, err)
		assert.True(t, d.Local, "task %s", task)
	}
}

func TestForcedErrorMessage(t *testing.T) {
	err := &ForcedBackendError{Backend: "x", Reason: "not available"}
	assert.Equal(t, "forced backend x rejected: not available", err.Error())
	assert.False(t, errors.Is(err, ErrNoBackendAvailable))
}
