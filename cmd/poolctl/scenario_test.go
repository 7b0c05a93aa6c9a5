package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioCommand(t *testing.T) {
	tests := []struct {
		name        string
		scenario    string
		space       string
		workers     int
		verify      bool
		wantContain []string
		wantErr     bool
	}{
		{
			name:        "scenario a on host",
			scenario:    "a",
			space:       "host",
			wantContain: []string{"Scenario a (host): PASS"},
		},
		{
			name:        "scenario a on device with verify",
			scenario:    "a",
			space:       "device",
			verify:      true,
			wantContain: []string{"Scenario a (device): PASS"},
		},
		{
			name:        "scenario b",
			scenario:    "b",
			space:       "both",
			workers:     100,
			verify:      true,
			wantContain: []string{"Scenario b (host): PASS", "Scenario b (device): PASS"},
		},
		{
			name:        "scenario c",
			scenario:    "C",
			space:       "dev",
			wantContain: []string{"Scenario c (device): PASS"},
		},
		{
			name:     "all",
			scenario: "all",
			space:    "host",
			workers:  50,
			wantContain: []string{
				"Scenario a (host): PASS",
				"Scenario b (host): PASS",
				"Scenario c (host): PASS",
			},
		},
		{
			name:     "unknown scenario",
			scenario: "z",
			wantErr:  true,
		},
		{
			name:     "unknown space",
			scenario: "a",
			space:    "gpu",
			wantErr:  true,
		},
		{
			name:     "bad worker count",
			scenario: "b",
			workers:  -1,
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags(t)
			if tt.space != "" {
				scenarioSpace = tt.space
			}
			if tt.workers != 0 {
				scenarioWorkers = tt.workers
			}
			scenarioVerify = tt.verify

			output, err := captureOutput(t, func() error {
				return runScenario([]string{tt.scenario})
			})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assertContains(t, output, tt.wantContain)
			assertNotContains(t, output, []string{"FAIL", "✗"})
		})
	}
}

func TestScenarioJSON(t *testing.T) {
	resetFlags(t)
	jsonOut = true
	scenarioVerify = true
	scenarioWorkers = 20

	output, err := captureOutput(t, func() error {
		return runScenario([]string{"all"})
	})
	require.NoError(t, err)

	var results []scenarioResult
	assertJSON(t, output, &results)
	require.Len(t, results, 6, "three scenarios on two spaces")

	for _, res := range results {
		assert.True(t, res.Passed, "%s/%s", res.Scenario, res.Space)
		assert.NotEmpty(t, res.Checks)
		assert.Empty(t, res.Err)
		for _, c := range res.Checks {
			assert.True(t, c.OK, "%s/%s: %s want %s got %s", res.Scenario, res.Space, c.Name, c.Want, c.Got)
		}
	}

	a := results[0]
	assert.Equal(t, "a", a.Scenario)
	assert.Equal(t, "host", a.Space)
	assert.Equal(t, 1, a.Final.Blocks, "the surviving block stays pooled")
	assert.Equal(t, 1, a.Final.FreeBlocks)
	assert.Equal(t, uint64(1), a.Final.Released)
}

func TestScenarioVerboseListsChecks(t *testing.T) {
	resetFlags(t)
	verbose = true
	scenarioSpace = "host"

	output, err := captureOutput(t, func() error {
		return runScenario([]string{"c"})
	})
	require.NoError(t, err)
	assertContains(t, output, []string{
		"Running scenario c on host",
		"✓ second deallocate reports a double free",
		"Final pool state:",
	})
}
