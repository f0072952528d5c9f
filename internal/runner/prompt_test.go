package runner

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/internal/trust"
)

func promptFor(t *testing.T, agent store.Agent, channel string, dirs []string, task *store.Task, background bool) string {
	t.Helper()
	res, err := trust.Resolve(agent.Trust, agent.Capabilities, trust.Context{})
	require.NoError(t, err)
	now := time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)
	return buildSystemPrompt(agent, res, channel, dirs, store.Manifest{Channel: channel}, task, now, background, "")
}

func TestPromptUsesIdentityAndResponsibilities(t *testing.T) {
	agent := store.Agent{
		ID: "a", Key: "a", Name: "Archivist",
		Identity:     "You keep the records.",
		Instructions: "Prefer primary sources.",
		Responsibilities: []store.Responsibility{
			{Title: "Weekly digest", Content: "Summarize the week every Friday."},
		},
		Trust: store.TrustControlled,
	}
	p := promptFor(t, agent, "cli", nil, nil, false)
	require.Contains(t, p, "You are Archivist.")
	require.Contains(t, p, "You keep the records.")
	require.Contains(t, p, "Prefer primary sources.")
	require.Contains(t, p, "## Weekly digest")
}

func TestPromptFallsBackToLegacyRole(t *testing.T) {
	agent := store.Agent{ID: "a", Key: "a", Name: "Helper", SystemPrompt: "You help.", Trust: store.TrustControlled}
	p := promptFor(t, agent, "cli", nil, nil, false)
	require.Contains(t, p, "You help.")
}

func TestPromptSandboxOmitsDirectoriesAndStorageBlocks(t *testing.T) {
	agent := store.Agent{ID: "a", Key: "a", Name: "Boxed", Trust: store.TrustSandbox}
	p := promptFor(t, agent, "cli", []string{"/srv/data"}, nil, false)
	require.NotContains(t, p, "/srv/data")
	require.NotContains(t, p, "Tool servers available")
}

func TestPromptBackgroundBlockOnlyWhenBackground(t *testing.T) {
	agent := store.Agent{ID: "a", Key: "a", Name: "Cron", Trust: store.TrustControlled}
	require.NotContains(t, promptFor(t, agent, "internal", nil, nil, false), "background mode")
	require.Contains(t, promptFor(t, agent, "internal", nil, nil, true), "background mode")
}

func TestPromptTaskBlockListsSteps(t *testing.T) {
	agent := store.Agent{ID: "a", Key: "a", Name: "Worker", Trust: store.TrustControlled}
	task := &store.Task{
		ID: "t1", Subject: "ship it", Status: store.TaskStatusActive,
		Steps: []store.Step{{Title: "write"}, {Title: "review", Done: true}},
	}
	p := promptFor(t, agent, "internal", nil, task, false)
	require.Contains(t, p, `bound to task t1`)
	require.Contains(t, p, "- [ ] write")
	require.Contains(t, p, "- [x] review")
	require.True(t, strings.Contains(p, "ship it"))
}
