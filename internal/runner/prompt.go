package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/castellan-dev/castellan/internal/store"
	"github.com/castellan-dev/castellan/internal/trust"
)

// promptBuilder accumulates the system prompt's ordered blocks,
// joined with a blank line between each non-empty block. A block that
// would be empty (sandbox's directories/storage blocks) is simply never
// appended, rather than appended as an empty heading.
type promptBuilder struct {
	blocks []string
}

func (p *promptBuilder) add(block string) {
	if strings.TrimSpace(block) == "" {
		return
	}
	p.blocks = append(p.blocks, strings.TrimRight(block, "\n"))
}

func (p *promptBuilder) build() string {
	return strings.Join(p.blocks, "\n\n")
}

// buildSystemPrompt assembles the system prompt for one turn in a fixed
// block order: Identity/Role, Trust-level, Directories,
// Storage-capability, Formatting, Communication, Context, Memories,
// optional Task-context, optional Background, then any raw suffix.
func buildSystemPrompt(agent store.Agent, res trust.Resolution, channel string, directories []string, manifest store.Manifest, task *store.Task, now time.Time, background bool, suffix string) string {
	p := &promptBuilder{}

	p.add(identityBlock(agent))
	p.add(trustBlock(agent.Trust, res))
	p.add(directoriesBlock(agent.Trust, directories))
	p.add(storageCapabilityBlock(agent.Trust, res))
	p.add(formattingBlock(channel))
	p.add(communicationBlock(channel))
	p.add(contextBlock(now))
	p.add(memoriesBlock(agent))
	if task != nil {
		p.add(taskContextBlock(*task))
	}
	if background {
		p.add(backgroundBlock())
	}
	p.add(suffix)

	return p.build()
}

func identityBlock(agent store.Agent) string {
	var parts []string
	if id := strings.TrimSpace(agent.Identity); id != "" {
		parts = append(parts, id)
	}
	if instr := strings.TrimSpace(agent.Instructions); instr != "" {
		parts = append(parts, instr)
	}
	if len(parts) == 0 {
		if legacy := strings.TrimSpace(agent.SystemPrompt); legacy != "" {
			parts = append(parts, legacy)
		}
	}
	for _, resp := range agent.Responsibilities {
		parts = append(parts, fmt.Sprintf("## %s\n%s", resp.Title, resp.Content))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("You are %s.", agent.Name)
	}
	return fmt.Sprintf("You are %s.\n\n%s", agent.Name, strings.Join(parts, "\n\n"))
}

func trustBlock(level store.TrustLevel, res trust.Resolution) string {
	switch level {
	case store.TrustSandbox:
		return "You are running at sandbox trust: no filesystem access, no shell, and no delegation beyond what is explicitly granted. Stay within your declared tools."
	case store.TrustControlled:
		return "You are running at controlled trust: you may read and write files and use sub-task delegation, but you have no shell access."
	case store.TrustUnrestricted:
		return "You are running at unrestricted trust: shell and full tool access are available. Use them carefully; nothing second-guesses you."
	default:
		return fmt.Sprintf("Trust level: %s.", level)
	}
}

func directoriesBlock(level store.TrustLevel, directories []string) string {
	if level == store.TrustSandbox || len(directories) == 0 {
		return ""
	}
	return "Working directories:\n- " + strings.Join(directories, "\n- ")
}

func storageCapabilityBlock(level store.TrustLevel, res trust.Resolution) string {
	if level == store.TrustSandbox || len(res.Servers) == 0 {
		return ""
	}
	return "Tool servers available this turn: " + strings.Join(res.Servers, ", ")
}

func formattingBlock(channel string) string {
	switch channel {
	case "discord", "telegram":
		return "Format replies for a chat client: short paragraphs, no headings, use code blocks only for actual code."
	case "internal":
		return ""
	default:
		return "Format replies in plain text or Markdown as appropriate for the surface."
	}
}

func communicationBlock(channel string) string {
	if channel == "" {
		return ""
	}
	return fmt.Sprintf("You are responding over the %q channel. Address the user directly; do not narrate what you are about to do.", channel)
}

func contextBlock(now time.Time) string {
	return fmt.Sprintf("Current time: %s (%s).", now.Format(time.RFC3339), now.Location())
}

func memoriesBlock(agent store.Agent) string {
	return "You have a persistent per-agent memory store available through the memory capability, when granted; use it to retain facts across turns rather than asking the user to repeat itself."
}

func taskContextBlock(task store.Task) string {
	var steps strings.Builder
	for _, s := range task.Steps {
		mark := " "
		if s.Done {
			mark = "x"
		}
		fmt.Fprintf(&steps, "- [%s] %s", mark, s.Title)
		if s.TaskID != "" {
			fmt.Fprintf(&steps, " (subtask %s)", s.TaskID)
		}
		steps.WriteString("\n")
	}
	block := fmt.Sprintf("This thread is bound to task %s: %q (status: %s).", task.ID, task.Subject, task.Status)
	if d := strings.TrimSpace(task.Description); d != "" {
		block += "\n" + d
	}
	if steps.Len() > 0 {
		block += "\nSteps:\n" + steps.String()
	}
	return block
}

func backgroundBlock() string {
	return "You are running in background mode: there is no user waiting for a reply in this thread. Do not address a phantom user. If something important needs surfacing, use the notify_user tool; otherwise respond normally and the text is simply logged."
}
