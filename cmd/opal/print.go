package main

import (
	"fmt"
	"strings"

	"github.com/opal-agent/opal/pkg/agent"
	"github.com/opal-agent/opal/pkg/bus"
)

// printEvents renders session events to the terminal until the subscription
// closes. Events that end a run also signal idle so the REPL can re-prompt.
func printEvents(sub *bus.Subscription, idle chan<- struct{}) {
	for e := range sub.Events {
		printEvent(e)
		switch e.Type {
		case agent.EventAgentEnd, agent.EventAgentAbort, agent.EventError:
			select {
			case idle <- struct{}{}:
			default:
			}
		}
	}
}

func printEvent(e bus.Event) {
	switch e.Type {
	case agent.EventMessageDelta:
		if d, ok := e.Payload["delta"].(string); ok {
			fmt.Print(d)
		}
	case agent.EventThinkingStart:
		fmt.Println("[thinking]")
	case agent.EventToolExecStart:
		fmt.Printf("\n[tool] %v(%s)\n", e.Payload["tool"], formatArgs(e.Payload["args"]))
	case agent.EventToolExecEnd:
		status := "ok"
		if ok, _ := e.Payload["ok"].(bool); !ok {
			status = "error"
		}
		fmt.Printf("[tool] %v -> %s\n", e.Payload["tool"], status)
	case agent.EventStatusUpdate:
		fmt.Printf("\n[status] %v\n", e.Payload["message"])
	case agent.EventCompactionStart:
		fmt.Printf("\n[compaction] summarising %v messages...\n", e.Payload["len"])
	case agent.EventCompactionEnd:
		fmt.Printf("[compaction] %v -> %v messages\n", e.Payload["from"], e.Payload["to"])
	case agent.EventContextDiscovered:
		fmt.Printf("[context] %v\n", e.Payload["files"])
	case agent.EventSkillLoaded:
		fmt.Printf("[skill] %v\n", e.Payload["name"])
	case agent.EventAgentRecovered:
		fmt.Printf("\n[recovered] agent restarted after: %v\n", e.Payload["error"])
	case agent.EventSubAgent:
		if child, ok := e.Payload["event"].(bus.Event); ok {
			switch child.Type {
			case agent.EventAgentEnd:
				fmt.Printf("\n[sub-agent %v] finished\n", e.Payload["lineage"])
			case agent.EventError:
				fmt.Printf("\n[sub-agent %v] error: %v\n", e.Payload["lineage"], child.Payload["error"])
			}
		}
	case agent.EventAgentAbort:
		fmt.Println("\n[aborted]")
	case agent.EventError:
		fmt.Printf("\n[error] %v\n", e.Payload["error"])
	case agent.EventAgentEnd:
		fmt.Println()
	}
}

func formatArgs(v any) string {
	args, ok := v.(map[string]any)
	if !ok || len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for k, val := range args {
		s := fmt.Sprintf("%v", val)
		if len(s) > 60 {
			s = s[:57] + "..."
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, s))
	}
	return strings.Join(parts, ", ")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
