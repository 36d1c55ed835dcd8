package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// RenderMarkdown renders the human-readable summary of a run
func RenderMarkdown(r *models.RunReport) string {
	var b strings.Builder

	verdict := "PASSED"
	if !r.Passed {
		verdict = "FAILED"
	}
	passed, failed, notRun := r.Counts()

	fmt.Fprintf(&b, "# Smoke run %s: %s\n\n", r.ID, verdict)
	fmt.Fprintf(&b, "- Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Fprintf(&b, "- Capability: %s\n", r.Capability)
	mode := "headless"
	if !r.Profile.Headless {
		mode = fmt.Sprintf("visible (slowMo %s)", r.Profile.SlowMo)
	}
	fmt.Fprintf(&b, "- Mode: %s\n", mode)
	fmt.Fprintf(&b, "- Scenarios: %d passed, %d failed, %d not run\n\n", passed, failed, notRun)

	if len(r.Tiers) > 0 {
		b.WriteString("## Tiers\n\n| Tier | Status | Duration | Detail |\n|---|---|---|---|\n")
		for _, t := range r.Tiers {
			fmt.Fprintf(&b, "| %s | %s | %dms | %s |\n", t.Tier, t.Status, t.DurationMs, cell(firstLine(t.Detail)))
		}
		b.WriteString("\n")
	}

	if len(r.Results) > 0 {
		b.WriteString("## Scenarios\n\n| Scenario | Engine | Status | Assertions | Duration |\n|---|---|---|---|---|\n")
		for _, res := range r.Results {
			ok := 0
			for _, a := range res.Assertions {
				if a.Passed {
					ok++
				}
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %d/%d | %dms |\n",
				cell(res.Name), res.Engine, res.Status, ok, len(res.Assertions), res.DurationMs)
		}
		b.WriteString("\n")
	}

	var failures []models.ScenarioResult
	for _, res := range r.Results {
		if res.Status != models.ResultPassed {
			failures = append(failures, res)
		}
	}
	if len(failures) > 0 {
		b.WriteString("## Failures\n\n")
		for _, res := range failures {
			fmt.Fprintf(&b, "### %s (%s)\n\n", res.Name, res.Engine)
			if res.Error != "" {
				fmt.Fprintf(&b, "```\n%s\n```\n\n", res.Error)
			}
			for _, a := range res.Assertions {
				mark := "x"
				if !a.Passed {
					mark = " "
				}
				fmt.Fprintf(&b, "- [%s] %s", mark, a.Description)
				if a.Detail != "" {
					fmt.Fprintf(&b, ": %s", a.Detail)
				}
				b.WriteString("\n")
			}
			if len(res.Assertions) > 0 {
				b.WriteString("\n")
			}
		}
	}

	return b.String()
}

func cell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
