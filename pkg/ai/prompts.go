package ai

import "fmt"

const systemPrompt = `You write short site diary entries for a construction company.
Use plain text only. No markdown, no greetings, no sign-off.`

// PlanSummaryPrompt returns a prompt that condenses a rendered daily plan
// into a project log note.
func PlanSummaryPrompt(planText string) string {
	return fmt.Sprintf(`
Summarise the following daily plan as a project log note.

Rules:
1. At most 8 lines.
2. Start with the date and the work area.
3. State crew size and trades, key materials and any QA hold points.
4. Keep names of people and companies exactly as written.
5. Do not invent anything that is not in the plan.

Plan:
%s
`, planText)
}
