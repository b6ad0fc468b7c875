package plan

import (
	"fmt"
	"strconv"
	"strings"
)

// RenderSubject returns the email subject line for the plan.
func RenderSubject(p *Plan) string {
	var sb strings.Builder
	sb.WriteString("Daily plan ")
	sb.WriteString(p.Date)
	if name := projectLabel(p); name != "" {
		sb.WriteString(": ")
		sb.WriteString(name)
	}
	if p.SubJobCode != "" {
		sb.WriteString(" (")
		sb.WriteString(p.SubJobCode)
		sb.WriteString(")")
	}
	return sb.String()
}

// RenderBody returns the plain-text plan used for the email and, without an
// AI summary, for the project note.
func RenderBody(p *Plan) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Date: %s\n", p.Date)
	fmt.Fprintf(&sb, "Project: %s\n", projectLabel(p))
	if p.SubJobCode != "" {
		fmt.Fprintf(&sb, "Sub job: %s\n", p.SubJobCode)
	}
	if p.Client != "" {
		fmt.Fprintf(&sb, "Client: %s\n", p.Client)
	}

	if len(p.Crew) > 0 {
		fmt.Fprintf(&sb, "\nCrew (%d):\n", len(p.Crew))
		for _, m := range p.Crew {
			line := m.Name
			if m.Trade != "" {
				line += ", " + m.Trade
			}
			if m.Hours > 0 {
				line += ", " + formatNumber(m.Hours) + "h"
			}
			fmt.Fprintf(&sb, "- %s\n", line)
		}
	}

	if len(p.QA) > 0 {
		sb.WriteString("\nQA checklist:\n")
		for _, q := range p.QA {
			mark := " "
			if q.Done {
				mark = "x"
			}
			line := fmt.Sprintf("[%s] %s", mark, q.Item)
			if q.Note != "" {
				line += " (" + q.Note + ")"
			}
			fmt.Fprintf(&sb, "- %s\n", line)
		}
	}

	if len(p.Materials) > 0 {
		sb.WriteString("\nMaterials:\n")
		for _, m := range p.Materials {
			line := m.Name
			if m.Quantity > 0 {
				line += ": " + formatNumber(m.Quantity)
				if m.Unit != "" {
					line += " " + m.Unit
				}
			}
			fmt.Fprintf(&sb, "- %s\n", line)
		}
	}

	if notes := strings.TrimSpace(p.Notes); notes != "" {
		sb.WriteString("\nNotes:\n")
		sb.WriteString(notes)
		sb.WriteString("\n")
	}

	return sb.String()
}

func projectLabel(p *Plan) string {
	if p.ProjectName != "" {
		return p.ProjectName
	}
	return p.ProjectID
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
