package plan

import (
	"context"
	"strings"
	"time"

	"github.com/mklimuk/siteplan/pkg/ai"
	"github.com/mklimuk/siteplan/pkg/logger"
)

// Message is a rendered plan ready to send.
type Message struct {
	Subject string
	Body    string
	// Comment is the text posted to the project's notes log.
	Comment string
}

// Composer renders plans. With a generator the note comment is an AI summary
// of the body; any generator failure falls back to the body itself.
type Composer struct {
	gen     ai.Generator
	timeout time.Duration
}

// NewComposer creates a Composer. gen may be nil.
func NewComposer(gen ai.Generator) *Composer {
	return &Composer{gen: gen, timeout: 30 * time.Second}
}

// Compose renders the plan.
func (c *Composer) Compose(ctx context.Context, p *Plan) Message {
	body := RenderBody(p)
	msg := Message{
		Subject: RenderSubject(p),
		Body:    body,
		Comment: body,
	}
	if c.gen == nil {
		return msg
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	summary, err := c.gen.GenerateText(ctx, ai.PlanSummaryPrompt(body))
	if err != nil {
		logger.Warn(ctx, "plan summary failed, using full plan", "plan_id", p.ID, "error", err)
		return msg
	}
	if summary = strings.TrimSpace(summary); summary != "" {
		msg.Comment = summary
	}
	return msg
}
