package procore

import (
	"context"
	"errors"

	"github.com/mklimuk/siteplan/pkg/credential"
	"github.com/mklimuk/siteplan/pkg/db"
)

// Poster posts queued notes to the project notes log with the token the
// scheduler hands it.
type Poster struct {
	connector      *Connector
	defaultCompany string
}

// NewPoster creates a Poster. defaultCompany is used for notes queued
// without a company id.
func NewPoster(connector *Connector, defaultCompany string) *Poster {
	return &Poster{connector: connector, defaultCompany: defaultCompany}
}

// PostNote posts note's comment body for its scheduled date.
func (p *Poster) PostNote(ctx context.Context, note db.PendingNote, tok credential.Token) error {
	if tok.AccessToken == "" {
		return errors.New("procore: no access token")
	}
	company := note.CompanyID
	if company == "" {
		company = p.defaultCompany
	}
	client := p.connector.Client(ctx, tok.AccessToken, company)
	return client.PostProjectNote(ctx, note.ProjectID, note.ScheduledDate, note.CommentBody)
}
