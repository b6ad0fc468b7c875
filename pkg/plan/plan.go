package plan

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mklimuk/siteplan/pkg/db"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid plan")

// CrewMember is a person on site for the day.
type CrewMember struct {
	Name  string  `json:"name"`
	Trade string  `json:"trade,omitempty"`
	Hours float64 `json:"hours,omitempty"`
}

// QAItem is one line of the quality checklist.
type QAItem struct {
	Item string `json:"item"`
	Done bool   `json:"done"`
	Note string `json:"note,omitempty"`
}

// Material is a material delivery or usage line.
type Material struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity,omitempty"`
	Unit     string  `json:"unit,omitempty"`
}

// Plan is a daily site plan for one project, optionally narrowed to a sub job.
type Plan struct {
	ID          string       `json:"id"`
	Date        string       `json:"date"`
	ProjectID   string       `json:"project_id"`
	ProjectName string       `json:"project_name,omitempty"`
	SubJobCode  string       `json:"sub_job_code,omitempty"`
	Client      string       `json:"client,omitempty"`
	Crew        []CrewMember `json:"crew,omitempty"`
	QA          []QAItem     `json:"qa_checklist,omitempty"`
	Materials   []Material   `json:"materials,omitempty"`
	Notes       string       `json:"notes,omitempty"`
	AuthorEmail string       `json:"author_email,omitempty"`
	CompanyID   string       `json:"company_id,omitempty"`
}

// Validate checks the fields a plan cannot be saved without.
func (p *Plan) Validate() error {
	if strings.TrimSpace(p.ProjectID) == "" {
		return fmt.Errorf("%w: project_id is required", ErrInvalid)
	}
	if _, err := time.Parse(db.DateLayout, p.Date); err != nil {
		return fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalid)
	}
	for i, m := range p.Crew {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("%w: crew member %d has no name", ErrInvalid, i+1)
		}
	}
	for i, q := range p.QA {
		if strings.TrimSpace(q.Item) == "" {
			return fmt.Errorf("%w: checklist item %d is empty", ErrInvalid, i+1)
		}
	}
	return nil
}

// EnsureID assigns a new id to a plan that has none.
func (p *Plan) EnsureID() {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
}

// Day parses the plan date.
func (p *Plan) Day() (time.Time, error) {
	return time.Parse(db.DateLayout, p.Date)
}

// ToRecord encodes the plan for storage.
func (p *Plan) ToRecord() (*db.PlanRecord, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode plan: %w", err)
	}
	return &db.PlanRecord{
		ID:          p.ID,
		PlanDate:    p.Date,
		ProjectID:   p.ProjectID,
		AuthorEmail: p.AuthorEmail,
		Payload:     payload,
	}, nil
}

// FromRecord decodes a stored plan.
func FromRecord(rec *db.PlanRecord) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", rec.ID, err)
	}
	p.ID = rec.ID
	return &p, nil
}
