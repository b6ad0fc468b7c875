// Package scheduler posts queued notes when their date arrives: a daily cron
// trigger and a startup catch-up pass share one processing routine.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mklimuk/siteplan/pkg/credential"
	"github.com/mklimuk/siteplan/pkg/db"
	"github.com/mklimuk/siteplan/pkg/logger"
)

// Trigger names what started a processing pass.
type Trigger string

const (
	TriggerDaily   Trigger = "daily"
	TriggerCatchUp Trigger = "catch_up"
	TriggerManual  Trigger = "manual"
)

// Store is the pending note persistence the service works against.
type Store interface {
	ListDueOn(ctx context.Context, date string) ([]db.PendingNote, error)
	ListDueThrough(ctx context.Context, date string) ([]db.PendingNote, error)
	MarkPosted(ctx context.Context, id, revision int64, at time.Time) error
	MarkFailed(ctx context.Context, id, revision int64, msg string) error
	InsertSchedulerRun(ctx context.Context, run *db.SchedulerRun) error
}

// Refresher yields a usable token for a note.
type Refresher interface {
	EnsureFresh(ctx context.Context, note *db.PendingNote) (credential.Token, error)
}

// Poster posts one note to the project's log.
type Poster interface {
	PostNote(ctx context.Context, note db.PendingNote, tok credential.Token) error
}

// Notifier receives operator notifications about failed notes.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Options configures a Service.
type Options struct {
	// Schedule drives the daily trigger. Required by Start.
	Schedule *Schedule
	// CatchUpDelay is the wait between Start and the catch-up pass.
	CatchUpDelay time.Duration
	// SweepOverdue makes passes pick up pending notes dated before today
	// instead of only today's.
	SweepOverdue bool
	// Location decides what "today" is. Defaults to the schedule's location.
	Location  *time.Location
	Notifiers []Notifier

	Now   func() time.Time
	After func(d time.Duration) <-chan time.Time
}

// NoteResult is the outcome of one note in a pass.
type NoteResult struct {
	ID     int64         `json:"id"`
	PlanID string        `json:"plan_id"`
	Status db.NoteStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// Result summarises a processing pass.
type Result struct {
	Trigger Trigger      `json:"trigger"`
	AsOf    string       `json:"as_of"`
	Due     int          `json:"due"`
	Posted  int          `json:"posted"`
	Failed  int          `json:"failed"`
	Notes   []NoteResult `json:"notes"`
}

// Service runs the daily trigger and the startup catch-up pass.
type Service struct {
	store     Store
	refresher Refresher
	poster    Poster
	opts      Options

	// ProcessDue callers are serialized; the manual trigger may overlap the
	// timers.
	mu sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewService creates a new scheduler service.
func NewService(store Store, refresher Refresher, poster Poster, opts Options) *Service {
	if opts.Location == nil {
		if opts.Schedule != nil {
			opts.Location = opts.Schedule.Location()
		} else {
			opts.Location = time.Local
		}
	}
	if opts.CatchUpDelay < 0 {
		opts.CatchUpDelay = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.After == nil {
		opts.After = time.After
	}
	return &Service{
		store:     store,
		refresher: refresher,
		poster:    poster,
		opts:      opts,
		stop:      make(chan struct{}),
	}
}

// Today is the current calendar date in the service's location.
func (s *Service) Today() string {
	return db.FormatDate(s.opts.Now().In(s.opts.Location))
}

// Start launches the catch-up pass and the daily loop.
func (s *Service) Start(ctx context.Context) error {
	if s.opts.Schedule == nil {
		return fmt.Errorf("scheduler: no daily schedule configured")
	}
	s.wg.Add(1)
	go s.loop(ctx)
	logger.Info(ctx, "scheduler started", "daily_at", s.opts.Schedule.String(),
		"catch_up_delay", s.opts.CatchUpDelay, "sweep_overdue", s.opts.SweepOverdue)
	return nil
}

// Stop stops the loop and waits for a running pass to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Service) loop(ctx context.Context) {
	defer s.wg.Done()

	select {
	case <-s.opts.After(s.opts.CatchUpDelay):
		s.run(ctx, TriggerCatchUp)
	case <-s.stop:
		return
	case <-ctx.Done():
		return
	}

	for {
		now := s.opts.Now()
		next, ok := s.opts.Schedule.Next(now)
		if !ok {
			logger.Error(ctx, "scheduler: schedule never fires again", "daily_at", s.opts.Schedule.String())
			return
		}
		select {
		case <-s.opts.After(next.Sub(now)):
			s.run(ctx, TriggerDaily)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) run(ctx context.Context, trigger Trigger) {
	if _, err := s.ProcessDue(ctx, trigger); err != nil {
		logger.Error(ctx, "scheduler pass failed", "trigger", trigger, "error", err)
	}
}

// ProcessDue posts every due pending note. Each note is handled on its own:
// a failure is recorded on that note and does not stop the others. The
// returned error covers only the due-note query.
func (s *Service) ProcessDue(ctx context.Context, trigger Trigger) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx = context.WithValue(ctx, logger.TriggerKey, string(trigger))
	started := s.opts.Now()
	asOf := db.FormatDate(started.In(s.opts.Location))

	var (
		notes []db.PendingNote
		err   error
	)
	if s.opts.SweepOverdue {
		notes, err = s.store.ListDueThrough(ctx, asOf)
	} else {
		notes, err = s.store.ListDueOn(ctx, asOf)
	}
	if err != nil {
		return Result{}, fmt.Errorf("failed to list due notes: %w", err)
	}

	res := Result{Trigger: trigger, AsOf: asOf, Due: len(notes), Notes: make([]NoteResult, 0, len(notes))}
	for i := range notes {
		note := &notes[i]
		nr := NoteResult{ID: note.ID, PlanID: note.PlanID}

		if perr := s.processNote(ctx, note); perr != nil {
			nr.Status, nr.Error = db.StatusFailed, perr.Error()
			res.Failed++
			logger.Warn(ctx, "pending note failed", "note_id", note.ID, "project_id", note.ProjectID,
				"scheduled_date", note.ScheduledDate, "error", perr)
			if err := s.store.MarkFailed(ctx, note.ID, note.Revision, perr.Error()); err != nil {
				s.settleError(ctx, note, "failed to mark note failed", err)
			}
			s.notify(ctx, failureMessage(note, perr))
		} else {
			nr.Status = db.StatusPosted
			res.Posted++
			logger.Info(ctx, "pending note posted", "note_id", note.ID, "project_id", note.ProjectID,
				"scheduled_date", note.ScheduledDate)
			if err := s.store.MarkPosted(ctx, note.ID, note.Revision, s.opts.Now()); err != nil {
				s.settleError(ctx, note, "note posted but not marked", err)
			}
		}
		res.Notes = append(res.Notes, nr)
	}

	run := &db.SchedulerRun{
		Trigger:    string(trigger),
		AsOf:       asOf,
		Due:        res.Due,
		Posted:     res.Posted,
		Failed:     res.Failed,
		StartedAt:  started,
		FinishedAt: s.opts.Now(),
	}
	if err := s.store.InsertSchedulerRun(ctx, run); err != nil {
		logger.Warn(ctx, "failed to record scheduler run", "error", err)
	}

	if res.Due > 0 {
		logger.Info(ctx, "processed due notes", "as_of", asOf, "due", res.Due, "posted", res.Posted, "failed", res.Failed)
	} else {
		logger.Debug(ctx, "no due notes", "as_of", asOf)
	}
	return res, nil
}

func (s *Service) processNote(ctx context.Context, note *db.PendingNote) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while posting note: %v", r)
		}
	}()

	tok, err := s.refresher.EnsureFresh(ctx, note)
	if err != nil {
		return fmt.Errorf("credential refresh: %w", err)
	}
	if err := s.poster.PostNote(ctx, *note, tok); err != nil {
		return fmt.Errorf("post note: %w", err)
	}
	return nil
}

// settleError logs a failed status update. A note replaced mid-post keeps
// its new revision pending for the next pass.
func (s *Service) settleError(ctx context.Context, note *db.PendingNote, msg string, err error) {
	if errors.Is(err, db.ErrSuperseded) {
		logger.Info(ctx, "pending note replaced while posting", "note_id", note.ID,
			"revision", note.Revision)
		return
	}
	logger.Error(ctx, msg, "note_id", note.ID, "error", err)
}

func (s *Service) notify(ctx context.Context, text string) {
	for _, n := range s.opts.Notifiers {
		if err := n.Notify(ctx, text); err != nil {
			logger.Warn(ctx, "failed to send notification", "error", err)
		}
	}
}

func failureMessage(note *db.PendingNote, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scheduled note %d failed\n", note.ID)
	fmt.Fprintf(&b, "Project: %s\nDate: %s\n", note.ProjectID, note.ScheduledDate)
	if note.Subject != "" {
		fmt.Fprintf(&b, "Subject: %s\n", note.Subject)
	}
	fmt.Fprintf(&b, "Error: %v", err)
	return b.String()
}
