package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mklimuk/siteplan/pkg/config"
	"github.com/mklimuk/siteplan/pkg/contract"
	"github.com/mklimuk/siteplan/pkg/credential"
	"github.com/mklimuk/siteplan/pkg/db"
	"github.com/mklimuk/siteplan/pkg/integration/gmail"
	"github.com/mklimuk/siteplan/pkg/integration/procore"
	"github.com/mklimuk/siteplan/pkg/middleware"
	"github.com/mklimuk/siteplan/pkg/plan"
	"github.com/mklimuk/siteplan/pkg/scheduler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeTokens struct {
	tok    credential.Token
	err    error
	emails []string
}

func (f *fakeTokens) EnsureUserFresh(_ context.Context, email string) (credential.Token, error) {
	f.emails = append(f.emails, email)
	return f.tok, f.err
}

type fakeOAuth struct {
	tok   credential.Token
	err   error
	codes []string
}

func (f *fakeOAuth) AuthCodeURL(state string) string {
	return "https://auth.example/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeOAuth) Exchange(_ context.Context, code string) (credential.Token, error) {
	f.codes = append(f.codes, code)
	return f.tok, f.err
}

type fakeDirectory struct {
	projects    []procore.Project
	projectsErr error
	subJobs     []contract.SubUnit
	project     string
	contracts   string
	details     map[string]string
}

func (f *fakeDirectory) ListProjects(context.Context) ([]procore.Project, error) {
	return f.projects, f.projectsErr
}

func (f *fakeDirectory) ListSubJobs(context.Context, string) ([]contract.SubUnit, error) {
	return f.subJobs, nil
}

func (f *fakeDirectory) GetProject(context.Context, string) (contract.Record, error) {
	if f.project == "" {
		return contract.Record{}, procore.ErrNotFound
	}
	return contract.ParseRecord([]byte(f.project))
}

func (f *fakeDirectory) ListContracts(context.Context, string) ([]contract.Record, error) {
	var out []contract.Record
	if f.contracts == "" {
		return out, nil
	}
	err := json.Unmarshal([]byte(f.contracts), &out)
	return out, err
}

func (f *fakeDirectory) GetContractDetail(_ context.Context, _, id string) (contract.Record, error) {
	raw, ok := f.details[id]
	if !ok {
		return contract.Record{}, procore.ErrNotFound
	}
	return contract.ParseRecord([]byte(raw))
}

type fakeProcessor struct {
	today    string
	triggers []scheduler.Trigger
}

func (f *fakeProcessor) ProcessDue(_ context.Context, trigger scheduler.Trigger) (scheduler.Result, error) {
	f.triggers = append(f.triggers, trigger)
	return scheduler.Result{Trigger: trigger, AsOf: f.today, Notes: []scheduler.NoteResult{}}, nil
}

func (f *fakeProcessor) Today() string { return f.today }

type fakePoster struct {
	mu    sync.Mutex
	err   error
	notes []db.PendingNote
	toks  []credential.Token
}

func (f *fakePoster) PostNote(_ context.Context, note db.PendingNote, tok credential.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
	f.toks = append(f.toks, tok)
	return f.err
}

type fakeMailer struct {
	sent []gmail.Message
	err  error
}

func (f *fakeMailer) Send(_ context.Context, m gmail.Message) (string, error) {
	f.sent = append(f.sent, m)
	return "msg-1", f.err
}

type fakeArchive struct {
	plans []string
}

func (f *fakeArchive) Store(_ context.Context, p *plan.Plan, _ plan.Message, _ []string) (string, error) {
	f.plans = append(f.plans, p.ID)
	return "/archive/" + p.Date + "/" + p.ID + ".md", nil
}

type testEnv struct {
	h       *Handler
	router  *gin.Engine
	repo    *db.Repository
	tokens  *fakeTokens
	oauth   *fakeOAuth
	dir     *fakeDirectory
	proc    *fakeProcessor
	poster  *fakePoster
	mailer  *fakeMailer
	archive *fakeArchive
	token   string
}

const testUser = "sam@example.com"

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to init schema: %v", err)
	}

	cfg := &config.Config{
		Auth:    config.AuthConfig{JWTSecret: "test-secret", TokenExpireHours: 1},
		Users:   []config.User{{Email: testUser, Password: "pw", Name: "Sam"}},
		Procore: config.ProcoreConfig{CompanyID: "co-1", DetailConcurrency: 2},
	}

	e := &testEnv{
		repo:    db.NewRepository(database),
		tokens:  &fakeTokens{tok: credential.Token{AccessToken: "fresh", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)}},
		oauth:   &fakeOAuth{tok: credential.Token{AccessToken: "a1", RefreshToken: "r1", ExpiresAt: time.Now().Add(time.Hour)}},
		dir:     &fakeDirectory{},
		proc:    &fakeProcessor{today: "2026-03-02"},
		poster:  &fakePoster{},
		mailer:  &fakeMailer{},
		archive: &fakeArchive{},
	}
	e.h = &Handler{
		Config:    cfg,
		Repo:      e.repo,
		Tokens:    e.tokens,
		OAuth:     e.oauth,
		Directory: func(context.Context, string, string) Directory { return e.dir },
		Extractor: contract.NewExtractor("Summit Builders"),
		Contracts: contract.NewCache(16, time.Minute),
		Scheduler: e.proc,
		Poster:    e.poster,
		Mailer:    e.mailer,
		Archive:   e.archive,
	}
	e.router = NewRouter(e.h)

	e.token, _, err = middleware.GenerateToken(testUser, "Sam", &cfg.Auth)
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return e
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	err := e.repo.UpsertCredential(context.Background(), &db.Credential{
		UserEmail:    testUser,
		AccessToken:  "snap-access",
		RefreshToken: "snap-refresh",
		ExpiresAt:    time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		CompanyID:    "co-1",
	})
	if err != nil {
		t.Fatalf("failed to store credential: %v", err)
	}
}

func (e *testEnv) savePlan(t *testing.T, date string) string {
	t.Helper()
	w := e.do("POST", "/api/plans", map[string]any{
		"date":         date,
		"project_id":   "101",
		"project_name": "Harbour Tower",
		"crew":         []map[string]any{{"name": "Sam", "hours": 8}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("save plan: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var p plan.Plan
	decode(t, w, &p)
	return p.ID
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	if w := e.do("GET", "/health", nil); w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestLogin(t *testing.T) {
	e := newTestEnv(t)
	e.token = ""

	w := e.do("POST", "/api/auth/login", map[string]string{"email": "SAM@example.com", "password": "pw"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp LoginResponse
	decode(t, w, &resp)
	if resp.Token == "" || resp.Email != testUser {
		t.Errorf("unexpected login response: %+v", resp)
	}

	w = e.do("POST", "/api/auth/login", map[string]string{"email": testUser, "password": "nope"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	e := newTestEnv(t)
	e.token = ""
	if w := e.do("GET", "/api/plans", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestSaveAndGetPlan(t *testing.T) {
	e := newTestEnv(t)
	id := e.savePlan(t, "2026-03-05")

	w := e.do("GET", "/api/plans/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var p plan.Plan
	decode(t, w, &p)
	if p.ProjectName != "Harbour Tower" || p.AuthorEmail != testUser || p.CompanyID != "co-1" {
		t.Errorf("unexpected plan: %+v", p)
	}

	w = e.do("GET", "/api/plans", nil)
	var list struct {
		Plans []plan.Plan `json:"plans"`
	}
	decode(t, w, &list)
	if len(list.Plans) != 1 {
		t.Errorf("expected 1 plan, got %d", len(list.Plans))
	}

	if w := e.do("GET", "/api/plans/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if w := e.do("POST", "/api/plans", map[string]any{"date": "tomorrow", "project_id": "1"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid plan, got %d", w.Code)
	}
}

func TestSendFuturePlanQueuesNote(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)
	id := e.savePlan(t, "2026-03-05")

	w := e.do("POST", "/api/plans/"+id+"/send", SendRequest{Recipients: []string{" pm@example.com "}, PostNote: true})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp SendResponse
	decode(t, w, &resp)
	if resp.Note != NoteQueued || resp.PendingNoteID == 0 || !resp.Emailed {
		t.Errorf("unexpected send response: %+v", resp)
	}
	if len(e.mailer.sent) != 1 || e.mailer.sent[0].To[0] != "pm@example.com" {
		t.Errorf("unexpected mail: %+v", e.mailer.sent)
	}
	if len(e.archive.plans) != 1 || resp.ArchivePath == "" {
		t.Errorf("plan not archived: %v", e.archive.plans)
	}
	if len(e.poster.notes) != 0 {
		t.Errorf("future plan must not be posted now")
	}

	note, err := e.repo.GetNote(context.Background(), resp.PendingNoteID)
	if err != nil || note == nil {
		t.Fatalf("GetNote: %v %v", note, err)
	}
	if note.ScheduledDate != "2026-03-05" || note.AccessToken != "snap-access" || note.RefreshToken != "snap-refresh" {
		t.Errorf("unexpected note: %+v", note)
	}
	if !strings.Contains(note.CommentBody, "Harbour Tower") || note.UserEmail != testUser || note.CompanyID != "co-1" {
		t.Errorf("unexpected note content: %+v", note)
	}

	// Resending replaces the queued note.
	w = e.do("POST", "/api/plans/"+id+"/send", SendRequest{PostNote: true})
	var again SendResponse
	decode(t, w, &again)
	if again.PendingNoteID != resp.PendingNoteID {
		t.Errorf("resend created a new note: %d != %d", again.PendingNoteID, resp.PendingNoteID)
	}
}

func TestSendFuturePlanRequiresCredential(t *testing.T) {
	e := newTestEnv(t)
	id := e.savePlan(t, "2026-03-05")

	w := e.do("POST", "/api/plans/"+id+"/send", SendRequest{Recipients: []string{"pm@example.com"}, PostNote: true})
	if w.Code != http.StatusPreconditionFailed {
		t.Errorf("Expected status 412, got %d", w.Code)
	}
	if len(e.mailer.sent) != 0 {
		t.Errorf("nothing should be emailed when the note cannot be queued")
	}
}

func TestSendTodayPlanPostsImmediately(t *testing.T) {
	e := newTestEnv(t)
	id := e.savePlan(t, "2026-03-02")

	w := e.do("POST", "/api/plans/"+id+"/send", SendRequest{PostNote: true})
	var resp SendResponse
	decode(t, w, &resp)
	if resp.Note != NotePosted || resp.Emailed {
		t.Errorf("unexpected send response: %+v", resp)
	}
	if len(e.poster.notes) != 1 {
		t.Fatalf("expected 1 post, got %d", len(e.poster.notes))
	}
	if got := e.poster.notes[0]; got.ProjectID != "101" || got.ScheduledDate != "2026-03-02" {
		t.Errorf("unexpected posted note: %+v", got)
	}
	if e.poster.toks[0].AccessToken != "fresh" || e.tokens.emails[len(e.tokens.emails)-1] != testUser {
		t.Errorf("post did not use the refreshed user token")
	}

	notes, _ := e.repo.ListNotes(context.Background())
	if len(notes) != 0 {
		t.Errorf("immediate post must not queue a note, got %d", len(notes))
	}
}

func TestSendPostFailureIsReported(t *testing.T) {
	e := newTestEnv(t)
	e.poster.err = errors.New("procore: status 403")
	id := e.savePlan(t, "2026-03-01")

	w := e.do("POST", "/api/plans/"+id+"/send", SendRequest{PostNote: true})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var resp SendResponse
	decode(t, w, &resp)
	if resp.Note != NoteFailed || !strings.Contains(resp.NoteError, "403") {
		t.Errorf("unexpected send response: %+v", resp)
	}
}

func TestSendWithoutMailer(t *testing.T) {
	e := newTestEnv(t)
	e.h.Mailer = nil
	id := e.savePlan(t, "2026-03-05")

	w := e.do("POST", "/api/plans/"+id+"/send", SendRequest{Recipients: []string{"pm@example.com"}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	w = e.do("POST", "/api/plans/"+id+"/send", SendRequest{})
	var resp SendResponse
	decode(t, w, &resp)
	if resp.Note != NoteSkipped || resp.Emailed {
		t.Errorf("unexpected send response: %+v", resp)
	}
}

func TestResolveClient(t *testing.T) {
	e := newTestEnv(t)
	e.dir.contracts = `[{"id": 1, "number": "OH4014"}, {"id": 2, "number": "NY1000"}]`
	e.dir.details = map[string]string{
		"1": `{"id": 1, "vendor": {"name": "Ohio Retail Trust"}}`,
		"2": `{"id": 2, "owner": {"name": "New York Trust"}}`,
	}

	w := e.do("GET", "/api/projects/101/client?sub_job_code="+url.QueryEscape("NY1000 - Tower"), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var res contract.Resolution
	decode(t, w, &res)
	if res.Client != "New York Trust" || !res.Resolved || len(res.Candidates) != 2 {
		t.Errorf("unexpected resolution: %+v", res)
	}

	w = e.do("GET", "/api/projects/101/client", nil)
	decode(t, w, &res)
	if res.Client != "Ohio Retail Trust" {
		t.Errorf("unexpected project resolution: %+v", res)
	}
}

func TestResolveClientUnresolved(t *testing.T) {
	e := newTestEnv(t)
	w := e.do("GET", "/api/projects/101/client", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"resolved":false`) || !strings.Contains(w.Body.String(), `"candidates":[]`) {
		t.Errorf("unexpected body: %s", w.Body.String())
	}
}

func TestDirectoryRequiresConnectedAccount(t *testing.T) {
	e := newTestEnv(t)
	e.tokens.err = credential.ErrNoCredential
	if w := e.do("GET", "/api/projects", nil); w.Code != http.StatusPreconditionFailed {
		t.Errorf("Expected status 412, got %d", w.Code)
	}

	e.tokens.err = errors.New("invalid_grant")
	if w := e.do("GET", "/api/projects", nil); w.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", w.Code)
	}
}

func TestListProjectsAndSubJobs(t *testing.T) {
	e := newTestEnv(t)
	e.dir.projectsErr = procore.ErrNotFound
	w := e.do("GET", "/api/projects", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"projects":[]`) {
		t.Errorf("404 should be an empty list, got %d %s", w.Code, w.Body.String())
	}

	e.dir.subJobs = []contract.SubUnit{{ID: "5", Code: "OH4014 - Site A", Name: "Site A"}}
	w = e.do("GET", "/api/projects/101/sub-jobs", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "OH4014 - Site A") {
		t.Errorf("unexpected sub jobs: %d %s", w.Code, w.Body.String())
	}
}

func TestPendingNotesOperatorViews(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	pendingID, err := e.repo.EnqueueNote(ctx, &db.PendingNote{PlanID: "a", ProjectID: "1", ScheduledDate: "2026-03-05", CommentBody: "x"})
	if err != nil {
		t.Fatal(err)
	}
	postedID, err := e.repo.EnqueueNote(ctx, &db.PendingNote{PlanID: "b", ProjectID: "1", ScheduledDate: "2026-03-01", CommentBody: "y"})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.repo.MarkPosted(ctx, postedID, 1, time.Now()); err != nil {
		t.Fatal(err)
	}

	var list struct {
		Notes []db.PendingNote `json:"notes"`
	}
	decode(t, e.do("GET", "/api/pending-notes", nil), &list)
	if len(list.Notes) != 2 {
		t.Errorf("expected 2 notes, got %d", len(list.Notes))
	}
	decode(t, e.do("GET", "/api/pending-notes?status=posted", nil), &list)
	if len(list.Notes) != 1 || list.Notes[0].ID != postedID {
		t.Errorf("unexpected filtered notes: %+v", list.Notes)
	}

	if w := e.do("DELETE", "/api/pending-notes/"+itoa(postedID), nil); w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for posted note, got %d", w.Code)
	}
	if w := e.do("DELETE", "/api/pending-notes/"+itoa(pendingID), nil); w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w := e.do("DELETE", "/api/pending-notes/"+itoa(pendingID), nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if w := e.do("DELETE", "/api/pending-notes/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestProcessPendingNotesAndRuns(t *testing.T) {
	e := newTestEnv(t)
	w := e.do("POST", "/api/pending-notes/process", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if len(e.proc.triggers) != 1 || e.proc.triggers[0] != scheduler.TriggerManual {
		t.Errorf("unexpected triggers: %v", e.proc.triggers)
	}

	run := &db.SchedulerRun{Trigger: "daily", AsOf: "2026-03-02", Due: 2, Posted: 1, Failed: 1, StartedAt: time.Now(), FinishedAt: time.Now()}
	if err := e.repo.InsertSchedulerRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	var runs struct {
		Runs []db.SchedulerRun `json:"runs"`
	}
	decode(t, e.do("GET", "/api/scheduler/runs", nil), &runs)
	if len(runs.Runs) != 1 || runs.Runs[0].Failed != 1 {
		t.Errorf("unexpected runs: %+v", runs.Runs)
	}
}

func TestOAuthConnectAndCallback(t *testing.T) {
	e := newTestEnv(t)

	w := e.do("GET", "/api/oauth/connect", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("Expected status 302, got %d", w.Code)
	}
	loc, err := url.Parse(w.Header().Get("Location"))
	if err != nil {
		t.Fatal(err)
	}
	state := loc.Query().Get("state")
	if state == "" {
		t.Fatal("expected a state in the redirect")
	}

	e.token = ""
	w = e.do("GET", "/api/oauth/callback?code=abc&state="+url.QueryEscape(state), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	cred, err := e.repo.GetCredential(context.Background(), testUser)
	if err != nil || cred == nil {
		t.Fatalf("credential not stored: %v", err)
	}
	if cred.AccessToken != "a1" || cred.RefreshToken != "r1" || cred.CompanyID != "co-1" {
		t.Errorf("unexpected credential: %+v", cred)
	}

	if w := e.do("GET", "/api/oauth/callback?code=abc&state="+url.QueryEscape(state), nil); w.Code != http.StatusBadRequest {
		t.Errorf("state must be single use, got %d", w.Code)
	}
	if len(e.oauth.codes) != 1 {
		t.Errorf("expected 1 exchange, got %d", len(e.oauth.codes))
	}
}

func TestPutCredentials(t *testing.T) {
	e := newTestEnv(t)
	w := e.do("PUT", "/api/credentials", map[string]any{"access_token": "a", "refresh_token": "r", "expires_in": 3600})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), `"r"`) {
		t.Errorf("tokens must not be echoed: %s", w.Body.String())
	}
	cred, _ := e.repo.GetCredential(context.Background(), testUser)
	if cred == nil || cred.RefreshToken != "r" || cred.ExpiresAt.Before(time.Now()) {
		t.Errorf("unexpected credential: %+v", cred)
	}

	if w := e.do("PUT", "/api/credentials", map[string]any{"refresh_token": "r"}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}

	w = e.do("GET", "/api/auth/me", nil)
	if !strings.Contains(w.Body.String(), `"connected":true`) {
		t.Errorf("unexpected me response: %s", w.Body.String())
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
