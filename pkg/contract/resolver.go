package contract

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mklimuk/siteplan/pkg/logger"
)

// Directory is the part of the project directory the resolver reads.
type Directory interface {
	GetProject(ctx context.Context, projectID string) (Record, error)
	ListContracts(ctx context.Context, projectID string) ([]Record, error)
	GetContractDetail(ctx context.Context, projectID, contractID string) (Record, error)
}

// Resolution sources.
const (
	SourceContract        = "contract"
	SourceContractDetail  = "contract_detail"
	SourceProjectOwner    = "project_owner"
	SourceSingleCandidate = "single_candidate"
)

// Resolution is the outcome of resolving a project's client name. An empty
// Client with Resolved=false is a normal result, not a failure.
type Resolution struct {
	Client     string   `json:"client"`
	Resolved   bool     `json:"resolved"`
	Source     string   `json:"source,omitempty"`
	Candidates []string `json:"candidates"`
}

// Resolver infers the client to prefill on a plan from the project's
// contracts. Directory failures degrade to the next fallback tier.
type Resolver struct {
	dir         Directory
	extractor   *Extractor
	cache       *Cache
	scope       string
	concurrency int
}

// NewResolver creates a Resolver. scope namespaces cache entries (usually the
// company id); cache may be nil.
func NewResolver(dir Directory, extractor *Extractor, cache *Cache, scope string, concurrency int) *Resolver {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Resolver{
		dir:         dir,
		extractor:   extractor,
		cache:       cache,
		scope:       scope,
		concurrency: concurrency,
	}
}

// Resolve returns the client to prefill and the candidate list for the
// project. When subUnitCode is set, the contract the sub-unit belongs to
// decides the client. Project and contract detail lookups are made at most
// once per call.
func (r *Resolver) Resolve(ctx context.Context, projectID, subUnitCode string) Resolution {
	r = r.withDirectory(newMemoDirectory(r.dir))
	candidates := r.Candidates(ctx, projectID)

	var res Resolution
	if strings.TrimSpace(subUnitCode) != "" {
		res = r.ForSubUnit(ctx, projectID, subUnitCode, candidates)
	} else {
		res = r.ForProject(ctx, projectID)
	}
	res.Candidates = candidates
	if res.Candidates == nil {
		res.Candidates = []string{}
	}
	return res
}

// ForProject resolves the client when only a project is selected: the first
// contract (list view, then detail view), then the project's own owner.
func (r *Resolver) ForProject(ctx context.Context, projectID string) Resolution {
	contracts := r.contracts(ctx, projectID)
	if len(contracts) > 0 {
		if name, source := r.fromContract(ctx, projectID, contracts[0]); name != "" {
			return Resolution{Client: name, Resolved: true, Source: source}
		}
	}

	project, err := r.dir.GetProject(ctx, projectID)
	if err != nil {
		logger.Debug(ctx, "client resolution: project lookup failed", "project_id", projectID, "error", err)
		return Resolution{}
	}
	owner, _ := project.Get("owner")
	if name := nameOf(owner); r.extractor.acceptable(name, project) {
		return Resolution{Client: name, Resolved: true, Source: SourceProjectOwner}
	}
	return Resolution{}
}

// ForSubUnit resolves the client for a selected sub-unit. known is the
// candidate list already discovered for the project; a single known candidate
// is used when no contract matches.
func (r *Resolver) ForSubUnit(ctx context.Context, projectID, code string, known []string) Resolution {
	prefix := ContractPrefix(code)
	if prefix == "" {
		logger.Debug(ctx, "client resolution: no contract prefix in sub-unit code", "code", code)
		return Resolution{}
	}

	contracts := r.contracts(ctx, projectID)
	matched, ok := MatchContract(contracts, prefix)
	if !ok {
		return singleCandidate(known)
	}

	if name, source := r.fromContract(ctx, projectID, matched); name != "" {
		return Resolution{Client: name, Resolved: true, Source: source}
	}
	return singleCandidate(known)
}

// Candidates extracts a client from the detail view of every contract of the
// project, followed by the project-level party fields, de-duplicated in order
// of discovery.
func (r *Resolver) Candidates(ctx context.Context, projectID string) []string {
	contracts := r.contracts(ctx, projectID)

	details := make([]Record, len(contracts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, c := range contracts {
		details[i] = c
		id := c.ID()
		if id == "" {
			continue
		}
		g.Go(func() error {
			detail, err := r.dir.GetContractDetail(gctx, projectID, id)
			if err != nil {
				logger.Debug(ctx, "client candidates: contract detail failed", "project_id", projectID, "contract_id", id, "error", err)
				return nil
			}
			details[i] = detail
			return nil
		})
	}
	_ = g.Wait()

	var names []string
	for _, d := range details {
		if name := r.extractor.Extract(d); name != "" {
			names = append(names, name)
		}
	}

	if project, err := r.dir.GetProject(ctx, projectID); err == nil {
		names = append(names, r.extractor.Candidates(project)...)
	} else {
		logger.Debug(ctx, "client candidates: project lookup failed", "project_id", projectID, "error", err)
	}

	return dedupe(names)
}

// Forget drops the cached contract list of a project.
func (r *Resolver) Forget(projectID string) {
	r.cache.Forget(r.scope, projectID)
}

func (r *Resolver) contracts(ctx context.Context, projectID string) []Record {
	if list, ok := r.cache.Get(r.scope, projectID); ok {
		return list
	}
	list, err := r.dir.ListContracts(ctx, projectID)
	if err != nil {
		logger.Warn(ctx, "client resolution: contract list failed", "project_id", projectID, "error", err)
		return nil
	}
	r.cache.Put(r.scope, projectID, list)
	return list
}

// fromContract runs the extractor on the list view and falls back to the
// detail view, which carries the party fields the list view omits.
func (r *Resolver) fromContract(ctx context.Context, projectID string, c Record) (string, string) {
	if name := r.extractor.Extract(c); name != "" {
		return name, SourceContract
	}
	id := c.ID()
	if id == "" {
		return "", ""
	}
	detail, err := r.dir.GetContractDetail(ctx, projectID, id)
	if err != nil {
		logger.Debug(ctx, "client resolution: contract detail failed", "project_id", projectID, "contract_id", id, "error", err)
		return "", ""
	}
	if name := r.extractor.Extract(detail); name != "" {
		return name, SourceContractDetail
	}
	return "", ""
}

func (r *Resolver) withDirectory(dir Directory) *Resolver {
	cp := *r
	cp.dir = dir
	return &cp
}

type lookup struct {
	rec Record
	err error
}

// memoDirectory remembers project and contract detail lookups, failures
// included. List calls go through; the Cache covers those.
type memoDirectory struct {
	Directory

	mu       sync.Mutex
	projects map[string]lookup
	details  map[string]lookup
}

func newMemoDirectory(dir Directory) *memoDirectory {
	return &memoDirectory{
		Directory: dir,
		projects:  make(map[string]lookup),
		details:   make(map[string]lookup),
	}
}

func (m *memoDirectory) GetProject(ctx context.Context, projectID string) (Record, error) {
	m.mu.Lock()
	l, ok := m.projects[projectID]
	m.mu.Unlock()
	if ok {
		return l.rec, l.err
	}
	rec, err := m.Directory.GetProject(ctx, projectID)
	m.mu.Lock()
	m.projects[projectID] = lookup{rec: rec, err: err}
	m.mu.Unlock()
	return rec, err
}

func (m *memoDirectory) GetContractDetail(ctx context.Context, projectID, contractID string) (Record, error) {
	key := projectID + "/" + contractID
	m.mu.Lock()
	l, ok := m.details[key]
	m.mu.Unlock()
	if ok {
		return l.rec, l.err
	}
	rec, err := m.Directory.GetContractDetail(ctx, projectID, contractID)
	m.mu.Lock()
	m.details[key] = lookup{rec: rec, err: err}
	m.mu.Unlock()
	return rec, err
}

func singleCandidate(known []string) Resolution {
	if len(known) == 1 {
		return Resolution{Client: known[0], Resolved: true, Source: SourceSingleCandidate}
	}
	return Resolution{}
}

func dedupe(names []string) []string {
	var out []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		key := strings.ToLower(n)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}
