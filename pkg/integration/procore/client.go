// Package procore is a client for the construction-management platform that
// owns projects, sub jobs, prime contracts and the project notes log.
package procore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/mklimuk/siteplan/pkg/contract"
)

// ErrNotFound is matched by errors for 404 responses.
var ErrNotFound = errors.New("procore: not found")

// APIError is a non-2xx response.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("procore: %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Is reports 404 responses as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Connector builds clients bound to a user's access token. All clients of a
// connector share its rate limiter.
type Connector struct {
	baseURL string
	limiter *rate.Limiter
	base    *http.Client
}

// NewConnector creates a Connector for baseURL throttled to rps requests per
// second. base may be nil.
func NewConnector(baseURL string, rps float64, base *http.Client) *Connector {
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = max(1, int(rps))
	}
	if base == nil {
		base = &http.Client{Timeout: 30 * time.Second}
	}
	return &Connector{
		baseURL: strings.TrimRight(baseURL, "/"),
		limiter: rate.NewLimiter(limit, burst),
		base:    base,
	}
}

// Client returns a client authorised with accessToken for companyID.
func (c *Connector) Client(ctx context.Context, accessToken, companyID string) *Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.base)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	httpClient := oauth2.NewClient(ctx, src)
	httpClient.Timeout = c.base.Timeout
	return &Client{
		baseURL:   c.baseURL,
		companyID: companyID,
		http:      httpClient,
		limiter:   c.limiter,
	}
}

// Client calls the REST API on behalf of one user and company.
type Client struct {
	baseURL   string
	companyID string
	http      *http.Client
	limiter   *rate.Limiter
}

// Project is an entry of the company's project list.
type Project struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	DisplayName   string `json:"display_name,omitempty"`
	ProjectNumber string `json:"project_number,omitempty"`
	Active        bool   `json:"active"`
}

// ListProjects returns the company's projects.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	q := url.Values{"company_id": {c.companyID}}
	var projects []Project
	if err := c.get(ctx, "/rest/v1.0/projects", q, &projects); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return projects, nil
}

// GetProject returns the project's full record.
func (c *Client) GetProject(ctx context.Context, projectID string) (contract.Record, error) {
	q := url.Values{"company_id": {c.companyID}}
	var rec contract.Record
	if err := c.get(ctx, "/rest/v1.0/projects/"+url.PathEscape(projectID), q, &rec); err != nil {
		return contract.Record{}, err
	}
	return rec, nil
}

// ListSubJobs returns the project's sub jobs. Projects without sub jobs
// answer 404, which yields an empty list.
func (c *Client) ListSubJobs(ctx context.Context, projectID string) ([]contract.SubUnit, error) {
	var recs []contract.Record
	err := c.get(ctx, "/rest/v1.0/projects/"+url.PathEscape(projectID)+"/sub_jobs", nil, &recs)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	units := make([]contract.SubUnit, 0, len(recs))
	for _, r := range recs {
		units = append(units, contract.SubUnitFromRecord(r))
	}
	return units, nil
}

// contractEndpoints are tried in order; not every project exposes all of
// them.
var contractEndpoints = []func(companyID, projectID string) (string, url.Values){
	func(_, p string) (string, url.Values) {
		return "/rest/v1.0/prime_contracts", url.Values{"project_id": {p}}
	},
	func(c, p string) (string, url.Values) {
		return "/rest/v2.0/companies/" + url.PathEscape(c) + "/projects/" + url.PathEscape(p) + "/prime_contracts", nil
	},
	func(_, p string) (string, url.Values) {
		return "/rest/v1.0/prime_contract", url.Values{"project_id": {p}}
	},
}

// ListContracts returns the project's prime contracts from the first
// endpoint that has any. A project without contracts yields an empty list.
func (c *Client) ListContracts(ctx context.Context, projectID string) ([]contract.Record, error) {
	var lastErr error
	for _, endpoint := range contractEndpoints {
		path, q := endpoint(c.companyID, projectID)
		var raw json.RawMessage
		if err := c.get(ctx, path, q, &raw); err != nil {
			if !errors.Is(err, ErrNotFound) {
				lastErr = err
			}
			continue
		}
		recs, err := decodeRecords(raw)
		if err != nil {
			lastErr = fmt.Errorf("procore: decode %s: %w", path, err)
			continue
		}
		if len(recs) > 0 {
			return recs, nil
		}
	}
	return nil, lastErr
}

// GetContractDetail returns the detail view of one prime contract.
func (c *Client) GetContractDetail(ctx context.Context, projectID, contractID string) (contract.Record, error) {
	q := url.Values{"project_id": {projectID}}
	var raw json.RawMessage
	if err := c.get(ctx, "/rest/v1.0/prime_contracts/"+url.PathEscape(contractID), q, &raw); err != nil {
		return contract.Record{}, err
	}
	recs, err := decodeRecords(raw)
	if err != nil {
		return contract.Record{}, fmt.Errorf("procore: decode contract %s: %w", contractID, err)
	}
	if len(recs) == 0 {
		return contract.Record{}, ErrNotFound
	}
	return recs[0], nil
}

// PostProjectNote adds comment to the project's notes log for date
// (YYYY-MM-DD).
func (c *Client) PostProjectNote(ctx context.Context, projectID, date, comment string) error {
	body := map[string]any{
		"notes_log": map[string]string{
			"comment": comment,
			"date":    date,
		},
	}
	return c.do(ctx, http.MethodPost, "/rest/v1.0/projects/"+url.PathEscape(projectID)+"/notes_logs", nil, body, nil)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, q, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("procore: rate limiter: %w", err)
	}

	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("procore: encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("procore: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.companyID != "" {
		req.Header.Set("Procore-Company-Id", c.companyID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("procore: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("procore: decode %s: %w", path, err)
	}
	return nil
}

// decodeRecords accepts a list, a {"data": [...]} envelope or a single object.
func decodeRecords(raw json.RawMessage) ([]contract.Record, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '[' {
		var recs []contract.Record
		if err := json.Unmarshal(raw, &recs); err != nil {
			return nil, err
		}
		return recs, nil
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 {
		return decodeRecords(envelope.Data)
	}

	rec, err := contract.ParseRecord(raw)
	if err != nil {
		return nil, err
	}
	if rec.Len() == 0 {
		return nil, nil
	}
	return []contract.Record{rec}, nil
}
