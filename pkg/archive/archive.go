package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/siteplan/pkg/logger"
	"github.com/mklimuk/siteplan/pkg/plan"
)

// Frontmatter is the YAML header of an archived plan.
type Frontmatter struct {
	ID          string   `yaml:"id"`
	Date        string   `yaml:"date"`
	ProjectID   string   `yaml:"project_id"`
	ProjectName string   `yaml:"project_name,omitempty"`
	SubJobCode  string   `yaml:"sub_job_code,omitempty"`
	Client      string   `yaml:"client,omitempty"`
	Author      string   `yaml:"author,omitempty"`
	Subject     string   `yaml:"subject"`
	Recipients  []string `yaml:"recipients,omitempty"`
	SentAt      string   `yaml:"sent_at"`
}

// Entry is an archived plan read back from disk.
type Entry struct {
	Path        string
	Frontmatter Frontmatter
	Content     string
}

// Archive writes sent plans as markdown files into a git repository and
// commits them.
type Archive struct {
	root   string
	push   bool
	sshKey string
	now    func() time.Time

	mu sync.Mutex
}

// New creates an Archive rooted at root. The repository is initialised on
// first use when it does not exist.
func New(root string, push bool, sshKey string) *Archive {
	return &Archive{root: root, push: push, sshKey: sshKey, now: time.Now}
}

// PathFor returns the file path a plan is archived under.
func (a *Archive) PathFor(p *plan.Plan) string {
	name := SanitizeFilename(p.ProjectID) + "-" + SanitizeFilename(p.ID) + ".md"
	return filepath.Join(a.root, p.Date, name)
}

// Store writes the plan and commits it. Re-storing an unchanged plan is a
// no-op for git.
func (a *Archive) Store(ctx context.Context, p *plan.Plan, msg plan.Message, recipients []string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	path := a.PathFor(p)
	fm := Frontmatter{
		ID:          p.ID,
		Date:        p.Date,
		ProjectID:   p.ProjectID,
		ProjectName: p.ProjectName,
		SubJobCode:  p.SubJobCode,
		Client:      p.Client,
		Author:      p.AuthorEmail,
		Subject:     msg.Subject,
		Recipients:  recipients,
		SentAt:      a.now().UTC().Format(time.RFC3339),
	}
	if err := WriteEntry(&Entry{Path: path, Frontmatter: fm, Content: "\n" + msg.Body}); err != nil {
		return "", err
	}

	if err := a.commit(ctx, path, fmt.Sprintf("Plan %s for project %s", p.Date, p.ProjectID)); err != nil {
		return path, err
	}
	return path, nil
}

func (a *Archive) open() (*git.Repository, error) {
	r, err := git.PlainOpen(a.root)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		r, err = git.PlainInit(a.root, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open archive repo: %w", err)
	}
	return r, nil
}

func (a *Archive) commit(ctx context.Context, path, message string) error {
	r, err := a.open()
	if err != nil {
		return err
	}

	w, err := r.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	rel, err := filepath.Rel(a.root, path)
	if err != nil {
		return fmt.Errorf("failed to resolve archive path: %w", err)
	}
	rel = filepath.ToSlash(rel)
	if _, err := w.Add(rel); err != nil {
		return fmt.Errorf("failed to add changes: %w", err)
	}

	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if fs, ok := status[rel]; !ok || fs.Staging == git.Unmodified {
		return nil
	}

	_, err = w.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Site Plan",
			Email: "siteplan@localhost",
			When:  a.now(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	if !a.push {
		return nil
	}
	return a.pushRemote(ctx, r)
}

func (a *Archive) pushRemote(ctx context.Context, r *git.Repository) error {
	keyPath := a.sshKey
	if keyPath == "" {
		home, _ := os.UserHomeDir()
		keyPath = filepath.Join(home, ".ssh", "id_rsa")
	}

	opts := &git.PushOptions{}
	publicKeys, err := ssh.NewPublicKeysFromFile("git", keyPath, "")
	if err != nil {
		logger.Warn(ctx, "archive: could not load ssh key, pushing without explicit auth", "key", keyPath, "error", err)
	} else {
		opts.Auth = publicKeys
	}

	err = r.PushContext(ctx, opts)
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push: %w", err)
	}
	return nil
}

// WriteEntry writes an entry with its YAML frontmatter.
func WriteEntry(e *Entry) error {
	fmData, err := yaml.Marshal(e.Frontmatter)
	if err != nil {
		return fmt.Errorf("failed to marshal frontmatter: %w", err)
	}

	content := fmt.Sprintf("---\n%s---\n%s", string(fmData), e.Content)

	if err := os.MkdirAll(filepath.Dir(e.Path), 0755); err != nil {
		return err
	}
	return os.WriteFile(e.Path, []byte(content), 0644)
}

// ReadEntry reads an archived plan back.
func ReadEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	text := string(data)
	if !strings.HasPrefix(text, "---\n") {
		return &Entry{Path: path, Content: text}, nil
	}
	rest := text[len("---\n"):]
	end := strings.Index(rest, "---\n")
	if end < 0 {
		return nil, fmt.Errorf("unterminated frontmatter in %s", path)
	}

	var fm Frontmatter
	if err := yaml.Unmarshal([]byte(rest[:end]), &fm); err != nil {
		return nil, fmt.Errorf("failed to parse frontmatter: %w", err)
	}
	return &Entry{
		Path:        path,
		Frontmatter: fm,
		Content:     rest[end+len("---\n"):],
	}, nil
}

// SanitizeFilename removes characters invalid in filenames.
func SanitizeFilename(name string) string {
	invalid := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|", " "}
	for _, char := range invalid {
		name = strings.ReplaceAll(name, char, "-")
	}
	return name
}
