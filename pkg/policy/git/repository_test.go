package git

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"monay-hq/authz/pkg/config"
	"monay-hq/authz/pkg/policy/store"
)

const blockRule = `
rules:
  - id: high-risk-block
    name: Block high risk
    category: RISK_MANAGEMENT
    priority: 100
    active: true
    conditions:
      - field: riskScore
        operator: greaterThan
        value: 80
    actions:
      - type: block
`

const sanctionsRule = `
rules:
  - id: sanctions
    name: Sanctioned country
    category: GEOGRAPHIC_RESTRICTIONS
    priority: 200
    active: true
    conditions:
      - field: country
        operator: in
        value: [KP, IR]
    actions:
      - type: block
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// originRepo is a local repository standing in for the remote.
type originRepo struct {
	t    *testing.T
	dir  string
	repo *gogit.Repository
}

func newOrigin(t *testing.T) *originRepo {
	t.Helper()

	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("failed to init repo: %v", err)
	}
	o := &originRepo{t: t, dir: dir, repo: repo}
	o.commit("rules/bundle.yaml", blockRule, "initial rules")
	return o
}

// commit writes a file and commits it, returning the new SHA.
func (o *originRepo) commit(name, content, message string) string {
	o.t.Helper()

	path := filepath.Join(o.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		o.t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		o.t.Fatalf("failed to write file: %v", err)
	}

	worktree, err := o.repo.Worktree()
	if err != nil {
		o.t.Fatalf("failed to get worktree: %v", err)
	}
	if _, err := worktree.Add(name); err != nil {
		o.t.Fatalf("failed to add file: %v", err)
	}
	hash, err := worktree.Commit(message, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		o.t.Fatalf("failed to commit: %v", err)
	}
	return hash.String()
}

func gitConfig(origin *originRepo, localPath string) *config.GitConfig {
	return &config.GitConfig{
		Repository: origin.dir,
		Branch:     "master", // go-git init creates "master"
		Path:       "rules",
		Auth:       config.GitAuthConfig{Type: "none"},
		Poll:       config.GitPollConfig{Interval: time.Second, Timeout: 10 * time.Second},
		Clone:      config.GitCloneConfig{LocalPath: localPath},
	}
}

func syncedRepo(t *testing.T, origin *originRepo) *Repository {
	t.Helper()

	repo, err := NewRepository(gitConfig(origin, filepath.Join(t.TempDir(), "checkout")), discardLogger())
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	if err := repo.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	return repo
}

func TestNewRepository(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.GitConfig
		wantErr bool
	}{
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "empty repository", cfg: &config.GitConfig{Branch: "main"}, wantErr: true},
		{name: "empty branch", cfg: &config.GitConfig{Repository: "https://example.com/rules.git"}, wantErr: true},
		{
			name: "token without token",
			cfg: &config.GitConfig{
				Repository: "https://example.com/rules.git",
				Branch:     "main",
				Auth:       config.GitAuthConfig{Type: "token"},
			},
			wantErr: true,
		},
		{
			name: "valid",
			cfg: &config.GitConfig{
				Repository: "https://example.com/rules.git",
				Branch:     "main",
				Auth:       config.GitAuthConfig{Type: "none"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, err := NewRepository(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewRepository() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && repo.localPath == "" {
				t.Error("Expected a default local path")
			}
		})
	}
}

func TestRepository_Sync(t *testing.T) {
	origin := newOrigin(t)
	head, _ := origin.repo.Head()

	repo := syncedRepo(t, origin)

	info, err := repo.Head()
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if info.SHA != head.Hash().String() {
		t.Errorf("Expected checkout at %s, got %s", head.Hash(), info.SHA)
	}
	if info.Message != "initial rules" {
		t.Errorf("Expected commit message %q, got %q", "initial rules", info.Message)
	}

	backend, err := repo.Backend()
	if err != nil {
		t.Fatalf("Backend failed: %v", err)
	}
	bundle, err := backend.Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(bundle.Rules) != 1 || bundle.Rules[0].ID != "high-risk-block" {
		t.Errorf("Expected the committed rule, got %+v", bundle.Rules)
	}
}

func TestRepository_SyncReusesCheckout(t *testing.T) {
	origin := newOrigin(t)
	local := filepath.Join(t.TempDir(), "checkout")

	first, err := NewRepository(gitConfig(origin, local), discardLogger())
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	if err := first.Sync(context.Background()); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	sha := origin.commit("rules/geo.yaml", sanctionsRule, "add sanctions")

	second, err := NewRepository(gitConfig(origin, local), discardLogger())
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	if err := second.Sync(context.Background()); err != nil {
		t.Fatalf("Sync of existing checkout failed: %v", err)
	}
	info, err := second.Head()
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if info.SHA != sha {
		t.Errorf("Expected reopened checkout at the new tip %s, got %s", sha, info.SHA)
	}
}

func TestRepository_Fetch(t *testing.T) {
	origin := newOrigin(t)
	repo := syncedRepo(t, origin)

	result, err := repo.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if result.HadChanges() {
		t.Error("Expected no changes on an up to date checkout")
	}

	sha := origin.commit("rules/geo.yaml", sanctionsRule, "add sanctions")

	result, err = repo.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if !result.HadChanges() || result.ToSHA != sha {
		t.Fatalf("Expected fetch to reach %s, got %+v", sha, result)
	}
	if len(result.ChangedFiles) != 1 || result.ChangedFiles[0] != "rules/geo.yaml" {
		t.Errorf("Expected rules/geo.yaml changed, got %v", result.ChangedFiles)
	}

	// Fetch leaves the working tree alone.
	if _, err := os.Stat(filepath.Join(repo.BundlePath(), "geo.yaml")); !os.IsNotExist(err) {
		t.Error("Expected the new file to be absent until checkout")
	}

	if err := repo.Checkout(sha); err != nil {
		t.Fatalf("Checkout failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(repo.BundlePath(), "geo.yaml")); err != nil {
		t.Errorf("Expected the new file after checkout: %v", err)
	}

	stats := repo.Stats()
	if stats.Fetches != 2 {
		t.Errorf("Expected 2 fetches, got %d", stats.Fetches)
	}
	if stats.ActiveCommitSHA != sha {
		t.Errorf("Expected active commit %s, got %s", sha, stats.ActiveCommitSHA)
	}
}

func TestRepository_CheckoutUnknownCommit(t *testing.T) {
	repo := syncedRepo(t, newOrigin(t))
	if err := repo.Checkout("0123456789abcdef0123456789abcdef01234567"); err == nil {
		t.Error("Expected error for unknown commit")
	}
}

func TestRepository_NotInitialized(t *testing.T) {
	repo, err := NewRepository(&config.GitConfig{Repository: "https://example.com/rules.git", Branch: "main"}, nil)
	if err != nil {
		t.Fatalf("NewRepository failed: %v", err)
	}
	if _, err := repo.Fetch(context.Background()); err == nil {
		t.Error("Expected Fetch to fail before Sync")
	}
	if _, err := repo.Head(); err == nil {
		t.Error("Expected Head to fail before Sync")
	}
}

func TestRepository_TracksFile(t *testing.T) {
	repo := &Repository{cfg: config.GitConfig{Path: "rules"}}

	tests := []struct {
		file string
		want bool
	}{
		{"rules/bundle.yaml", true},
		{"rules/geo/sanctions.yml", true},
		{"rules/README.md", false},
		{"rulesets/other.yaml", false},
		{"ci/pipeline.yaml", false},
	}
	for _, tt := range tests {
		if got := repo.tracksFile(tt.file); got != tt.want {
			t.Errorf("tracksFile(%q) = %v, want %v", tt.file, got, tt.want)
		}
	}

	root := &Repository{}
	if !root.tracksFile("anything.yaml") {
		t.Error("Expected every YAML file to be tracked without a path")
	}
}

// newStore loads a store from the repository checkout.
func newStore(t *testing.T, repo *Repository) *store.Store {
	t.Helper()

	backend, err := repo.Backend()
	if err != nil {
		t.Fatalf("Backend failed: %v", err)
	}
	st, err := store.New(context.Background(), store.Config{Backend: backend, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("store.New failed: %v", err)
	}
	return st
}
