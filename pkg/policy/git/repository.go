package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"monay-hq/authz/pkg/config"
	"monay-hq/authz/pkg/policy/store"
)

const remoteName = "origin"

// Repository keeps a local checkout of the rules repository. The working
// tree is always checked out at a specific commit so that a rejected
// commit can be rolled back without touching the remote.
type Repository struct {
	cfg       config.GitConfig
	localPath string
	auth      transport.AuthMethod
	logger    *slog.Logger

	mu    sync.RWMutex
	repo  *gogit.Repository
	stats Stats
}

// NewRepository validates cfg and prepares a repository manager. Nothing is
// cloned until Sync is called.
func NewRepository(cfg *config.GitConfig, logger *slog.Logger) (*Repository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Repository == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}
	if cfg.Branch == "" {
		return nil, fmt.Errorf("branch cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	auth, err := NewAuthMethod(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth method: %w", err)
	}

	localPath := cfg.Clone.LocalPath
	if localPath == "" {
		localPath = filepath.Join(os.TempDir(), "authz-rules")
	}

	return &Repository{
		cfg:       *cfg,
		localPath: localPath,
		auth:      auth,
		logger:    logger.With("component", "policy.git", "repository", cfg.Repository, "branch", cfg.Branch),
	}, nil
}

// Sync makes the local checkout available. An existing clone is reused
// unless CleanOnStart is set. The working tree ends up at the tip of the
// tracked branch.
func (r *Repository) Sync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cfg.Clone.CleanOnStart {
		if err := os.RemoveAll(r.localPath); err != nil {
			return fmt.Errorf("failed to clean existing checkout: %w", err)
		}
	}

	ctx, cancel := r.timeout(ctx)
	defer cancel()

	if _, err := os.Stat(filepath.Join(r.localPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(r.localPath)
		if err != nil {
			return fmt.Errorf("failed to open existing checkout: %w", err)
		}
		r.repo = repo
		if err := r.fetchLocked(ctx); err != nil {
			return err
		}
		tip, err := r.remoteTipLocked()
		if err != nil {
			return err
		}
		return r.checkoutLocked(tip)
	}

	if err := os.MkdirAll(r.localPath, 0o755); err != nil {
		return fmt.Errorf("failed to create checkout directory: %w", err)
	}

	start := time.Now()
	repo, err := gogit.PlainCloneContext(ctx, r.localPath, false, &gogit.CloneOptions{
		URL:           r.cfg.Repository,
		Auth:          r.auth,
		RemoteName:    remoteName,
		ReferenceName: plumbing.NewBranchReferenceName(r.cfg.Branch),
		SingleBranch:  true,
		Depth:         r.cfg.Clone.Depth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	r.repo = repo

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("failed to read HEAD: %w", err)
	}
	r.stats.ActiveCommitSHA = head.Hash().String()

	r.logger.Info("rules repository cloned",
		"path", r.localPath,
		"commit", shortSHA(r.stats.ActiveCommitSHA),
		"auth", describeAuth(r.auth),
		"duration", time.Since(start),
	)
	return nil
}

// Fetch updates the remote-tracking branch without touching the working
// tree and reports which files differ from the checked out commit.
func (r *Repository) Fetch(ctx context.Context) (*FetchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil {
		return nil, fmt.Errorf("repository not initialized, call Sync first")
	}

	ctx, cancel := r.timeout(ctx)
	defer cancel()

	start := time.Now()
	err := r.fetchLocked(ctx)
	r.stats.LastFetch = time.Now()
	r.stats.LastFetchDur = time.Since(start)
	if err != nil {
		r.stats.FailedFetches++
		return nil, err
	}
	r.stats.Fetches++

	tip, err := r.remoteTipLocked()
	if err != nil {
		return nil, err
	}

	result := &FetchResult{FromSHA: r.stats.ActiveCommitSHA, ToSHA: tip.String()}
	if result.HadChanges() {
		files, err := r.changedFilesLocked(plumbing.NewHash(result.FromSHA), tip)
		if err != nil {
			return nil, fmt.Errorf("failed to diff commits: %w", err)
		}
		result.ChangedFiles = files
	}
	return result, nil
}

// Checkout moves the working tree to sha. It is used both to advance to a
// fetched commit and to roll back to the last accepted one.
func (r *Repository) Checkout(sha string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.repo == nil {
		return fmt.Errorf("repository not initialized, call Sync first")
	}
	return r.checkoutLocked(plumbing.NewHash(sha))
}

// Head returns metadata about the checked out commit.
func (r *Repository) Head() (*CommitInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.repo == nil {
		return nil, fmt.Errorf("repository not initialized, call Sync first")
	}

	commit, err := r.repo.CommitObject(plumbing.NewHash(r.stats.ActiveCommitSHA))
	if err != nil {
		return nil, fmt.Errorf("failed to read commit: %w", err)
	}
	return &CommitInfo{
		SHA:       commit.Hash.String(),
		Author:    commit.Author.Name,
		Email:     commit.Author.Email,
		Timestamp: commit.Author.When,
		Message:   commit.Message,
		Branch:    r.cfg.Branch,
	}, nil
}

// BundlePath is the file or directory inside the checkout holding the rule
// bundles.
func (r *Repository) BundlePath() string {
	return filepath.Join(r.localPath, r.cfg.Path)
}

// Backend returns a read-only rule store backend over BundlePath. Sync must
// have succeeded first.
func (r *Repository) Backend() (*store.FileBackend, error) {
	return store.NewFileBackend(r.BundlePath())
}

// Stats returns a copy of the operation counters.
func (r *Repository) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

func (r *Repository) timeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.Poll.Timeout > 0 {
		return context.WithTimeout(ctx, r.cfg.Poll.Timeout)
	}
	return context.WithCancel(ctx)
}

func (r *Repository) fetchLocked(ctx context.Context) error {
	spec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/%s/%s", r.cfg.Branch, remoteName, r.cfg.Branch))
	err := r.repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: remoteName,
		RefSpecs:   []gitconfig.RefSpec{spec},
		Auth:       r.auth,
		Depth:      r.cfg.Clone.Depth,
		Force:      true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	return nil
}

func (r *Repository) remoteTipLocked() (plumbing.Hash, error) {
	ref, err := r.repo.Reference(plumbing.NewRemoteReferenceName(remoteName, r.cfg.Branch), true)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("failed to resolve %s/%s: %w", remoteName, r.cfg.Branch, err)
	}
	return ref.Hash(), nil
}

func (r *Repository) checkoutLocked(hash plumbing.Hash) error {
	if _, err := r.repo.CommitObject(hash); err != nil {
		return fmt.Errorf("commit %s not found: %w", shortSHA(hash.String()), err)
	}
	worktree, err := r.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := worktree.Checkout(&gogit.CheckoutOptions{Hash: hash, Force: true}); err != nil {
		return fmt.Errorf("failed to checkout %s: %w", shortSHA(hash.String()), err)
	}
	r.stats.ActiveCommitSHA = hash.String()
	return nil
}

func (r *Repository) changedFilesLocked(from, to plumbing.Hash) ([]string, error) {
	fromCommit, err := r.repo.CommitObject(from)
	if err != nil {
		return nil, err
	}
	toCommit, err := r.repo.CommitObject(to)
	if err != nil {
		return nil, err
	}
	fromTree, err := fromCommit.Tree()
	if err != nil {
		return nil, err
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return nil, err
	}
	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(changes))
	for _, change := range changes {
		if change.To.Name != "" {
			files = append(files, change.To.Name)
		} else {
			files = append(files, change.From.Name)
		}
	}
	return files, nil
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}

// tracksFile reports whether a repository-relative path can affect the
// loaded rule bundle.
func (r *Repository) tracksFile(file string) bool {
	switch filepath.Ext(file) {
	case ".yaml", ".yml":
	default:
		return false
	}
	root := filepath.Clean(r.cfg.Path)
	if root == "." || root == "" {
		return true
	}
	file = filepath.Clean(file)
	return file == root || strings.HasPrefix(file, root+string(filepath.Separator))
}
