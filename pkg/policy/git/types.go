package git

import (
	"time"
)

// CommitInfo describes the commit the rule bundle was read from.
type CommitInfo struct {
	SHA       string    `json:"sha"`
	Author    string    `json:"author"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Branch    string    `json:"branch"`
}

// FetchResult describes a fetch of the tracked branch.
type FetchResult struct {
	// FromSHA is the checked out commit before the fetch.
	FromSHA string

	// ToSHA is the tip of the remote branch after the fetch.
	ToSHA string

	// ChangedFiles lists paths, relative to the repository root, that differ
	// between FromSHA and ToSHA.
	ChangedFiles []string
}

// HadChanges reports whether the remote branch moved.
func (r *FetchResult) HadChanges() bool {
	return r.FromSHA != r.ToSHA
}

// Stats are counters for repository and watcher operations.
type Stats struct {
	Fetches         int64
	FailedFetches   int64
	Reloads         int64
	FailedReloads   int64
	SkippedCommits  int64
	LastFetch       time.Time
	LastFetchDur    time.Duration
	ActiveCommitSHA string
	RejectedSHA     string
}
