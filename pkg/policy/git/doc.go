// Package git serves transaction rules from a Git repository.
//
// The repository is cloned into a local checkout and read through a
// store.FileBackend. A Watcher polls the tracked branch; when a new commit
// touches a YAML bundle under the configured path, the store is reloaded.
// A commit that fails validation is rolled back in the checkout and the
// store keeps its previous snapshot, so a bad push never reaches the
// evaluation path.
//
// # Basic Usage
//
//	repo, err := git.NewRepository(&cfg.Rules.Git, logger)
//	if err != nil {
//		return err
//	}
//	if err := repo.Sync(ctx); err != nil {
//		return err
//	}
//	backend, err := repo.Backend()
//	if err != nil {
//		return err
//	}
//	st, err := store.New(ctx, store.Config{Backend: backend})
//	if err != nil {
//		return err
//	}
//	w := git.NewWatcher(repo, st, cfg.Rules.Git.Poll.Interval, logger)
//	if err := w.Start(ctx); err != nil {
//		return err
//	}
//	defer w.Stop()
//
// # Authentication
//
//   - token: HTTPS basic auth with a personal access token
//   - ssh: public key authentication from a key file
//   - none: public repositories
//
// Use one branch per environment (for example dev, staging and main) and
// point each deployment at its branch.
package git
