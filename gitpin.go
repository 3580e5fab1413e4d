package forge

import (
	"context"
	"fmt"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

////////////////////////////////////////////////////////////////////////////////
// Source pinning (worktree mode)
////////////////////////////////////////////////////////////////////////////////

func ensureContextAlive(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func openLocalRepo(dir string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, nil
}

func resolveRevision(ctx context.Context, dir, revision string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, gitReadTimeout)
	defer cancel()
	if err := ensureContextAlive(runCtx); err != nil {
		return "", err
	}
	repo, err := openLocalRepo(dir)
	if err != nil {
		return "", err
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return "", fmt.Errorf("resolve revision %s: %w", revision, err)
	}
	if hash == nil {
		return "", fmt.Errorf("resolve revision %s: empty hash", revision)
	}
	return strings.TrimSpace(hash.String()), nil
}

// pinWorktreeToRevision force-checks-out the named revision and discards
// every local modification, returning the resolved commit hash. After it
// returns, the worktree content is a function of the revision alone.
func pinWorktreeToRevision(ctx context.Context, dir, revision string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, gitOpTimeout)
	defer cancel()
	if err := ensureContextAlive(runCtx); err != nil {
		return "", err
	}
	repo, err := openLocalRepo(dir)
	if err != nil {
		return "", err
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		return "", fmt.Errorf("resolve revision %s: %w", revision, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}
	checkoutErr := wt.Checkout(&gogit.CheckoutOptions{
		Hash:                      *hash,
		Branch:                    "",
		Create:                    false,
		Force:                     true,
		Keep:                      false,
		SparseCheckoutDirectories: nil,
	})
	if checkoutErr != nil {
		return "", fmt.Errorf("checkout %s: %w", revision, checkoutErr)
	}
	resetErr := wt.Reset(&gogit.ResetOptions{
		Commit: *hash,
		Mode:   gogit.HardReset,
		Files:  nil,
	})
	if resetErr != nil {
		return "", fmt.Errorf("reset --hard %s: %w", revision, resetErr)
	}
	ctxErr := ensureContextAlive(runCtx)
	if ctxErr != nil {
		return "", ctxErr
	}
	return hash.String(), nil
}
