package installer

import (
	"context"
	"fmt"

	"github.com/platinummonkey/ledmatrix/pkg/plugins"
)

// IsTrackable reports whether the plugin at dir is a branch checkout that can
// be updated in place. Archive installs and tag checkouts are pinned.
func (i *Installer) IsTrackable(ctx context.Context, dir string) bool {
	git := i.Git()
	return git != nil && git.IsTrackable(ctx, dir)
}

// CheckForUpdate compares the checkout's commit with its remote branch. It
// reads only; the working tree is not modified.
func (i *Installer) CheckForUpdate(ctx context.Context, dir string) (bool, error) {
	git := i.Git()
	if git == nil {
		return false, plugins.NewError(plugins.KindInternal, "check update", "", fmt.Errorf("checkouts are disabled"))
	}

	local, err := git.LocalHead(ctx, dir)
	if err != nil {
		return false, plugins.NewError(plugins.KindInternal, "check update", "", err)
	}

	remote, err := git.RemoteHead(ctx, dir)
	if err != nil {
		return false, plugins.NewError(plugins.KindTransientNetwork, "check update", "", err)
	}

	return local != remote, nil
}

// Pull brings the checkout at dir up to its remote branch
func (i *Installer) Pull(ctx context.Context, dir string) error {
	git := i.Git()
	if git == nil {
		return plugins.NewError(plugins.KindInternal, "pull", "", fmt.Errorf("checkouts are disabled"))
	}
	if err := git.Pull(ctx, dir); err != nil {
		return plugins.NewError(plugins.KindTransientNetwork, "pull", "", err)
	}
	return nil
}
