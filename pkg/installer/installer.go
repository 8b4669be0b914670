package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/platinummonkey/ledmatrix/pkg/httputil"
	"github.com/platinummonkey/ledmatrix/pkg/marketplace"
	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/sirupsen/logrus"
)

// Strategy is how plugin files were obtained
type Strategy string

const (
	StrategyMonoRepo Strategy = "monorepo"
	StrategyCheckout Strategy = "checkout"
	StrategyArchive  Strategy = "archive"
)

// Result describes one install attempt
type Result struct {
	Success  bool     `json:"success"`
	Version  string   `json:"version,omitempty"`
	Strategy Strategy `json:"strategy,omitempty"`
	Ref      string   `json:"ref,omitempty"`
	Error    error    `json:"-"`
}

// Installer materializes a plugin version into a directory
type Installer struct {
	host    *marketplace.RepoHost
	fetcher *httputil.Fetcher
	git     GitRunner
	useGit  bool
	log     *logrus.Logger
}

// Option configures an Installer
type Option func(*Installer)

// WithGit sets the version-control client. A nil runner disables checkouts.
func WithGit(git GitRunner) Option {
	return func(i *Installer) {
		i.git = git
	}
}

// WithCheckouts enables or disables checkout installs
func WithCheckouts(enabled bool) Option {
	return func(i *Installer) {
		i.useGit = enabled
	}
}

// New creates an installer. fetcher downloads archives; host builds their URLs.
func New(host *marketplace.RepoHost, fetcher *httputil.Fetcher, log *logrus.Logger, opts ...Option) *Installer {
	if log == nil {
		log = logrus.New()
	}
	i := &Installer{
		host:    host,
		fetcher: fetcher,
		git:     NewExecGit(),
		useGit:  true,
		log:     log,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Git returns the version-control client, or nil when checkouts are disabled
func (i *Installer) Git() GitRunner {
	if !i.checkoutsEnabled() {
		return nil
	}
	return i.git
}

func (i *Installer) checkoutsEnabled() bool {
	return i.useGit && i.git != nil && i.git.Available()
}

// Install places the files of record at entry's version into dest, which must
// not exist. On failure dest does not exist afterwards.
func (i *Installer) Install(ctx context.Context, record *marketplace.PluginRecord, entry marketplace.VersionEntry, dest string) Result {
	log := i.log.WithFields(logrus.Fields{"plugin_id": record.ID, "version": entry.Version})

	if _, err := os.Stat(dest); err == nil {
		return failed(entry, "", plugins.NewError(plugins.KindInternal, "install", record.ID,
			fmt.Errorf("destination %s already exists", dest)))
	}

	var result Result
	switch {
	case record.PluginPath != "":
		result = i.installMonoRepo(ctx, record, entry, dest)
	case i.checkoutsEnabled():
		result = i.installCheckout(ctx, record, entry, dest)
		if !result.Success {
			log.Warnf("Checkout failed, downloading archive instead: %v", result.Error)
			result = i.installArchive(ctx, record, entry, dest)
		}
	default:
		result = i.installArchive(ctx, record, entry, dest)
	}

	if !result.Success {
		os.RemoveAll(dest)
		return result
	}

	if _, err := os.Stat(filepath.Join(dest, plugins.ManifestFileName)); err != nil {
		os.RemoveAll(dest)
		return failed(entry, result.Strategy, plugins.NewError(plugins.KindPartialInstall, "install", record.ID,
			fmt.Errorf("%w after %s install", plugins.ErrManifestNotFound, result.Strategy)))
	}

	log.WithField("strategy", result.Strategy).Info("Installed plugin files")
	return result
}

// installMonoRepo downloads the branch archive and keeps only the plugin's sub-directory
func (i *Installer) installMonoRepo(ctx context.Context, record *marketplace.PluginRecord, entry marketplace.VersionEntry, dest string) Result {
	branch := record.DefaultBranch()
	archiveURL, err := i.host.BranchArchiveURL(record.Repo, branch)
	if err != nil {
		return failed(entry, StrategyMonoRepo, plugins.NewError(plugins.KindInternal, "install", record.ID, err))
	}

	scratch, cleanup, err := i.downloadAndExtract(ctx, archiveURL, dest)
	if err != nil {
		return failed(entry, StrategyMonoRepo, withPluginID(err, record.ID))
	}
	defer cleanup()

	root, err := contentRoot(scratch)
	if err != nil {
		return failed(entry, StrategyMonoRepo, plugins.NewError(plugins.KindInternal, "install", record.ID, err))
	}

	subPath := strings.Trim(path.Clean("/"+record.PluginPath), "/")
	src, err := safeJoin(root, subPath)
	if err != nil {
		return failed(entry, StrategyMonoRepo, plugins.NewError(plugins.KindValidationFailure, "install", record.ID, err))
	}
	if info, err := os.Stat(src); err != nil || !info.IsDir() {
		return failed(entry, StrategyMonoRepo, plugins.NewError(plugins.KindNotFound, "install", record.ID,
			fmt.Errorf("plugin path %q not found in %s archive", record.PluginPath, branch)))
	}

	if err := moveTree(src, dest); err != nil {
		return failed(entry, StrategyMonoRepo, plugins.NewError(plugins.KindPartialInstall, "install", record.ID, err))
	}

	return Result{Success: true, Version: entry.Version, Strategy: StrategyMonoRepo, Ref: branch}
}

// checkoutRefs lists the refs to try in order. The trailing empty ref is the
// remote default branch and is only tried when a specific ref was wanted.
func checkoutRefs(record *marketplace.PluginRecord, version string) []string {
	var refs []string
	seen := map[string]bool{}
	add := func(ref string) {
		if ref != "" && !seen[ref] {
			seen[ref] = true
			refs = append(refs, ref)
		}
	}

	if v := marketplace.StripV(version); v != "" {
		add("v" + v)
		add(v)
	}
	add(record.Branch)
	add("main")
	add("master")

	if len(refs) > 0 {
		refs = append(refs, "")
	}
	return refs
}

func (i *Installer) installCheckout(ctx context.Context, record *marketplace.PluginRecord, entry marketplace.VersionEntry, dest string) Result {
	cloneURL, err := i.host.CloneURL(record.Repo)
	if err != nil {
		return failed(entry, StrategyCheckout, plugins.NewError(plugins.KindInternal, "install", record.ID, err))
	}

	var lastErr error
	for _, ref := range checkoutRefs(record, entry.Version) {
		err := i.git.Clone(ctx, cloneURL, ref, dest)
		if err == nil {
			return Result{Success: true, Version: entry.Version, Strategy: StrategyCheckout, Ref: ref}
		}
		lastErr = err
		os.RemoveAll(dest)
		i.log.WithField("plugin_id", record.ID).Debugf("Clone at %q failed: %v", ref, err)

		if ctx.Err() != nil {
			break
		}
	}

	return failed(entry, StrategyCheckout, plugins.NewError(plugins.KindNotFound, "install", record.ID,
		fmt.Errorf("no ref could be cloned: %w", lastErr)))
}

// archiveURLs lists download candidates in order, without duplicates
func (i *Installer) archiveURLs(record *marketplace.PluginRecord, entry marketplace.VersionEntry) []string {
	var urls []string
	seen := map[string]bool{}
	add := func(u string, err error) {
		if err == nil && u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}

	add(entry.DownloadURL, nil)
	if v := marketplace.StripV(entry.Version); v != "" {
		add(i.host.TagArchiveURL(record.Repo, "v"+v))
	}
	branch := record.DefaultBranch()
	add(i.host.BranchArchiveURL(record.Repo, branch))
	alternate := "master"
	if branch == "master" {
		alternate = "main"
	}
	add(i.host.BranchArchiveURL(record.Repo, alternate))
	return urls
}

// installArchive tries each candidate; only a missing archive moves on to the next
func (i *Installer) installArchive(ctx context.Context, record *marketplace.PluginRecord, entry marketplace.VersionEntry, dest string) Result {
	var lastErr error
	for _, archiveURL := range i.archiveURLs(record, entry) {
		scratch, cleanup, err := i.downloadAndExtract(ctx, archiveURL, dest)
		if err != nil {
			lastErr = withPluginID(err, record.ID)
			if plugins.IsKind(err, plugins.KindNotFound) {
				i.log.WithField("plugin_id", record.ID).Debugf("No archive at %s", archiveURL)
				continue
			}
			return failed(entry, StrategyArchive, lastErr)
		}

		root, err := contentRoot(scratch)
		if err == nil {
			err = moveTree(root, dest)
		}
		cleanup()
		if err != nil {
			return failed(entry, StrategyArchive, plugins.NewError(plugins.KindPartialInstall, "install", record.ID, err))
		}
		return Result{Success: true, Version: entry.Version, Strategy: StrategyArchive, Ref: archiveURL}
	}

	if lastErr == nil {
		lastErr = plugins.NewError(plugins.KindNotFound, "install", record.ID, errors.New("no archive candidates"))
	}
	return failed(entry, StrategyArchive, lastErr)
}

// downloadAndExtract fetches archiveURL and unpacks it into a scratch
// directory next to dest, so the final move is a rename
func (i *Installer) downloadAndExtract(ctx context.Context, archiveURL, dest string) (string, func(), error) {
	parent := filepath.Dir(dest)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return "", nil, plugins.NewError(plugins.KindInternal, "download", "", err)
	}

	scratch := filepath.Join(parent, ".extract-"+uuid.NewString())
	cleanup := func() { os.RemoveAll(scratch) }

	if err := os.MkdirAll(scratch, 0755); err != nil {
		return "", nil, plugins.NewError(plugins.KindInternal, "download", "", err)
	}

	archivePath := scratch + ".zip"
	defer os.Remove(archivePath)

	if err := i.fetcher.DownloadFile(ctx, archiveURL, archivePath); err != nil {
		cleanup()
		return "", nil, err
	}

	if err := extractArchive(archivePath, scratch); err != nil {
		cleanup()
		return "", nil, plugins.NewError(plugins.KindValidationFailure, "extract", "", err)
	}

	return scratch, cleanup, nil
}

func failed(entry marketplace.VersionEntry, strategy Strategy, err error) Result {
	return Result{Success: false, Version: entry.Version, Strategy: strategy, Error: err}
}

// withPluginID stamps a plugin id onto a typed error that lacks one
func withPluginID(err error, id string) error {
	var pe *plugins.Error
	if errors.As(err, &pe) && pe.PluginID == "" {
		return plugins.NewError(pe.Kind, pe.Op, id, pe.Err)
	}
	return err
}
