package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/ledmatrix/pkg/async"
	"github.com/platinummonkey/ledmatrix/pkg/installer"
	"github.com/platinummonkey/ledmatrix/pkg/marketplace"
	"github.com/platinummonkey/ledmatrix/pkg/observability"
	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// StagingPrefix names in-progress install directories under the plugins root
	StagingPrefix = ".staging-"

	DefaultUpdateConcurrency = 4
	DefaultUpdateTimeout     = 10 * time.Minute
)

// Orchestrator installs, updates and removes plugins under one plugins root.
// Operations on different identifiers may run concurrently.
type Orchestrator struct {
	pluginsDir string
	registry   *marketplace.Client
	resolver   *marketplace.Resolver
	installer  *installer.Installer
	validator  *plugins.Validator
	deps       *plugins.DependencyInstaller
	loader     *plugins.Loader
	metrics    *observability.Metrics
	tracer     trace.Tracer
	states     *stateTracker
	log        *logrus.Logger

	updateConcurrency int
	updateTimeout     time.Duration
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithMetrics records operation metrics
func WithMetrics(metrics *observability.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithDependencyInstaller replaces the default dependency installer
func WithDependencyInstaller(deps *plugins.DependencyInstaller) Option {
	return func(o *Orchestrator) {
		o.deps = deps
	}
}

// WithTracer replaces the tracer taken from the global provider
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithUpdateConcurrency bounds how many plugins UpdateAll updates at once
func WithUpdateConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.updateConcurrency = n
		}
	}
}

// WithUpdateTimeout bounds each update run by UpdateAll
func WithUpdateTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.updateTimeout = timeout
		}
	}
}

// New creates an orchestrator over the loader's plugins root
func New(registry *marketplace.Client, resolver *marketplace.Resolver, inst *installer.Installer, loader *plugins.Loader, log *logrus.Logger, opts ...Option) *Orchestrator {
	if log == nil {
		log = logrus.New()
	}

	o := &Orchestrator{
		pluginsDir:        loader.PluginsDir(),
		registry:          registry,
		resolver:          resolver,
		installer:         inst,
		validator:         plugins.NewValidator(log),
		deps:              plugins.NewDependencyInstaller(log),
		loader:            loader,
		tracer:            observability.Tracer(),
		states:            newStateTracker(),
		log:               log,
		updateConcurrency: DefaultUpdateConcurrency,
		updateTimeout:     DefaultUpdateTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Loader returns the plugin loader
func (o *Orchestrator) Loader() *plugins.Loader {
	return o.loader
}

// Install installs id at version, or at the latest version when version is
// empty. An existing installation is replaced only after the new files
// validate; on failure it is left untouched and nothing partial remains.
func (o *Orchestrator) Install(ctx context.Context, id, version string) (result InstallResult) {
	ctx, span := o.start(ctx, "install", id)
	start := time.Now()
	defer func() { o.finish(span, "install", start, installOutcome(result), result.Error) }()
	defer observability.RecoverPanicWithCallback(o.log, "install "+id, func(err error) {
		result = o.installFailed(id, version, plugins.NewError(plugins.KindInternal, "install", id, err))
	})

	if err := checkID(id); err != nil {
		return o.installFailed(id, version, err)
	}

	o.states.set(id, StateInstalling, nil)

	record, err := o.registry.GetPlugin(ctx, id)
	if err != nil {
		return o.installFailed(id, version, err)
	}

	var entry marketplace.VersionEntry
	if version == "" {
		entry, err = o.resolver.ResolveLatestVersion(ctx, record)
		if err != nil {
			return o.installFailed(id, version, err)
		}
	} else {
		entry = o.resolver.ResolveVersion(record, version)
	}

	return o.installStaged(ctx, id, record, entry)
}

// InstallFromURL installs a plugin straight from a repository. subPath selects
// a plugin inside a mono-repo. The installed identifier comes from the manifest.
func (o *Orchestrator) InstallFromURL(ctx context.Context, repoURL, branch, subPath string) (result InstallResult) {
	ctx, span := o.start(ctx, "install_from_url", "")
	span.SetAttributes(attribute.String("plugin.repo", repoURL))
	start := time.Now()
	defer func() { o.finish(span, "install_from_url", start, installOutcome(result), result.Error) }()
	defer observability.RecoverPanicWithCallback(o.log, "install from "+repoURL, func(err error) {
		result = o.installFailed(result.PluginID, "", plugins.NewError(plugins.KindInternal, "install", result.PluginID, err))
	})

	if strings.TrimSpace(repoURL) == "" {
		return o.installFailed("", "", plugins.NewError(plugins.KindValidationFailure, "install", "", errors.New("repository URL is required")))
	}

	record := &marketplace.PluginRecord{
		ID:         repoPluginID(repoURL, subPath),
		Repo:       repoURL,
		Branch:     branch,
		PluginPath: subPath,
		Source:     repoURL,
	}

	return o.installStaged(ctx, "", record, marketplace.VersionEntry{})
}

// installStaged installs record into a staging directory, validates it and
// swaps it into place. An empty id takes the identifier from the manifest.
func (o *Orchestrator) installStaged(ctx context.Context, id string, record *marketplace.PluginRecord, entry marketplace.VersionEntry) InstallResult {
	log := o.log.WithFields(logrus.Fields{"plugin_id": record.ID, "version": entry.Version})

	staging := filepath.Join(o.pluginsDir, StagingPrefix+uuid.NewString())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return o.installFailed(stateID(id, record.ID), entry.Version, plugins.NewError(plugins.KindInternal, "install", id, err))
	}
	defer os.RemoveAll(staging)
	staged := filepath.Join(staging, "plugin")

	res := o.installer.Install(ctx, record, entry, staged)
	if !res.Success {
		return o.installFailed(stateID(id, record.ID), entry.Version, res.Error)
	}

	manifest, err := o.validator.ValidateDir(staged)
	if err != nil {
		return o.installFailed(stateID(id, record.ID), entry.Version, err)
	}

	if id == "" {
		id = manifest.ID
		if err := checkID(id); err != nil {
			return o.installFailed(record.ID, entry.Version, err)
		}
	} else if manifest.ID != id {
		log.Warnf("Manifest id %q differs from requested id, keeping %q", manifest.ID, id)
	}

	target := filepath.Join(o.pluginsDir, id)
	if existing, err := o.loader.ResolveDir(id); err == nil {
		target = existing
	}

	o.loader.Unload(id)
	if err := swapDir(staged, target, filepath.Join(staging, "previous")); err != nil {
		return o.installFailed(id, entry.Version, plugins.NewError(plugins.KindPartialInstall, "install", id, err))
	}

	version := manifest.Version
	if version == "" {
		version = marketplace.StripV(entry.Version)
	}

	result := InstallResult{
		PluginID: id,
		Success:  true,
		Version:  version,
		Path:     target,
		Strategy: res.Strategy,
	}
	result.DependenciesInstalled, result.DependencyError = o.installDependencies(ctx, target)

	o.states.set(id, StateInstalled, nil)
	o.refreshInstalled()
	log.WithFields(logrus.Fields{"path": target, "strategy": res.Strategy}).Info("Installed plugin")
	return result
}

// Update brings an installed plugin to its newest version. Branch checkouts
// are compared against their remote and pulled; everything else is compared
// against the resolved latest version and reinstalled when it differs.
func (o *Orchestrator) Update(ctx context.Context, id string) (result UpdateResult) {
	ctx, span := o.start(ctx, "update", id)
	start := time.Now()
	defer func() { o.finish(span, "update", start, string(result.Outcome), result.Error) }()
	defer observability.RecoverPanicWithCallback(o.log, "update "+id, func(err error) {
		result = o.updateFailed(id, result.PreviousVersion, plugins.NewError(plugins.KindInternal, "update", id, err))
	})

	root, err := o.loader.ResolveDir(id)
	if err != nil {
		return UpdateResult{PluginID: id, Outcome: OutcomeFailed, Error: err}
	}

	manifest, err := plugins.LoadManifestFromDir(root)
	if err != nil {
		return o.updateFailed(id, "", plugins.NewError(plugins.KindValidationFailure, "update", id, err))
	}
	previous := manifest.Version
	log := o.log.WithFields(logrus.Fields{"plugin_id": id, "version": previous})

	o.states.set(id, StateUpdating, nil)

	if o.installer.IsTrackable(ctx, root) {
		if res, ok := o.updateCheckout(ctx, id, root, previous); ok {
			return res
		}
	}

	record, err := o.registry.GetPlugin(ctx, id)
	if err != nil {
		return o.updateFailed(id, previous, err)
	}
	latest, err := o.resolver.ResolveLatestVersion(ctx, record)
	if err != nil {
		return o.updateFailed(id, previous, err)
	}

	if marketplace.SameVersion(latest.Version, previous) {
		log.Info("Plugin is up to date")
		o.states.set(id, StateInstalled, nil)
		return UpdateResult{PluginID: id, Outcome: OutcomeUpToDate, PreviousVersion: previous, Version: previous}
	}

	if marketplace.CompareVersions(latest.Version, previous) < 0 {
		log.Warnf("Latest published version %s is older than the installed one, reinstalling it", latest.Version)
	} else {
		log.Infof("Updating to %s", latest.Version)
	}
	install := o.installStaged(ctx, id, record, latest)
	if !install.Success {
		return o.updateFailed(id, previous, install.Error)
	}

	return UpdateResult{
		PluginID:              id,
		Outcome:               OutcomeUpdated,
		PreviousVersion:       previous,
		Version:               install.Version,
		Method:                "reinstall",
		DependenciesInstalled: install.DependenciesInstalled,
		DependencyError:       install.DependencyError,
	}
}

// updateCheckout updates a branch checkout in place. ok is false when the
// remote could not be reached or the pull failed, so the caller falls back
// to a reinstall.
func (o *Orchestrator) updateCheckout(ctx context.Context, id, root, previous string) (UpdateResult, bool) {
	log := o.log.WithField("plugin_id", id)

	behind, err := o.installer.CheckForUpdate(ctx, root)
	if err != nil {
		log.Warnf("Could not check remote for updates, falling back to reinstall: %v", err)
		return UpdateResult{}, false
	}
	if !behind {
		log.Info("Checkout is up to date")
		o.states.set(id, StateInstalled, nil)
		return UpdateResult{PluginID: id, Outcome: OutcomeUpToDate, PreviousVersion: previous, Version: previous, Method: "pull"}, true
	}

	if err := o.installer.Pull(ctx, root); err != nil {
		log.Warnf("Pull failed, falling back to reinstall: %v", err)
		return UpdateResult{}, false
	}

	manifest, err := o.validator.ValidateDir(root)
	if err != nil {
		return o.updateFailed(id, previous, err), true
	}

	o.loader.Unload(id)
	o.deps.Reset(root)
	result := UpdateResult{
		PluginID:        id,
		Outcome:         OutcomeUpdated,
		PreviousVersion: previous,
		Version:         manifest.Version,
		Method:          "pull",
	}
	result.DependenciesInstalled, result.DependencyError = o.installDependencies(ctx, root)

	o.states.set(id, StateInstalled, nil)
	log.Infof("Pulled update %s -> %s", previous, manifest.Version)
	return result, true
}

// Uninstall unloads id and removes its directory. Uninstalling something that
// is not installed succeeds. Installed dependencies are not rolled back.
func (o *Orchestrator) Uninstall(ctx context.Context, id string) (err error) {
	_, span := o.start(ctx, "uninstall", id)
	start := time.Now()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = "failed"
		}
		o.finish(span, "uninstall", start, outcome, err)
	}()
	defer observability.RecoverPanicWithCallback(o.log, "uninstall "+id, func(perr error) {
		err = plugins.NewError(plugins.KindInternal, "uninstall", id, perr)
		o.states.set(id, StateFailed, err)
	})

	o.loader.Unload(id)

	root, err := o.loader.ResolveDir(id)
	if err != nil {
		if plugins.IsKind(err, plugins.KindNotFound) {
			o.states.set(id, StateAbsent, nil)
			return nil
		}
		return err
	}

	if err := os.RemoveAll(root); err != nil {
		err = plugins.NewError(plugins.KindInternal, "uninstall", id, err)
		o.states.set(id, StateFailed, err)
		return err
	}

	o.states.set(id, StateAbsent, nil)
	o.refreshInstalled()
	o.log.WithField("plugin_id", id).Info("Uninstalled plugin")
	return nil
}

// UpdateAll updates every installed plugin, several at a time. Results are in
// identifier order.
func (o *Orchestrator) UpdateAll(ctx context.Context) ([]UpdateResult, error) {
	installed, err := o.loader.Discover()
	if err != nil {
		return nil, plugins.NewError(plugins.KindInternal, "update all", "", err)
	}

	ids := make([]string, len(installed))
	for i, p := range installed {
		ids[i] = p.ID
	}

	results := async.Map(ctx, ids, o.updateConcurrency, "plugin update", o.updateTimeout,
		func(ctx context.Context, id string) UpdateResult {
			return o.Update(ctx, id)
		})

	for i := range results {
		// a task that never ran leaves a zero result
		if results[i].PluginID == "" {
			results[i] = UpdateResult{PluginID: ids[i], Outcome: OutcomeFailed,
				Error: plugins.NewError(plugins.KindInternal, "update", ids[i], errors.New("update did not run"))}
		}
	}
	return results, nil
}

// ListInstalled lists plugins present on disk
func (o *Orchestrator) ListInstalled() ([]plugins.InstalledPlugin, error) {
	return o.loader.Discover()
}

// Status returns the last recorded state of id, or what is on disk when no
// operation has touched it yet
func (o *Orchestrator) Status(id string) Status {
	if status, ok := o.states.get(id); ok {
		return status
	}
	state := StateAbsent
	if _, err := o.loader.ResolveDir(id); err == nil {
		state = StateInstalled
	}
	return Status{PluginID: id, State: state}
}

// Statuses returns every recorded state
func (o *Orchestrator) Statuses() []Status {
	return o.states.list()
}

// Load loads an installed plugin and instantiates its class
func (o *Orchestrator) Load(ctx context.Context, id string, host plugins.HostCollaborators) (*plugins.Instance, error) {
	instance, err := o.loader.LoadPlugin(ctx, id, nil, "", host)
	o.metrics.RecordLoad(err)
	return instance, err
}

func (o *Orchestrator) installDependencies(ctx context.Context, root string) (bool, string) {
	start := time.Now()
	ok, err := o.deps.InstallDependencies(ctx, root)
	o.metrics.RecordDependencyInstall(ok, time.Since(start))
	if err != nil {
		return ok, err.Error()
	}
	return ok, ""
}

func (o *Orchestrator) installFailed(id, version string, err error) InstallResult {
	o.log.WithFields(logrus.Fields{"plugin_id": id, "version": version}).Errorf("Install failed: %v", err)
	if id != "" {
		o.states.set(id, StateFailed, err)
	}
	return InstallResult{PluginID: id, Success: false, Version: version, Error: err}
}

func (o *Orchestrator) updateFailed(id, previous string, err error) UpdateResult {
	o.log.WithField("plugin_id", id).Errorf("Update failed: %v", err)
	o.states.set(id, StateFailed, err)
	return UpdateResult{PluginID: id, Outcome: OutcomeFailed, PreviousVersion: previous, Error: err}
}

func (o *Orchestrator) refreshInstalled() {
	if o.metrics == nil {
		return
	}
	if installed, err := o.loader.Discover(); err == nil {
		o.metrics.SetInstalled(len(installed))
	}
}

func (o *Orchestrator) start(ctx context.Context, op, id string) (context.Context, trace.Span) {
	ctx = observability.WithOperationID(ctx, uuid.NewString())
	ctx, span := o.tracer.Start(ctx, "lifecycle."+op)
	if id != "" {
		span.SetAttributes(attribute.String("plugin.id", id))
	}
	return ctx, span
}

func (o *Orchestrator) finish(span trace.Span, op string, start time.Time, outcome string, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(plugins.KindOf(err)))
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	span.End()
	o.metrics.RecordOperation(op, outcome, time.Since(start))
}

func installOutcome(result InstallResult) string {
	if result.Success {
		return "success"
	}
	return "failed"
}

// swapDir moves staged to target. An existing target is moved to backup first
// and restored if the second rename fails.
func swapDir(staged, target, backup string) error {
	if _, err := os.Stat(target); err != nil {
		return os.Rename(staged, target)
	}

	if err := os.Rename(target, backup); err != nil {
		return fmt.Errorf("failed to move aside %s: %w", target, err)
	}
	if err := os.Rename(staged, target); err != nil {
		if restoreErr := os.Rename(backup, target); restoreErr != nil {
			return fmt.Errorf("failed to swap in %s: %v; restore failed: %w", target, err, restoreErr)
		}
		return fmt.Errorf("failed to swap in %s: %w", target, err)
	}
	return nil
}

// checkID rejects identifiers that cannot name a directory under the plugins root
func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") || strings.ContainsAny(id, `/\`) {
		return plugins.NewError(plugins.KindValidationFailure, "install", id, fmt.Errorf("invalid plugin id %q", id))
	}
	return nil
}

// repoPluginID guesses an identifier for logging before the manifest is read
func repoPluginID(repoURL, subPath string) string {
	if subPath != "" {
		return path.Base(strings.Trim(subPath, "/"))
	}
	name := path.Base(strings.TrimSuffix(strings.TrimSuffix(repoURL, "/"), ".git"))
	return strings.TrimPrefix(name, plugins.DirPrefix)
}

func stateID(id, fallback string) string {
	if id != "" {
		return id
	}
	return fallback
}
