package marketplace

import (
	"context"
	"fmt"
	"path"
	"sort"

	"github.com/platinummonkey/ledmatrix/pkg/plugins"
	"github.com/sirupsen/logrus"
)

// Resolver decides which version of a plugin to install. The repository host
// is consulted first because registry indexes lag behind releases.
type Resolver struct {
	host *RepoHost
	log  *logrus.Logger
}

// NewResolver creates a version resolver. A nil host limits resolution to the registry record.
func NewResolver(host *RepoHost, log *logrus.Logger) *Resolver {
	if log == nil {
		log = logrus.New()
	}
	return &Resolver{host: host, log: log}
}

// ResolveLatestVersion picks the newest version of record from, in order: the
// newest published release, the first repository tag, the registry's
// latest_version, the first registry version entry. Remote failures fall through
// to the next source.
func (r *Resolver) ResolveLatestVersion(ctx context.Context, record *PluginRecord) (VersionEntry, error) {
	log := r.log.WithField("plugin_id", record.ID)

	if tag, ok := r.latestRelease(ctx, record, log); ok {
		log.Debugf("Resolved %s from releases", tag)
		return r.entryFor(record, tag), nil
	}

	if tag, ok := r.firstTag(ctx, record, log); ok {
		log.Debugf("Resolved %s from tags", tag)
		return r.entryFor(record, tag), nil
	}

	if record.LatestVersion != "" {
		return r.entryFor(record, record.LatestVersion), nil
	}

	if len(record.Versions) > 0 {
		return record.Versions[0], nil
	}

	return VersionEntry{}, plugins.NewError(plugins.KindNotFound, "resolve version", record.ID,
		fmt.Errorf("no releases, tags or registry versions"))
}

// ResolveVersion returns the entry for an explicitly requested version,
// synthesizing one when the registry does not list it
func (r *Resolver) ResolveVersion(record *PluginRecord, version string) VersionEntry {
	return r.entryFor(record, version)
}

func (r *Resolver) latestRelease(ctx context.Context, record *PluginRecord, log *logrus.Entry) (string, bool) {
	if r.host == nil || record.Repo == "" {
		return "", false
	}

	releases, err := r.host.Releases(ctx, record.Repo)
	if err != nil {
		log.Debugf("Release lookup failed: %v", err)
		return "", false
	}

	published := make([]Release, 0, len(releases))
	for _, release := range releases {
		if release.Draft || release.Prerelease || release.TagName == "" {
			continue
		}
		published = append(published, release)
	}
	if len(published) == 0 {
		return "", false
	}

	sort.SliceStable(published, func(i, j int) bool {
		return published[i].PublishedAt.After(published[j].PublishedAt)
	})
	return published[0].TagName, true
}

func (r *Resolver) firstTag(ctx context.Context, record *PluginRecord, log *logrus.Entry) (string, bool) {
	if r.host == nil || record.Repo == "" {
		return "", false
	}

	tags, err := r.host.Tags(ctx, record.Repo)
	if err != nil {
		log.Debugf("Tag lookup failed: %v", err)
		return "", false
	}

	// Tags carry no dates; the host's first tag is taken as is
	for _, tag := range tags {
		if tag.Name != "" {
			return tag.Name, true
		}
	}
	return "", false
}

// entryFor returns the registry's entry for version or synthesizes one whose
// download URL is the tag archive
func (r *Resolver) entryFor(record *PluginRecord, version string) VersionEntry {
	if entry, ok := record.VersionEntryFor(version); ok {
		return entry
	}

	entry := VersionEntry{Version: StripV(version), Synthesized: true}
	if r.host != nil && record.Repo != "" {
		if archive, err := r.host.TagArchiveURL(record.Repo, version); err == nil {
			entry.DownloadURL = archive
		}
	}
	return entry
}

// FetchRemoteManifest reads the plugin's manifest from the repository at ref
func (r *Resolver) FetchRemoteManifest(ctx context.Context, record *PluginRecord, ref string) (*plugins.Manifest, error) {
	if r.host == nil {
		return nil, plugins.NewError(plugins.KindInternal, "fetch manifest", record.ID, fmt.Errorf("no repository host configured"))
	}
	if ref == "" {
		ref = record.DefaultBranch()
	}

	data, err := r.host.GetRaw(ctx, record.Repo, ref, path.Join(record.PluginPath, plugins.ManifestFileName))
	if err != nil {
		return nil, err
	}

	manifest, err := plugins.ParseManifest(data)
	if err != nil {
		return nil, plugins.NewError(plugins.KindValidationFailure, "fetch manifest", record.ID, err)
	}
	return manifest, nil
}
