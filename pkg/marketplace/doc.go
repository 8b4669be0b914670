// Package marketplace reads plugin registries and resolves plugin versions.
//
// # Overview
//
// A registry is a JSON index with a plugins array. The official index lives at a
// well-known URL; custom registries are repositories with a plugins.json at
// their root. Records from every registry are kept side by side and tagged with
// the registry they came from.
//
// # Caching
//
// Fetched indexes are served from an IndexStore for DefaultIndexTTL. MemoryStore
// keeps them in process; RedisStore shares them between host processes. When a
// fetch fails the last good index is used, so lookups never fail on network
// errors alone.
//
// # Version Resolution
//
// Registries lag behind repositories, so the Resolver asks the repository host
// first: newest non-draft release, then the first tag, then the registry's
// latest_version and version list.
//
// # Usage Example
//
//	client := marketplace.NewClient("", fetcher, host, logger,
//		marketplace.WithCustomRegistries("https://github.com/me/my-plugins"))
//	results := client.Search(ctx, marketplace.SearchQuery{Query: "clock"})
//
//	resolver := marketplace.NewResolver(host, logger)
//	entry, err := resolver.ResolveLatestVersion(ctx, &results[0])
//
// # Related Packages
//
//   - pkg/installer: installs a resolved version
//   - pkg/lifecycle: drives install and update
package marketplace
