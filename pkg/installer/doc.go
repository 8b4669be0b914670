// Package installer places plugin files on disk.
//
// A plugin is obtained in one of three ways, chosen from its registry record:
//
//   - monorepo: the plugin lives in a sub-directory of a shared repository; the
//     branch archive is downloaded and only that sub-directory is kept
//   - checkout: a shallow clone at the first ref that exists out of v<version>,
//     <version>, the declared branch, main and master
//   - archive: a zip or tar.gz download, tried from the release URL, the tag
//     archive and then the branch archives
//
// Failed checkouts fall back to archives. Extraction happens in a scratch
// directory beside the destination and is moved into place with a rename, so a
// failed install never leaves a partial plugin directory behind.
package installer
