// Package lifecycle coordinates plugin installs, updates and removals.
//
// An Orchestrator ties the registry client, version resolver, installer,
// manifest validator, dependency installer and loader together. Installs are
// staged in a hidden directory under the plugins root and swapped into place
// only after the manifest validates, so a failed install never leaves a
// partial plugin behind and never disturbs an existing one.
//
// Updates take one of two paths. A branch checkout is compared with its remote
// and pulled when behind; anything else is compared against the latest
// resolved version and reinstalled through the staged path. An up-to-date
// plugin is never written to.
//
// Scheduler runs UpdateAll on a cron schedule.
package lifecycle
