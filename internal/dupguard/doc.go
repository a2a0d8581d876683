// Package dupguard implements duplicate-send prevention.
//
// Every outbound message is checked against the guard before send and
// recorded after a send attempt. The policy mode comes from the campaign's
// duplicate_prevention_mode:
//
//   - per_campaign: deny phones already sent to within this campaign.
//   - persistent_per_user: deny phones the owner has ever sent to.
//   - off: allow everything.
//
// The service layer contains pure policy logic and depends on the
// Repository interface defined in repository.go. The sent-phone table is
// the source of truth; a per-owner Redis set is kept next to it as a fast
// membership probe. The set may be stale or unavailable, in which case the
// check falls through to the store.
package dupguard
