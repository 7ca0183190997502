// Package authstate keeps a single cached view of the signed in user and
// coordinates sign in flows against a pluggable authentication Provider.
//
// User state:
//   - UserState holds the latest User published by the provider and replays
//     it to every new observer. Observers receive every later update in order
//     until the provider stream ends.
//   - CurrentUser is a cheap synchronous read of the cached value.
//
// Passwordless sign in:
//   - StoredCoordinator remembers the email a link was sent to in Storage and
//     reads it back when the link is completed, removing it afterwards. A
//     failed removal after a successful sign in is reported with
//     IsCleanupFailure so callers know the session exists.
//   - Coordinator is the storage free variant; callers pass the email when
//     completing the link.
//
// Errors:
//   - Every operation returns *Failure values tagged with a Kind. Use
//     errors.Is with the Err* sentinels, KindOf, or RichError to render a
//     go-errors value for transport layers.
//
// Extension points:
//   - ActivitySink receives success and failure events; sink errors are logged.
//   - WithFeatureGate disables individual sign in methods.
//   - HTTPController exposes the coordinator through go-router.
package authstate
