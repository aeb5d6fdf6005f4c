// Package identity links this device to the user's account through the OAuth
// device authorization grant and keeps the resulting tokens fresh.
//
// A Session moves through Idle, AwaitingUserAction, Polling, and one of
// Authenticated, Expired, or Failed. Polling can run synchronously
// (WaitForAuthorization) or as a cancellable background Task that reports
// progress on a caller channel. Refreshes are serialized so concurrent callers
// share one in-flight refresh. Tokens persist through a TokenStore; the
// default FileTokenStore guards the JSON file with an advisory flock.
package identity
