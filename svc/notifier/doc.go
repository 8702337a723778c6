// Package notifier tells a post's owner that delivery terminally failed.
//
// The dispatch layer calls NotifyFailure exactly once per post, after the
// retry budget is exhausted or a permanent rejection is recorded.
// EmailNotifier is the production implementation; LogNotifier stands in
// during local development.
package notifier
