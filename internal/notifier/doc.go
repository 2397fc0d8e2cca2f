// Package notifier turns failed and degraded runs into operator alerts.
//
// Alerts go to one operator chat (telegram.group_log). The service subscribes to
// the event bus, so runs never wait on it. Identical alerts (same source, kind and
// error) are suppressed for a dedup window; sends are rate limited and retried
// with exponential backoff.
package notifier
