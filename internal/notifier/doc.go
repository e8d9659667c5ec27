// Package notifier delivers short, high-signal messages to the operator:
// claims, throttling, captchas, daily limits and forwarded error logs.
//
// # Pipeline
//
// Notify only enqueues. A small worker pool drains the queue through a
// rate limiter and retries failed sends with jittered backoff. Identical
// messages to the same target are suppressed for DedupWindow; with
// PersistDedup the suppression survives restarts through the store.
//
// # Transport
//
// Delivery goes through a transport.Sender: the telegram adapter when a bot
// token is configured, otherwise LogSender, which writes the text to the
// log.
//
// # History
//
// The service keeps a small in-memory history of sent messages for /status.
package notifier
