// Package poller implements the fetch-cast-deliver feed poller.
//
// A Poller owns one feed:
//   - Polls on a fixed interval, first tick one full interval after Start
//   - Keeps at most one non-forced cycle in flight
//   - Contains transport, validation and handler failures inside the cycle
//   - Reports every cycle to observers (logs, metrics)
package poller
