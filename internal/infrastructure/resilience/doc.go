/*
Package resilience provides the circuit breaker that guards remote VFS fetches.

When the remote origin goes away, a guest would otherwise pay the full
request timeout for every path its bootstrap probes. The breaker opens after
repeated transport failures so those probes fail fast. The VFS treats an
open breaker as a transient miss and asks again once it closes.

# Usage

	breaker := resilience.New("vfs-remote", resilience.Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	body, err := resilience.Call(breaker, func() ([]byte, error) {
		return fetch(ctx, path)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           v
	                                         Open
*/
package resilience
