/*
Package resilience provides a circuit breaker for optional backends.

The Redis cache runs every command through a Breaker so a dead Redis fails
script cache calls immediately instead of stalling each run on network
timeouts.

# States

	Closed --[ReadyToTrip]-> Open --[Timeout]-> Half-Open --[MaxRequests successes]-> Closed
	                                               |
	                                           [failure]
	                                               v
	                                             Open

# Usage

	breaker := resilience.New("redis", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})

	value, err := resilience.Do(breaker, func() ([]byte, error) {
		return client.Get(ctx, key).Bytes()
	})
*/
package resilience
