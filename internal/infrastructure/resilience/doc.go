/*
Package resilience provides a circuit breaker.

The broker uses it around shell spawns: when the OS keeps refusing to start
processes (fd or pid exhaustion, a missing shell binary) further spawns fail
fast for a cooldown instead of hammering the system.

# Usage

	breaker := resilience.New("spawn", resilience.Settings{
		Threshold: 5,
		Cooldown:  10 * time.Second,
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("Breaker state changed", zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})

	proc, err := resilience.Do(breaker, func() (*Process, error) {
		return start(cmd)
	})

# States

	Closed --[Threshold consecutive failures]--> Open --[Cooldown]--> Half-Open
	Half-Open --[success]--> Closed
	Half-Open --[failure]--> Open
*/
package resilience
