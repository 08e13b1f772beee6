// Package terminal runs interactive shell sessions on pseudo-terminals
// and multiplexes their byte streams.
//
// Features:
//   - PTY-backed shells (bash, powershell.exe on Windows) via creack/pty
//   - Monotonic session ids, never reused
//   - Ordered output delivery per session
//   - Exactly one terminal event (exit or error) per session, after all output
//   - Signal-based kill with an awaitable Termination
//   - Bulk teardown for shutdown paths
//
// Architecture:
//   - Registry: id -> Session map, the only shared state
//   - Spawner: starts the process; size defaults, cwd fallback, spawn breaker
//   - Router: typed Envelope dispatch in, per-session fan-out of events
//   - Lifecycle: per-session output and wait goroutines
//   - Broker: the public entry point composing the above
//
// Example Usage:
//
//	spawner := terminal.NewPTYSpawner(logger, terminal.SpawnerConfig{})
//	broker := terminal.NewBroker(spawner, logger, terminal.DefaultOptions())
//	defer broker.Close()
//
//	res, err := broker.Spawn(terminal.SpawnOptions{
//		Cols: 80, Rows: 30, Cwd: "/home/user",
//		OnEvent: func(ev terminal.Envelope) { ... },
//	})
//	broker.Write(res.ID, []byte("ls\n"))
//	info, err := broker.Kill(res.ID).Wait(ctx)
package terminal
