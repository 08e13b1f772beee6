package terminal

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/termbroker/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termbroker/internal/infrastructure/resilience"
)

// SpawnOptions describes a session to create.
type SpawnOptions struct {
	Cols int
	Rows int
	Cwd  string
	// OnEvent, when set, is subscribed to the session before its output
	// starts flowing, so no event can be missed.
	OnEvent Handler
}

// Launch is a freshly started process, not yet registered.
type Launch struct {
	Process     Process
	Shell       string
	Cwd         string
	CwdFallback bool
	Size        Size
}

// Spawner starts shell processes.
type Spawner interface {
	Spawn(opts SpawnOptions) (*Launch, error)
}

// SpawnerConfig configures a PTYSpawner.
type SpawnerConfig struct {
	// Shell replaces DefaultShell. Not exposed to clients.
	Shell string
	// FailureThreshold consecutive OS failures open the spawn breaker.
	FailureThreshold uint32
	// Cooldown is how long the open breaker rejects spawns.
	Cooldown time.Duration
}

// PTYSpawner starts the platform shell on a pseudo-terminal.
type PTYSpawner struct {
	shell   string
	breaker *resilience.Breaker
	logger  *zap.Logger
	metrics *monitoring.Metrics
}

// NewPTYSpawner creates a spawner for DefaultShell.
func NewPTYSpawner(logger *zap.Logger, cfg SpawnerConfig) *PTYSpawner {
	if cfg.Shell == "" {
		cfg.Shell = DefaultShell()
	}
	p := &PTYSpawner{
		shell:  cfg.Shell,
		logger: logger,
	}
	p.breaker = resilience.New("spawn", resilience.Settings{
		Threshold: cfg.FailureThreshold,
		Cooldown:  cfg.Cooldown,
		OnStateChange: func(name string, from, to resilience.State) {
			p.logger.Warn("Spawn breaker state changed",
				zap.String("breaker", name),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
			p.metrics.SetBreakerState(int(to))
		},
	})
	return p
}

// WithMetrics publishes breaker state changes to m.
func (p *PTYSpawner) WithMetrics(m *monitoring.Metrics) *PTYSpawner {
	p.metrics = m
	return p
}

// Spawn starts the shell. OS failures come back as *SpawnError; an invalid
// working directory is replaced by the home directory instead.
func (p *PTYSpawner) Spawn(opts SpawnOptions) (*Launch, error) {
	size := NormalizeSize(opts.Cols, opts.Rows)

	cwd, fallback := ResolveCwd(opts.Cwd)
	if fallback {
		p.logger.Warn("Working directory unavailable, using fallback",
			zap.String("requested", opts.Cwd),
			zap.String("cwd", cwd),
		)
	}

	proc, err := resilience.Do(p.breaker, func() (Process, error) {
		return startProcess(p.shell, cwd, shellEnv(), size)
	})
	if err != nil {
		return nil, &SpawnError{Shell: p.shell, Cwd: cwd, Err: err}
	}

	return &Launch{
		Process:     proc,
		Shell:       p.shell,
		Cwd:         cwd,
		CwdFallback: fallback,
		Size:        size,
	}, nil
}

// ResolveCwd returns cwd if it is an existing directory. Otherwise it
// returns the user's home directory (or the temp directory) and reports
// whether a requested directory had to be replaced.
func ResolveCwd(cwd string) (string, bool) {
	if cwd != "" && isDir(cwd) {
		return cwd, false
	}

	fallback := os.TempDir()
	if home, err := os.UserHomeDir(); err == nil && isDir(home) {
		fallback = home
	}
	return fallback, cwd != ""
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func shellEnv() []string {
	return append(os.Environ(), "TERM=xterm-256color")
}
