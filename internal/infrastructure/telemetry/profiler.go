package telemetry

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
)

// ProfilerConfig controls Pyroscope continuous profiling.
type ProfilerConfig struct {
	Enabled           bool
	ServerAddress     string // e.g. "http://pyroscope:4040"
	ApplicationName   string
	BasicAuthUser     string // Grafana Cloud auth, optional
	BasicAuthPassword string

	ProfileCPU           bool
	ProfileAllocObjects  bool
	ProfileAllocSpace    bool
	ProfileInuseObjects  bool
	ProfileInuseSpace    bool
	ProfileGoroutines    bool
	ProfileMutexCount    bool
	ProfileMutexDuration bool
	ProfileBlockCount    bool
	ProfileBlockDuration bool

	MutexProfileFraction int // defaults to 5
	BlockProfileRate     int // defaults to 5
	DisableGCRuns        bool
}

func (cfg ProfilerConfig) profileTypes() []pyroscope.ProfileType {
	var types []pyroscope.ProfileType
	for _, pt := range []struct {
		enabled bool
		kind    pyroscope.ProfileType
	}{
		{cfg.ProfileCPU, pyroscope.ProfileCPU},
		{cfg.ProfileAllocObjects, pyroscope.ProfileAllocObjects},
		{cfg.ProfileAllocSpace, pyroscope.ProfileAllocSpace},
		{cfg.ProfileInuseObjects, pyroscope.ProfileInuseObjects},
		{cfg.ProfileInuseSpace, pyroscope.ProfileInuseSpace},
		{cfg.ProfileGoroutines, pyroscope.ProfileGoroutines},
		{cfg.ProfileMutexCount, pyroscope.ProfileMutexCount},
		{cfg.ProfileMutexDuration, pyroscope.ProfileMutexDuration},
		{cfg.ProfileBlockCount, pyroscope.ProfileBlockCount},
		{cfg.ProfileBlockDuration, pyroscope.ProfileBlockDuration},
	} {
		if pt.enabled {
			types = append(types, pt.kind)
		}
	}
	return types
}

// applyRuntimeRates flips the runtime sampling switches that mutex and
// block profiles depend on. Must run before the session starts.
func (cfg ProfilerConfig) applyRuntimeRates(logger *zap.Logger) {
	if cfg.ProfileMutexCount || cfg.ProfileMutexDuration {
		fraction := orDefaultRate(cfg.MutexProfileFraction)
		runtime.SetMutexProfileFraction(fraction)
		logger.Debug("Mutex profiling enabled", zap.Int("fraction", fraction))
	}
	if cfg.ProfileBlockCount || cfg.ProfileBlockDuration {
		rate := orDefaultRate(cfg.BlockProfileRate)
		runtime.SetBlockProfileRate(rate)
		logger.Debug("Block profiling enabled", zap.Int("rate", rate))
	}
}

func orDefaultRate(v int) int {
	if v <= 0 {
		return 5
	}
	return v
}

// sessionTags labels profiles with the host identity when the
// orchestrator exposes it.
func sessionTags() map[string]string {
	tags := map[string]string{}
	for env, tag := range map[string]string{"HOSTNAME": "hostname", "POD_NAME": "pod"} {
		if v := os.Getenv(env); v != "" {
			tags[tag] = v
		}
	}
	return tags
}

// Profiler owns the Pyroscope session. Disabled profiling leaves it a
// no-op shell.
type Profiler struct {
	profiler *pyroscope.Profiler
	logger   *zap.Logger
	config   ProfilerConfig
	mu       sync.Mutex
	stopped  bool
}

// NewProfiler starts profiling against the configured server. Mutex
// and block profiles also flip the runtime sampling switches, which
// must happen before the session starts.
func NewProfiler(cfg ProfilerConfig, logger *zap.Logger) (*Profiler, error) {
	p := &Profiler{logger: logger, config: cfg}

	if !cfg.Enabled {
		logger.Info("Continuous profiling disabled")
		return p, nil
	}
	if cfg.ServerAddress == "" {
		return nil, fmt.Errorf("profiler server address is required when profiling is enabled")
	}
	if cfg.ApplicationName == "" {
		return nil, fmt.Errorf("profiler application name is required when profiling is enabled")
	}

	cfg.applyRuntimeRates(logger)

	types := cfg.profileTypes()
	if len(types) == 0 {
		logger.Warn("No profile types enabled, profiler will not collect any data")
	}

	session := pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Logger:          newPyroscopeLogger(logger),
		Tags:            sessionTags(),
		ProfileTypes:    types,
		DisableGCRuns:   cfg.DisableGCRuns,
	}
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPassword != "" {
		session.BasicAuthUser = cfg.BasicAuthUser
		session.BasicAuthPassword = cfg.BasicAuthPassword
	}

	started, err := pyroscope.Start(session)
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	p.profiler = started

	logger.Info("Continuous profiling started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Int("profile_types", len(types)),
	)
	return p, nil
}

// Stop flushes pending profiles and ends the session. Safe to call
// repeatedly. The Pyroscope SDK has no context cancellation; its
// internal timeouts bound the flush.
func (p *Profiler) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true

	if p.profiler == nil {
		return nil
	}

	p.logger.Info("Stopping continuous profiling")
	if err := p.profiler.Stop(); err != nil {
		p.logger.Error("Error stopping profiler", zap.Error(err))
		return fmt.Errorf("failed to stop profiler: %w", err)
	}
	return nil
}

// IsEnabled reports whether a profiling session is running.
func (p *Profiler) IsEnabled() bool {
	return p.config.Enabled && p.profiler != nil
}

// GetConfig returns a copy of the configuration.
func (p *Profiler) GetConfig() ProfilerConfig {
	return p.config
}

// pyroLogger routes the SDK's log lines through zap.
type pyroLogger struct {
	sug *zap.SugaredLogger
}

func newPyroscopeLogger(logger *zap.Logger) pyroscope.Logger {
	return pyroLogger{sug: logger.Named("pyroscope").Sugar()}
}

func (l pyroLogger) Infof(format string, args ...any)  { l.sug.Infof(format, args...) }
func (l pyroLogger) Debugf(format string, args ...any) { l.sug.Debugf(format, args...) }
func (l pyroLogger) Errorf(format string, args ...any) { l.sug.Errorf(format, args...) }
