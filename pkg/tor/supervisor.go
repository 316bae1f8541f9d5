// Package tor supervises the external Tor process that provides the local
// SOCKS endpoint used by the search augmenter.
//
// The supervisor owns all mutation of the proxy's process-wide state. It is
// constructed once at server startup and torn down on shutdown; everything
// else observes it through State and SocksAddr.
//
// State machine: Idle -> Starting -> Ready, with Starting -> Failed on a
// readiness timeout. Idle means configured but not yet invoked; the Starting
// transition happens on the first Ensure call, not at construction.
// Disabled is terminal when proxy use is not configured.
// Ready is sticky for the process lifetime; health is not re-checked per
// request, so a proxy that later dies surfaces as a search network failure,
// which the augmenter already absorbs.
package tor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the supervisor's lifecycle state.
type State string

const (
	StateDisabled State = "disabled"
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

const (
	// pollInterval is the gap between readiness probes while Starting.
	pollInterval = 250 * time.Millisecond

	// dialTimeout bounds a single SOCKS port probe.
	dialTimeout = time.Second
)

// Config holds the supervisor settings.
type Config struct {
	// Enabled requests proxy use. When false the supervisor is Disabled
	// for its whole lifetime.
	Enabled bool

	// BinaryPath is an explicit tor binary location. When empty the
	// supervisor consults the TOR_PATH environment variable and then the
	// system PATH.
	BinaryPath string

	// SocksHost and SocksPort locate the local SOCKS endpoint.
	SocksHost string
	SocksPort int

	// StartTimeout bounds the readiness poll after a launch attempt.
	StartTimeout time.Duration
}

// Supervisor lazily starts and health-checks the tor process.
type Supervisor struct {
	config Config
	logger *zap.Logger

	mu        sync.Mutex
	state     State
	lastCheck time.Time
	deadline  time.Time
	process   *os.Process
}

// NewSupervisor creates a supervisor in the Disabled or Idle state. No
// process is launched and no state transition happens until the first
// Ensure call.
func NewSupervisor(config Config, logger *zap.Logger) *Supervisor {
	state := StateDisabled
	if config.Enabled {
		state = StateIdle
	}

	return &Supervisor{
		config: config,
		logger: logger,
		state:  state,
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SocksAddr returns the host:port of the local SOCKS endpoint.
func (s *Supervisor) SocksAddr() string {
	return net.JoinHostPort(s.config.SocksHost, fmt.Sprintf("%d", s.config.SocksPort))
}

// Ensure drives the supervisor toward Ready and reports the resulting state.
// The first call launches the tor process (a concurrent or repeated call
// while Starting or Ready is a no-op) and polls the SOCKS port until it
// accepts connections or the start timeout elapses. On timeout the state
// becomes Failed and stays Failed, so later calls return immediately and
// no request ever blocks longer than the configured start timeout.
func (s *Supervisor) Ensure(ctx context.Context) State {
	s.mu.Lock()

	switch s.state {
	case StateDisabled, StateReady, StateFailed:
		state := s.state
		s.mu.Unlock()
		return state
	case StateIdle:
		s.state = StateStarting
	case StateStarting:
		// A previous caller already began the startup path.
	}

	// First caller sets the shared deadline and launches the process.
	if s.deadline.IsZero() {
		s.deadline = time.Now().Add(s.config.StartTimeout)
		s.launchLocked()
	}
	deadline := s.deadline
	s.mu.Unlock()

	for {
		if s.probe() {
			s.mu.Lock()
			s.state = StateReady
			s.lastCheck = time.Now()
			s.mu.Unlock()
			s.logger.Info("tor proxy ready", zap.String("socks_addr", s.SocksAddr()))
			return StateReady
		}

		if time.Now().After(deadline) {
			s.mu.Lock()
			s.state = StateFailed
			s.mu.Unlock()
			s.logger.Warn("tor did not become ready before timeout",
				zap.Duration("timeout", s.config.StartTimeout),
			)
			return StateFailed
		}

		select {
		case <-ctx.Done():
			// Caller gave up; the supervisor keeps Starting so a later
			// request can pick up where this one left off.
			return StateStarting
		case <-time.After(pollInterval):
		}
	}
}

// Stop tears the supervisor down, killing the tor process if this supervisor
// launched it. Safe to call regardless of state.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.process != nil {
		if err := s.process.Kill(); err != nil {
			s.logger.Debug("killing tor process", zap.Error(err))
		}
		s.process = nil
	}
}

// probe checks whether the SOCKS port currently accepts connections.
func (s *Supervisor) probe() bool {
	conn, err := net.DialTimeout("tcp", s.SocksAddr(), dialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// launchLocked starts the tor process if a binary can be resolved and nothing
// is listening yet. An already-running external tor is simply adopted by the
// readiness poll. Callers must hold the lock.
func (s *Supervisor) launchLocked() {
	if s.probe() {
		s.logger.Info("tor already running on the configured SOCKS port")
		return
	}

	binary, err := s.resolveBinary()
	if err != nil {
		// Leave the state Starting: the poll may still find an externally
		// managed tor before the deadline.
		s.logger.Warn("tor binary could not be located; set tor.path or TOR_PATH", zap.Error(err))
		return
	}

	cmd := exec.Command(binary)
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		s.logger.Warn("failed to launch tor", zap.String("binary", binary), zap.Error(err))
		return
	}

	s.process = cmd.Process
	s.logger.Info("launched tor", zap.String("binary", binary), zap.Int("pid", cmd.Process.Pid))

	// Reap the child when it exits so it never zombies.
	go func() { _ = cmd.Wait() }()
}

// resolveBinary locates the tor executable. An explicitly configured path is
// authoritative; otherwise the TOR_PATH environment variable and then the
// system PATH are consulted.
func (s *Supervisor) resolveBinary() (string, error) {
	if s.config.BinaryPath != "" {
		return exec.LookPath(s.config.BinaryPath)
	}

	if envPath := os.Getenv("TOR_PATH"); envPath != "" {
		return exec.LookPath(envPath)
	}

	return exec.LookPath("tor")
}
