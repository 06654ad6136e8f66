package transport

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"syscall"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"
)

// PingConfig holds the ICMP settings.
type PingConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	Count      int           `mapstructure:"count"`
	Privileged bool          `mapstructure:"privileged"`
}

// DefaultPingConfig returns sensible defaults.
func DefaultPingConfig() PingConfig {
	return PingConfig{
		Timeout:    2 * time.Second,
		Count:      2,
		Privileged: runtime.GOOS == "windows",
	}
}

// ErrPingUnavailable means this process cannot open an ICMP socket. It is a
// property of the host running the audit, not of the device being pinged.
var ErrPingUnavailable = errors.New("icmp socket unavailable")

// Reply is the outcome of pinging one host.
type Reply struct {
	Alive bool
	RTT   time.Duration
}

// Pinger checks ICMP reachability.
type Pinger interface {
	Ping(ctx context.Context, host string) (Reply, error)
}

// Compile-time interface guard.
var _ Pinger = (*ICMPPinger)(nil)

// ICMPPinger pings hosts with pro-bing.
type ICMPPinger struct {
	cfg    PingConfig
	logger *zap.Logger
}

// NewICMPPinger creates a pinger.
func NewICMPPinger(cfg PingConfig, logger *zap.Logger) *ICMPPinger {
	if cfg.Count < 1 {
		cfg.Count = 1
	}
	return &ICMPPinger{cfg: cfg, logger: logger}
}

// Ping sends up to Count echo requests. A host that does not answer is not an
// error; an error means the pinger itself could not run.
func (p *ICMPPinger) Ping(ctx context.Context, host string) (Reply, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return Reply{}, NewConnectError(host, fmt.Errorf("create pinger: %w", err))
	}
	pinger.Count = p.cfg.Count
	pinger.Timeout = p.cfg.Timeout
	return p.run(ctx, host, pinger)
}

// Check opens an ICMP socket once by pinging the loopback address so a
// missing capability is reported before any device is audited.
func (p *ICMPPinger) Check(ctx context.Context) error {
	pinger, err := probing.NewPinger("127.0.0.1")
	if err != nil {
		return fmt.Errorf("create pinger: %w", err)
	}
	pinger.Count = 1
	pinger.Timeout = p.cfg.Timeout
	if _, err := p.run(ctx, "127.0.0.1", pinger); errors.Is(err, ErrPingUnavailable) {
		mode := "unprivileged"
		if p.cfg.Privileged {
			mode = "privileged"
		}
		return fmt.Errorf("%s ping: %w", mode, err)
	}
	return nil
}

func (p *ICMPPinger) run(ctx context.Context, host string, pinger *probing.Pinger) (Reply, error) {
	pinger.SetPrivileged(p.cfg.Privileged)

	// Run with context for cancellation support.
	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case runErr := <-done:
		if runErr != nil {
			p.logger.Debug("ping failed", zap.String("ip", host), zap.Error(runErr))
			return Reply{}, pingError(host, runErr)
		}
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return Reply{}, nil
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv > 0 {
		return Reply{Alive: true, RTT: stats.AvgRtt}, nil
	}
	return Reply{}, nil
}

// pingError separates socket failures on this host from failures to reach
// host.
func pingError(host string, err error) error {
	if errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES) {
		return fmt.Errorf("%w: %w", ErrPingUnavailable, err)
	}
	m := strings.ToLower(err.Error())
	if strings.Contains(m, "socket:") &&
		(strings.Contains(m, "permission denied") || strings.Contains(m, "operation not permitted")) {
		return fmt.Errorf("%w: %w", ErrPingUnavailable, err)
	}
	return NewConnectError(host, err)
}
