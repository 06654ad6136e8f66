package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/transport"
	"github.com/HerbHall/sitecheck/pkg/models"
)

var errNoReply = errors.New("no echo reply")

// Ping is the fallback driver: it only establishes reachability.
type Ping struct {
	pinger transport.Pinger
	logger *zap.Logger
}

// NewPing creates the ping driver.
func NewPing(pinger transport.Pinger, logger *zap.Logger) *Ping {
	return &Ping{pinger: pinger, logger: logger}
}

func (p *Ping) Family() models.Family { return models.FamilyPing }

func (p *Ping) Probe(ctx context.Context, dev models.Device) models.AuditResult {
	start := time.Now()
	mode := models.FamilyPing.Mode()

	reply, err := p.pinger.Ping(ctx, dev.IP)
	if err != nil {
		return stamp(offline(mode, err), start)
	}
	if !reply.Alive {
		err := transport.NewConnectError(dev.IP, fmt.Errorf("ping %s: %w", dev.IP, errNoReply))
		err.Kind = models.ErrorUnreachable
		return stamp(offline(mode, err), start)
	}

	res := models.NewOnlineResult(mode)
	res.MAC = models.SentinelOnline
	p.logger.Debug("ping reply", zap.String("device", dev.Name), zap.Duration("rtt", reply.RTT))
	return stamp(res, start)
}
