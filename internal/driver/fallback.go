package driver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/transport"
)

// Logical command names a dialect maps to its own syntax.
const (
	cmdVLANs      = "vlans"
	cmdPortErrors = "port_errors"
	cmdPoE        = "poe"
	cmdWAN        = "wan"
)

var errNoDialects = errors.New("no dialects configured")

// Dialect is one way of talking to a device family.
type Dialect struct {
	Name    string
	Options transport.DialOptions
	// PagerOff disables output paging. A rejected reply means the CLI is not
	// this dialect, and the next one is tried.
	PagerOff string
	Commands map[string]string
}

// Selector opens a session by trying dialects in order.
type Selector struct {
	dialer   transport.Dialer
	dialects []Dialect
	logger   *zap.Logger
}

// NewSelector creates a selector over dialects, tried in the given order.
func NewSelector(dialer transport.Dialer, logger *zap.Logger, dialects ...Dialect) *Selector {
	return &Selector{dialer: dialer, dialects: dialects, logger: logger}
}

// Open returns a live session under the first dialect that accepts it. When
// every dialect fails, only the last dialect's error is returned; earlier
// failures are logged at debug level.
func (s *Selector) Open(ctx context.Context, host string, creds transport.Credentials) (transport.Session, Dialect, error) {
	lastErr := errNoDialects
	for _, d := range s.dialects {
		if err := ctx.Err(); err != nil {
			return nil, Dialect{}, err
		}
		sess, err := s.open(ctx, host, creds, d)
		if err == nil {
			return sess, d, nil
		}
		s.logger.Debug("dialect failed",
			zap.String("host", host),
			zap.String("dialect", d.Name),
			zap.Error(err),
		)
		lastErr = err
	}
	return nil, Dialect{}, lastErr
}

func (s *Selector) open(ctx context.Context, host string, creds transport.Credentials, d Dialect) (transport.Session, error) {
	sess, err := s.dialer.Dial(ctx, host, creds, d.Options)
	if err != nil {
		return nil, err
	}
	if d.PagerOff == "" {
		return sess, nil
	}
	out, err := sess.Run(ctx, d.PagerOff)
	if err == nil {
		err = transport.CheckRejected(d.PagerOff, out)
	}
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("dialect %s: %w", d.Name, err)
	}
	return sess, nil
}
