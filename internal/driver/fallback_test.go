package driver

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/transport"
	"github.com/HerbHall/sitecheck/pkg/models"
)

func TestSelector_FallsBackInOrder(t *testing.T) {
	first := newFakeSession("SW>", nil)
	second := newFakeSession("SW>", map[string]string{"terminal length 0": ""})
	dialer := &fakeDialer{steps: []dialStep{{sess: first}, {sess: second}}}

	sel := NewSelector(dialer, zap.NewNop(),
		Dialect{Name: "a", PagerOff: "terminal datadump"},
		Dialect{Name: "b", PagerOff: "terminal length 0"},
	)
	sess, d, err := sel.Open(context.Background(), "10.0.0.1", transport.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "b", d.Name)
	assert.Same(t, second, sess)

	assert.Equal(t, []string{"terminal datadump"}, first.commands())
	assert.True(t, first.closed, "rejected dialect session should be closed")
	assert.False(t, second.closed)
}

func TestSelector_ReturnsLastError(t *testing.T) {
	firstErr := transport.NewConnectError("10.0.0.1", errors.New("ssh: handshake failed: no common algorithm"))
	lastErr := transport.NewConnectError("10.0.0.1", syscall.ECONNREFUSED)
	dialer := &fakeDialer{steps: []dialStep{{err: firstErr}, {err: lastErr}}}

	sel := NewSelector(dialer, zap.NewNop(), Dialect{Name: "a"}, Dialect{Name: "b"})
	_, _, err := sel.Open(context.Background(), "10.0.0.1", transport.Credentials{})
	require.Error(t, err)
	assert.Same(t, lastErr, err)
	assert.Equal(t, models.ErrorConnectionRefused, transport.Classify(err))
	assert.Len(t, dialer.calls, 2)
}

func TestSelector_PassesDialectOptions(t *testing.T) {
	dialer := &fakeDialer{steps: []dialStep{{sess: newFakeSession("R>", nil)}}}
	sel := NewSelector(dialer, zap.NewNop(), RouterDialect(models.VariantLegacy))

	_, d, err := sel.Open(context.Background(), "10.0.0.1", transport.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, "legacy", d.Name)
	require.Len(t, dialer.calls, 1)
	assert.True(t, dialer.calls[0].LegacyKex)
	assert.True(t, dialer.calls[0].SlowMode)
}

func TestSelector_NoDialects(t *testing.T) {
	sel := NewSelector(&fakeDialer{}, zap.NewNop())
	_, _, err := sel.Open(context.Background(), "10.0.0.1", transport.Credentials{})
	assert.ErrorIs(t, err, errNoDialects)
}

func TestSelector_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dialer := &fakeDialer{}
	sel := NewSelector(dialer, zap.NewNop(), SwitchDialects()...)

	_, _, err := sel.Open(ctx, "10.0.0.1", transport.Credentials{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, dialer.calls)
}
