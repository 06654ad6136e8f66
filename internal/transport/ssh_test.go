package transport

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/testutil"
	"github.com/HerbHall/sitecheck/pkg/models"
)

func newTestDialer(t *testing.T, srv *testutil.CLIServer) *SSHDialer {
	t.Helper()
	cfg := DefaultSSHConfig()
	cfg.Port = srv.Port
	cfg.ConnectTimeout = 3 * time.Second
	cfg.CommandTimeout = 2 * time.Second
	return NewSSHDialer(cfg, zap.NewNop())
}

func TestSSHDialer_RunCommands(t *testing.T) {
	srv := testutil.NewCLIServer(t, testutil.CLIConfig{
		Username: "admin",
		Password: "secret",
		Hostname: "Core-SW1",
		Banner:   "Authorized access only",
		Commands: map[string]string{
			"terminal length 0": "",
			"show version":      "Cisco IOS Software, Version 15.2(7)E4\nProcessor board ID FOC1234X5YZ",
		},
	})
	d := newTestDialer(t, srv)

	ctx := context.Background()
	sess, err := d.Dial(ctx, srv.Host, Credentials{Username: "admin", Password: "secret"}, DialOptions{})
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, "Core-SW1#", sess.Prompt())

	out, err := sess.Run(ctx, "terminal length 0")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = sess.Run(ctx, "show version")
	require.NoError(t, err)
	assert.Equal(t, "Cisco IOS Software, Version 15.2(7)E4\nProcessor board ID FOC1234X5YZ", out)

	out, err = sess.Run(ctx, "show bogus")
	require.NoError(t, err)
	assert.ErrorIs(t, CheckRejected("show bogus", out), ErrRejected)

	assert.Equal(t, []string{"terminal length 0", "show version", "show bogus"}, srv.Received())
}

func TestSSHDialer_AuthFailed(t *testing.T) {
	srv := testutil.NewCLIServer(t, testutil.CLIConfig{Username: "admin", Password: "secret"})
	d := newTestDialer(t, srv)

	_, err := d.Dial(context.Background(), srv.Host, Credentials{Username: "admin", Password: "wrong"}, DialOptions{})
	require.Error(t, err)

	var ce *ConnectError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, models.ErrorAuthFailed, Classify(err))
}

func TestSSHDialer_ConnectionRefused(t *testing.T) {
	srv := testutil.NewCLIServer(t, testutil.CLIConfig{Username: "admin", Password: "secret"})
	d := newTestDialer(t, srv)
	d.cfg.Port = 1 // nothing listens on a privileged low port in CI

	_, err := d.Dial(context.Background(), "127.0.0.1", Credentials{Username: "admin", Password: "secret"}, DialOptions{})
	require.Error(t, err)
	assert.Equal(t, models.ErrorConnectionRefused, Classify(err))
}

func TestSSHDialer_InShellLogin(t *testing.T) {
	srv := testutil.NewCLIServer(t, testutil.CLIConfig{
		Username:     "cisco",
		Password:     "cisco",
		Hostname:     "SG350",
		InShellLogin: true,
		Commands:     map[string]string{"terminal datadump": ""},
	})
	d := newTestDialer(t, srv)

	sess, err := d.Dial(context.Background(), srv.Host, Credentials{Username: "cisco", Password: "cisco"}, DialOptions{})
	require.NoError(t, err)
	defer sess.Close()
	assert.Equal(t, "SG350#", sess.Prompt())
}

func TestSSHDialer_Enable(t *testing.T) {
	srv := testutil.NewCLIServer(t, testutil.CLIConfig{
		Username:     "admin",
		Password:     "secret",
		Hostname:     "Edge-RTR",
		UserMode:     true,
		EnableSecret: "topsecret",
	})
	d := newTestDialer(t, srv)
	ctx := context.Background()

	sess, err := d.Dial(ctx, srv.Host, Credentials{Username: "admin", Password: "secret"}, DialOptions{})
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, "Edge-RTR>", sess.Prompt())
	require.NoError(t, sess.Enable(ctx, "topsecret"))
	assert.Equal(t, "Edge-RTR#", sess.Prompt())
	// Already privileged: no second enable is sent.
	require.NoError(t, sess.Enable(ctx, "topsecret"))
	assert.Equal(t, []string{"enable"}, srv.Received())
}

func TestSSHDialer_EnableDenied(t *testing.T) {
	srv := testutil.NewCLIServer(t, testutil.CLIConfig{
		Username:     "admin",
		Password:     "secret",
		UserMode:     true,
		EnableSecret: "topsecret",
	})
	d := newTestDialer(t, srv)
	ctx := context.Background()

	sess, err := d.Dial(ctx, srv.Host, Credentials{Username: "admin", Password: "secret"}, DialOptions{})
	require.NoError(t, err)
	defer sess.Close()
	assert.Error(t, sess.Enable(ctx, "nope"))
}

func TestSSHDialer_CommandTimeout(t *testing.T) {
	srv := testutil.NewCLIServer(t, testutil.CLIConfig{
		Username: "admin",
		Password: "secret",
		Commands: map[string]string{"autodiscover query table": "slow"},
		Delays:   map[string]time.Duration{"autodiscover query table": 500 * time.Millisecond},
	})
	d := newTestDialer(t, srv)
	ctx := context.Background()

	sess, err := d.Dial(ctx, srv.Host, Credentials{Username: "admin", Password: "secret"}, DialOptions{})
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.RunFor(ctx, "autodiscover query table", 100*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCommandTimeout)
	assert.Equal(t, models.ErrorProtocol, Classify(err))
}

func TestSSHDialer_TimedOutOutputIsDiscarded(t *testing.T) {
	srv := testutil.NewCLIServer(t, testutil.CLIConfig{
		Username: "admin",
		Password: "secret",
		Commands: map[string]string{
			"autodiscover query table": "DISCOVERY-OUTPUT",
			"errlog":                   "ERRLOG-OUTPUT",
		},
		Delays: map[string]time.Duration{"autodiscover query table": 300 * time.Millisecond},
	})
	d := newTestDialer(t, srv)
	ctx := context.Background()

	sess, err := d.Dial(ctx, srv.Host, Credentials{Username: "admin", Password: "secret"}, DialOptions{})
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.RunFor(ctx, "autodiscover query table", 100*time.Millisecond)
	require.ErrorIs(t, err, ErrCommandTimeout)

	out, err := sess.Run(ctx, "errlog")
	require.NoError(t, err)
	assert.Equal(t, "ERRLOG-OUTPUT", out)
	assert.Equal(t, "Switch#", sess.Prompt())
}

func TestSSHDialer_StuckCommandBreaksSession(t *testing.T) {
	srv := testutil.NewCLIServer(t, testutil.CLIConfig{
		Username: "admin",
		Password: "secret",
		Commands: map[string]string{
			"show tech-support": "LOTS",
			"show version":      "Version 1.0",
		},
		Delays: map[string]time.Duration{"show tech-support": 2 * time.Second},
	})
	d := newTestDialer(t, srv)
	d.cfg.CommandTimeout = 200 * time.Millisecond
	ctx := context.Background()

	sess, err := d.Dial(ctx, srv.Host, Credentials{Username: "admin", Password: "secret"}, DialOptions{})
	require.NoError(t, err)
	defer sess.Close()

	_, err = sess.RunFor(ctx, "show tech-support", 50*time.Millisecond)
	require.ErrorIs(t, err, ErrCommandTimeout)

	_, err = sess.Run(ctx, "show version")
	require.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, models.ErrorProtocol, Classify(err))
	assert.Equal(t, []string{"show tech-support"}, srv.Received())
}

func TestSSHSession_CloseReleasesReader(t *testing.T) {
	s := &shellSession{
		chunks: make(chan []byte),
		done:   make(chan struct{}),
	}
	exited := make(chan struct{})
	go func() {
		s.readLoop(strings.NewReader("Switch#"))
		close(exited)
	}()
	close(s.done)

	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("reader still blocked after close")
	}
}

func TestSSHDialer_LegacyKex(t *testing.T) {
	srv := testutil.NewCLIServer(t, testutil.CLIConfig{
		Username:     "admin",
		Password:     "secret",
		Hostname:     "DrayTek",
		KeyExchanges: []string{"diffie-hellman-group1-sha1"},
	})
	d := newTestDialer(t, srv)
	creds := Credentials{Username: "admin", Password: "secret"}

	_, err := d.Dial(context.Background(), srv.Host, creds, DialOptions{})
	require.Error(t, err, "modern defaults should not negotiate group1")

	sess, err := d.Dial(context.Background(), srv.Host, creds, DialOptions{LegacyKex: true})
	require.NoError(t, err)
	defer sess.Close()
	assert.True(t, strings.HasPrefix(sess.Prompt(), "DrayTek"))
}

func TestClientConfig_SlowModeScalesTimeout(t *testing.T) {
	cfg := DefaultSSHConfig()
	cfg.ConnectTimeout = 10 * time.Second
	cfg.DelayFactor = 3
	d := NewSSHDialer(cfg, zap.NewNop())

	assert.Equal(t, 10*time.Second, d.ClientConfig(Credentials{}, DialOptions{}).Timeout)
	assert.Equal(t, 30*time.Second, d.ClientConfig(Credentials{}, DialOptions{SlowMode: true}).Timeout)
	assert.Empty(t, d.ClientConfig(Credentials{}, DialOptions{}).KeyExchanges)
	assert.Contains(t, d.ClientConfig(Credentials{}, DialOptions{LegacyKex: true}).KeyExchanges, "diffie-hellman-group1-sha1")
}

func TestStripEchoAndPrompt(t *testing.T) {
	tests := []struct {
		name string
		out  string
		cmd  string
		want string
	}{
		{"echo and prompt", "show clock\n12:00:00 UTC\nSW1#", "show clock", "12:00:00 UTC"},
		{"prompt only", "SW1#", "terminal length 0", ""},
		{"echo only", "terminal length 0\nSW1#", "terminal length 0", ""},
		{"no echo", "line one\nline two\nSW1#", "show x", "line one\nline two"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripEchoAndPrompt(tt.out, tt.cmd))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "a\nb", normalize("a\r\nb\r"))
	assert.Equal(t, "ok", normalize("\x1b[2Kok"))
}
