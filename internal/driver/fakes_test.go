package driver

import (
	"context"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/HerbHall/sitecheck/internal/transport"
)

// fakeSession replays canned command output.
type fakeSession struct {
	mu      sync.Mutex
	prompt  string
	outputs map[string]string
	errs    map[string]error
	ran     []string
	closed  bool

	// drops makes every command after the first answered fail as if the
	// device closed the session.
	drops    bool
	answered int
}

func newFakeSession(prompt string, outputs map[string]string) *fakeSession {
	return &fakeSession{prompt: prompt, outputs: outputs, errs: map[string]error{}}
}

// dropAfter makes the session close on the device side after n commands.
func (s *fakeSession) dropAfter(n int) *fakeSession {
	s.drops, s.answered = true, n
	return s
}

func (s *fakeSession) Run(ctx context.Context, cmd string) (string, error) {
	return s.RunFor(ctx, cmd, time.Second)
}

func (s *fakeSession) RunFor(_ context.Context, cmd string, _ time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ran = append(s.ran, cmd)
	if s.drops && len(s.ran) > s.answered {
		return "", &transport.CommandError{Command: cmd, Err: transport.ErrSessionClosed}
	}
	if err, ok := s.errs[cmd]; ok {
		return "", &transport.CommandError{Command: cmd, Err: err}
	}
	out, ok := s.outputs[cmd]
	if !ok {
		return "% Invalid input detected at '^' marker.", nil
	}
	return out, nil
}

func (s *fakeSession) Enable(context.Context, string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompt = s.prompt[:len(s.prompt)-1] + "#"
	return nil
}

func (s *fakeSession) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompt
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ran...)
}

// fakeDialer answers each Dial with the next scripted step.
type fakeDialer struct {
	mu    sync.Mutex
	steps []dialStep
	calls []transport.DialOptions
}

type dialStep struct {
	sess transport.Session
	err  error
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ transport.Credentials, opts transport.DialOptions) (transport.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, opts)
	if len(d.steps) == 0 {
		return nil, transport.NewConnectError("fake", context.DeadlineExceeded)
	}
	step := d.steps[0]
	d.steps = d.steps[1:]
	return step.sess, step.err
}

type fakePinger struct {
	reply transport.Reply
	err   error
}

func (p fakePinger) Ping(context.Context, string) (transport.Reply, error) {
	return p.reply, p.err
}

type fakeARP map[string]string

func (a fakeARP) LookupMAC(_ context.Context, ip string) (string, bool) {
	mac, ok := a[ip]
	return mac, ok
}

type fakeSNMPSession struct {
	vars   map[string]gosnmp.SnmpPDU
	err    error
	closed bool
}

func (s *fakeSNMPSession) Get(context.Context, []string) (map[string]gosnmp.SnmpPDU, error) {
	return s.vars, s.err
}

func (s *fakeSNMPSession) Close() error {
	s.closed = true
	return nil
}

type fakeSNMPDialer struct {
	sess *fakeSNMPSession
	err  error
}

func (d fakeSNMPDialer) DialSNMP(context.Context, string, transport.Credentials) (transport.SNMPSession, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.sess, nil
}
