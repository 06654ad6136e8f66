package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

// Credentials authenticate a session. Secret is the privileged-mode password.
type Credentials struct {
	Username string
	Password string
	Secret   string
}

// SSHConfig holds the shell transport settings.
type SSHConfig struct {
	Port           int           `mapstructure:"port"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	SlowMode       bool          `mapstructure:"slow_mode"`
	DelayFactor    float64       `mapstructure:"delay_factor"`
}

// DefaultSSHConfig returns sensible defaults for device shells.
func DefaultSSHConfig() SSHConfig {
	return SSHConfig{
		Port:           22,
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: 15 * time.Second,
		DelayFactor:    2,
	}
}

// DialOptions tune one session for a device dialect.
type DialOptions struct {
	// LegacyKex also offers the key exchanges, ciphers and host key
	// algorithms that current clients disable by default.
	LegacyKex bool
	// SlowMode scales timeouts by the configured delay factor and paces
	// commands for slow or virtual hardware.
	SlowMode bool
	// Prompt overrides the default CLI prompt pattern. It is matched against
	// the last line of output.
	Prompt *regexp.Regexp
}

// Session is an open command session to one device.
type Session interface {
	// Run sends command and returns its output without the echo and prompt.
	Run(ctx context.Context, command string) (string, error)
	// RunFor is Run with an explicit read timeout for slow commands.
	RunFor(ctx context.Context, command string, timeout time.Duration) (string, error)
	// Enable enters privileged mode with secret when the prompt is not
	// already privileged.
	Enable(ctx context.Context, secret string) error
	// Prompt returns the last prompt the device printed.
	Prompt() string
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, host string, creds Credentials, opts DialOptions) (Session, error)
}

var (
	defaultPrompt = regexp.MustCompile(`^[\w.\-@()/:~]{1,63}[>#]\s*$`)
	loginPrompt   = regexp.MustCompile(`(?i)(?:user ?name|login):\s*$`)
	passPrompt    = regexp.MustCompile(`(?i)password:\s*$`)
	morePrompt    = regexp.MustCompile(`(?i)--\s*more\s*--|^\s*more:`)
	ansiEscape    = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]`)
)

// Compile-time interface guard.
var _ Dialer = (*SSHDialer)(nil)

// SSHDialer opens interactive shell sessions over SSH.
type SSHDialer struct {
	cfg    SSHConfig
	logger *zap.Logger

	// sshDial establishes the client connection. Defaults to dialContext;
	// overridden in tests.
	sshDial func(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error)
}

// NewSSHDialer creates a dialer.
func NewSSHDialer(cfg SSHConfig, logger *zap.Logger) *SSHDialer {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.DelayFactor < 1 {
		cfg.DelayFactor = 1
	}
	return &SSHDialer{cfg: cfg, logger: logger, sshDial: dialContext}
}

func (d *SSHDialer) scale(v time.Duration, slow bool) time.Duration {
	if slow || d.cfg.SlowMode {
		return time.Duration(float64(v) * d.cfg.DelayFactor)
	}
	return v
}

// ClientConfig builds the ssh client configuration for a dial.
func (d *SSHDialer) ClientConfig(creds Credentials, opts DialOptions) *ssh.ClientConfig {
	password := creds.Password
	config := &ssh.ClientConfig{
		User: creds.Username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // G106: commissioning tool, devices present factory host keys
		Timeout:         d.scale(d.cfg.ConnectTimeout, opts.SlowMode),
	}
	if opts.LegacyKex {
		supported := ssh.SupportedAlgorithms()
		insecure := ssh.InsecureAlgorithms()
		config.KeyExchanges = append(supported.KeyExchanges, insecure.KeyExchanges...)
		config.Ciphers = append(supported.Ciphers, insecure.Ciphers...)
		config.MACs = append(supported.MACs, insecure.MACs...)
		config.HostKeyAlgorithms = append(supported.HostKeys, insecure.HostKeys...)
	}
	return config
}

// Dial connects, starts a shell on a PTY and waits for the first prompt.
// Devices that ask for credentials again inside the shell are answered.
func (d *SSHDialer) Dial(ctx context.Context, host string, creds Credentials, opts DialOptions) (Session, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(d.cfg.Port))
	config := d.ClientConfig(creds, opts)

	client, err := d.sshDial(ctx, "tcp", addr, config)
	if err != nil {
		d.logger.Debug("ssh dial failed", zap.String("addr", addr), zap.Error(err))
		return nil, NewConnectError(host, err)
	}

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, NewConnectError(host, fmt.Errorf("new session: %w", err))
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := session.RequestPty("vt100", 1000, 200, modes); err != nil {
		session.Close()
		client.Close()
		return nil, NewConnectError(host, fmt.Errorf("request pty: %w", err))
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, NewConnectError(host, fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, NewConnectError(host, fmt.Errorf("stdout pipe: %w", err))
	}

	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, NewConnectError(host, fmt.Errorf("start shell: %w", err))
	}

	prompt := opts.Prompt
	if prompt == nil {
		prompt = defaultPrompt
	}
	s := &shellSession{
		host:       host,
		client:     client,
		session:    session,
		stdin:      stdin,
		chunks:     make(chan []byte, 64),
		done:       make(chan struct{}),
		prompt:     prompt,
		cmdTimeout: d.scale(d.cfg.CommandTimeout, opts.SlowMode),
		logger:     d.logger.With(zap.String("host", host)),
	}
	if opts.SlowMode || d.cfg.SlowMode {
		s.pace = time.Duration(float64(100*time.Millisecond) * d.cfg.DelayFactor)
	}
	go s.readLoop(stdout)

	if err := s.login(ctx, creds, config.Timeout); err != nil {
		s.Close()
		return nil, NewConnectError(host, err)
	}
	return s, nil
}

// dialContext is ssh.Dial with context cancellation on the TCP connect and a
// deadline on the handshake.
func dialContext(ctx context.Context, network, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: config.Timeout}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	if config.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(config.Timeout))
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// shellSession drives a prompt-oriented CLI over an SSH PTY.
type shellSession struct {
	host    string
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser

	chunks  chan []byte
	done    chan struct{}
	readErr error
	pending bytes.Buffer
	// broken is set once the session can no longer be trusted to pair a
	// command with its own output.
	broken error

	mu         sync.Mutex
	prompt     *regexp.Regexp
	lastPrompt string
	cmdTimeout time.Duration
	pace       time.Duration
	logger     *zap.Logger

	closeOnce sync.Once
}

func (s *shellSession) readLoop(r io.Reader) {
	defer close(s.chunks)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.done:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.readErr = err
			}
			return
		}
	}
}

func (s *shellSession) login(ctx context.Context, creds Credentials, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cmdTimeout
	}
	sentUser, sentPass := false, false
	for {
		out, last, err := s.readUntil(ctx, timeout, func(last string) bool {
			return s.prompt.MatchString(last) || loginPrompt.MatchString(last) || passPrompt.MatchString(last)
		})
		if err != nil {
			return fmt.Errorf("waiting for prompt: %w", err)
		}
		switch {
		case s.prompt.MatchString(last):
			s.lastPrompt = strings.TrimSpace(last)
			return nil
		case loginPrompt.MatchString(last) && !sentUser:
			sentUser = true
			if err := s.send(creds.Username); err != nil {
				return err
			}
		case passPrompt.MatchString(last) && !sentPass:
			sentPass = true
			if err := s.send(creds.Password); err != nil {
				return err
			}
		default:
			return fmt.Errorf("in-shell authentication failed: %q", lastLine(out))
		}
	}
}

func (s *shellSession) send(line string) error {
	if _, err := io.WriteString(s.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// readUntil accumulates output until done accepts the last line. It pages
// through "--More--" prompts by sending a space.
func (s *shellSession) readUntil(ctx context.Context, timeout time.Duration, done func(last string) bool) (out, last string, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		text := normalize(s.pending.String())
		last = lastLine(text)
		if last != "" && done(last) {
			s.pending.Reset()
			return text, last, nil
		}
		if morePrompt.MatchString(last) {
			trimmed := strings.TrimSuffix(text, last)
			s.pending.Reset()
			s.pending.WriteString(trimmed)
			if _, err := io.WriteString(s.stdin, " "); err != nil {
				return "", "", fmt.Errorf("write: %w", err)
			}
		}

		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				if s.readErr != nil {
					return "", "", s.readErr
				}
				return "", "", ErrSessionClosed
			}
			s.pending.Write(chunk)
		case <-timer.C:
			return "", "", ErrCommandTimeout
		case <-ctx.Done():
			return "", "", ctx.Err()
		}
	}
}

func (s *shellSession) Run(ctx context.Context, command string) (string, error) {
	return s.RunFor(ctx, command, s.cmdTimeout)
}

func (s *shellSession) RunFor(ctx context.Context, command string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken != nil {
		return "", &CommandError{Command: command, Err: s.broken}
	}
	if s.pace > 0 {
		select {
		case <-time.After(s.pace):
		case <-ctx.Done():
			return "", &CommandError{Command: command, Err: ctx.Err()}
		}
	}
	if err := s.send(command); err != nil {
		return "", &CommandError{Command: command, Err: err}
	}

	out, last, err := s.readUntil(ctx, timeout, s.prompt.MatchString)
	if err != nil {
		s.logger.Debug("command failed", zap.String("command", command), zap.Error(err))
		s.resync(ctx, command, err)
		return "", &CommandError{Command: command, Err: err}
	}
	s.lastPrompt = strings.TrimSpace(last)
	return stripEchoAndPrompt(out, command), nil
}

func (s *shellSession) Enable(ctx context.Context, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.broken != nil {
		return &CommandError{Command: "enable", Err: s.broken}
	}
	if strings.HasSuffix(s.lastPrompt, "#") {
		return nil
	}
	if err := s.send("enable"); err != nil {
		return &CommandError{Command: "enable", Err: err}
	}
	isPass := func(last string) bool { return passPrompt.MatchString(last) || s.prompt.MatchString(last) }
	_, last, err := s.readUntil(ctx, s.cmdTimeout, isPass)
	if err != nil {
		s.resync(ctx, "enable", err)
		return &CommandError{Command: "enable", Err: err}
	}
	if passPrompt.MatchString(last) {
		if err := s.send(secret); err != nil {
			return &CommandError{Command: "enable", Err: err}
		}
		if _, last, err = s.readUntil(ctx, s.cmdTimeout, s.prompt.MatchString); err != nil {
			s.resync(ctx, "enable", err)
			return &CommandError{Command: "enable", Err: err}
		}
	}
	s.lastPrompt = strings.TrimSpace(last)
	if !strings.HasSuffix(s.lastPrompt, "#") {
		return &CommandError{Command: "enable", Err: fmt.Errorf("still unprivileged at %q", s.lastPrompt)}
	}
	return nil
}

// resync discards the rest of an interrupted command's output up to the next
// prompt so the following command reads only its own reply. A session that
// does not return to a prompt within the command timeout is marked broken.
// Callers hold mu.
func (s *shellSession) resync(ctx context.Context, command string, cause error) {
	if !errors.Is(cause, ErrCommandTimeout) && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
		s.broken = ErrSessionClosed
		return
	}
	_, last, err := s.readUntil(context.WithoutCancel(ctx), s.cmdTimeout, s.prompt.MatchString)
	if err != nil {
		s.logger.Debug("session out of step, giving up",
			zap.String("command", command), zap.Error(err))
		s.broken = ErrSessionClosed
		return
	}
	s.lastPrompt = strings.TrimSpace(last)
}

func (s *shellSession) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrompt
}

func (s *shellSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		_, _ = io.WriteString(s.stdin, "exit\n")
		s.session.Close()
		err = s.client.Close()
	})
	return err
}

// normalize drops carriage returns, backspaces and terminal escapes.
func normalize(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\b", "")
	return s
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// stripEchoAndPrompt removes the echoed command line and the trailing prompt.
func stripEchoAndPrompt(out, command string) string {
	if i := strings.LastIndexByte(out, '\n'); i >= 0 {
		out = out[:i]
	} else {
		return ""
	}
	if first, rest, ok := strings.Cut(out, "\n"); ok && strings.Contains(first, command) {
		out = rest
	} else if !ok && strings.Contains(first, command) {
		out = ""
	}
	return strings.TrimRight(out, "\n ")
}
