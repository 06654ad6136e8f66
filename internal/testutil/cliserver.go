package testutil

import (
	"bufio"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"
)

// InvalidInput is the reply to a command the CLI does not know.
const InvalidInput = "% Invalid input detected at '^' marker."

// CLIConfig describes the device CLI an in-process SSH server emulates.
type CLIConfig struct {
	Username string
	Password string
	Hostname string

	// UserMode starts the shell at the ">" prompt; "enable" followed by
	// EnableSecret switches to "#".
	UserMode     bool
	EnableSecret string

	// InShellLogin asks for "User Name:" and "Password:" again after the
	// SSH handshake, as small-business switches do.
	InShellLogin bool

	Banner   string
	Commands map[string]string
	// Delays holds a pause before a command's reply.
	Delays map[string]time.Duration

	// KeyExchanges restricts the server's key exchange algorithms.
	KeyExchanges []string
}

// CLIServer is a running in-process SSH server.
type CLIServer struct {
	Host string
	Port int

	cfg      CLIConfig
	mu       sync.Mutex
	received []string
	sessions int
}

// NewCLIServer starts a server on 127.0.0.1 and stops it when the test ends.
func NewCLIServer(t *testing.T, cfg CLIConfig) *CLIServer {
	t.Helper()

	if cfg.Hostname == "" {
		cfg.Hostname = "Switch"
	}
	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == cfg.Username && string(pass) == cfg.Password {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
	}
	if len(cfg.KeyExchanges) > 0 {
		config.KeyExchanges = cfg.KeyExchanges
	}
	config.AddHostKey(hostKey(t))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)
	s := &CLIServer{Host: addr.IP.String(), Port: addr.Port, cfg: cfg}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go s.handleConn(conn, config)
		}
	}()

	t.Cleanup(func() {
		listener.Close()
		<-done
	})
	return s
}

// Addr returns host:port.
func (s *CLIServer) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Received returns every command line the server has read, in order.
func (s *CLIServer) Received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// Sessions returns how many shells were opened.
func (s *CLIServer) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func hostKey(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}
	return signer
}

func (s *CLIServer) handleConn(conn net.Conn, config *ssh.ServerConfig) {
	defer conn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			return
		}

		shell := make(chan struct{}, 1)
		go func() {
			for req := range requests {
				switch req.Type {
				case "pty-req", "shell":
					if req.WantReply {
						req.Reply(true, nil)
					}
					if req.Type == "shell" {
						shell <- struct{}{}
					}
				default:
					if req.WantReply {
						req.Reply(false, nil)
					}
				}
			}
		}()

		go func() {
			defer channel.Close()
			select {
			case <-shell:
			case <-time.After(5 * time.Second):
				return
			}
			s.mu.Lock()
			s.sessions++
			s.mu.Unlock()
			s.serveShell(channel)
		}()
	}
}

func (s *CLIServer) serveShell(ch io.ReadWriter) {
	r := bufio.NewReader(ch)
	write := func(text string) {
		_, _ = io.WriteString(ch, strings.ReplaceAll(text, "\n", "\r\n"))
	}

	if s.cfg.InShellLogin {
		write("User Name:")
		user, err := readLine(r)
		if err != nil {
			return
		}
		write(user + "\nPassword:")
		pass, err := readLine(r)
		if err != nil {
			return
		}
		write("\n")
		if user != s.cfg.Username || pass != s.cfg.Password {
			write("Authentication failed\nUser Name:")
			_, _ = readLine(r)
			return
		}
	}

	privileged := !s.cfg.UserMode
	prompt := func() string {
		if privileged {
			return s.cfg.Hostname + "#"
		}
		return s.cfg.Hostname + ">"
	}

	if s.cfg.Banner != "" {
		write(s.cfg.Banner + "\n")
	}
	write(prompt())

	for {
		line, err := readLine(r)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.received = append(s.received, line)
		s.mu.Unlock()

		write(line + "\n")
		switch {
		case line == "exit" || line == "quit":
			return
		case line == "":
		case line == "enable" && !privileged:
			write("Password: ")
			secret, err := readLine(r)
			if err != nil {
				return
			}
			write("\n")
			if secret == s.cfg.EnableSecret {
				privileged = true
			} else {
				write("% Access denied\n")
			}
		default:
			if d, ok := s.cfg.Delays[line]; ok {
				time.Sleep(d)
			}
			out, ok := s.cfg.Commands[line]
			if !ok {
				out = InvalidInput
			}
			if out != "" {
				write(strings.TrimRight(out, "\n") + "\n")
			}
		}
		write(prompt())
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
