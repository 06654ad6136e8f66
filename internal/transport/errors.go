// Package transport provides the sessions drivers use to reach devices: an
// interactive SSH shell, an HTTP JSON client, ICMP ping, SNMP and the local
// ARP cache. Failures are reported as typed errors that Classify maps onto the
// audit error taxonomy.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/HerbHall/sitecheck/pkg/models"
)

var (
	// ErrCommandTimeout is returned when a command's output never ends in a prompt.
	ErrCommandTimeout = errors.New("command timed out waiting for prompt")
	// ErrRejected is returned when the device answers a command with a syntax error.
	ErrRejected = errors.New("command rejected by device")
	// ErrSessionClosed is returned when the remote side closed the shell.
	ErrSessionClosed = errors.New("session closed by remote")
)

// ConnectError reports a failure to open a session. Kind is filled in from the
// underlying error when the session is dialled.
type ConnectError struct {
	Kind models.ErrorKind
	Host string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Host, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// NewConnectError wraps err and classifies it.
func NewConnectError(host string, err error) *ConnectError {
	return &ConnectError{Kind: classifyConnect(err), Host: host, Err: err}
}

// CommandError reports a failure after the session was established.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

var rejectMarkers = []string{
	"% Invalid",
	"% Unrecognized",
	"Unrecognized command",
	"Invalid input",
	"Bad command",
}

// CheckRejected returns a *CommandError wrapping ErrRejected when output
// carries one of the CLI syntax-error markers.
func CheckRejected(command, output string) error {
	for _, m := range rejectMarkers {
		if strings.Contains(output, m) {
			return &CommandError{Command: command, Err: ErrRejected}
		}
	}
	return nil
}

// Classify maps any error onto the audit error taxonomy. Typed errors are
// checked first; the remaining cases fall back to matching the error text.
func Classify(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorNone
	}
	if errors.Is(err, ErrPingUnavailable) {
		return models.ErrorUnclassified
	}

	var ce *ConnectError
	if errors.As(err, &ce) && ce.Kind != models.ErrorNone {
		return ce.Kind
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden {
			return models.ErrorAuthFailed
		}
		return models.ErrorProtocol
	}
	var cmd *CommandError
	if errors.As(err, &cmd) {
		return models.ErrorProtocol
	}
	if ce != nil {
		return classifyConnect(ce.Err)
	}
	return classifyConnect(err)
}

func classifyConnect(err error) models.ErrorKind {
	if err == nil {
		return models.ErrorNone
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return models.ErrorConnectionRefused
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return models.ErrorUnreachable
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return models.ErrorUnreachable
	}
	return classifyText(err.Error())
}

func classifyText(msg string) models.ErrorKind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "authenticat"),
		strings.Contains(m, "permission denied") && !strings.Contains(m, "socket"):
		return models.ErrorAuthFailed
	case strings.Contains(m, "refused"):
		return models.ErrorConnectionRefused
	case strings.Contains(m, "timed out"), strings.Contains(m, "timeout"),
		strings.Contains(m, "no route"), strings.Contains(m, "unreachable"),
		strings.Contains(m, "tcp"):
		return models.ErrorUnreachable
	case strings.Contains(m, "no common algorithm"), strings.Contains(m, "handshake failed"),
		strings.Contains(m, "unexpected eof"):
		return models.ErrorProtocol
	default:
		return models.ErrorUnclassified
	}
}
