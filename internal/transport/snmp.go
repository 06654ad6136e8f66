package transport

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"go.uber.org/zap"
)

// Standard OIDs read from SNMP-only devices.
const (
	OIDSysDescr          = "1.3.6.1.2.1.1.1.0"
	OIDSysUpTime         = "1.3.6.1.2.1.1.3.0"
	OIDSysName           = "1.3.6.1.2.1.1.5.0"
	OIDBridgeBaseAddress = "1.3.6.1.2.1.17.1.1.0"
	OIDEntPhysicalSerial = "1.3.6.1.2.1.47.1.1.1.1.11.1"
)

// SNMPConfig holds the SNMP settings. Version is "v1", "v2c" or "v3"; for v3
// the device credentials supply the user name and the auth and privacy
// passphrases.
type SNMPConfig struct {
	Port         uint16        `mapstructure:"port"`
	Version      string        `mapstructure:"version"`
	Community    string        `mapstructure:"community"`
	AuthProtocol string        `mapstructure:"auth_protocol"`
	PrivProtocol string        `mapstructure:"priv_protocol"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
}

// DefaultSNMPConfig returns v2c with the public community.
func DefaultSNMPConfig() SNMPConfig {
	return SNMPConfig{
		Port:      161,
		Version:   "v2c",
		Community: "public",
		Timeout:   5 * time.Second,
		Retries:   1,
	}
}

// SNMPSession is a connected SNMP agent.
type SNMPSession interface {
	// Get returns the variables keyed by OID without the leading dot. OIDs
	// the agent does not implement are omitted.
	Get(ctx context.Context, oids []string) (map[string]gosnmp.SnmpPDU, error)
	Close() error
}

// SNMPDialer opens SNMP sessions.
type SNMPDialer interface {
	DialSNMP(ctx context.Context, host string, creds Credentials) (SNMPSession, error)
}

// Compile-time interface guard.
var _ SNMPDialer = (*SNMPClient)(nil)

// SNMPClient dials agents with gosnmp.
type SNMPClient struct {
	cfg    SNMPConfig
	logger *zap.Logger
}

// NewSNMPClient creates a client.
func NewSNMPClient(cfg SNMPConfig, logger *zap.Logger) *SNMPClient {
	return &SNMPClient{cfg: cfg, logger: logger}
}

// newGoSNMP creates a configured GoSNMP instance. The caller must Connect.
func (c *SNMPClient) newGoSNMP(host string, creds Credentials) (*gosnmp.GoSNMP, error) {
	port := c.cfg.Port
	if port == 0 {
		port = 161
	}
	g := &gosnmp.GoSNMP{
		Target:  host,
		Port:    port,
		Timeout: c.cfg.Timeout,
		Retries: c.cfg.Retries,
	}

	switch strings.ToLower(c.cfg.Version) {
	case "", "v2c", "2c":
		g.Version = gosnmp.Version2c
		g.Community = c.cfg.Community
	case "v1", "1":
		g.Version = gosnmp.Version1
		g.Community = c.cfg.Community
	case "v3", "3":
		g.Version = gosnmp.Version3
		g.SecurityModel = gosnmp.UserSecurityModel
		params := &gosnmp.UsmSecurityParameters{UserName: creds.Username}
		switch {
		case creds.Password != "" && creds.Secret != "":
			g.MsgFlags = gosnmp.AuthPriv
			params.AuthenticationProtocol = mapAuthProtocol(c.cfg.AuthProtocol)
			params.AuthenticationPassphrase = creds.Password
			params.PrivacyProtocol = mapPrivProtocol(c.cfg.PrivProtocol)
			params.PrivacyPassphrase = creds.Secret
		case creds.Password != "":
			g.MsgFlags = gosnmp.AuthNoPriv
			params.AuthenticationProtocol = mapAuthProtocol(c.cfg.AuthProtocol)
			params.AuthenticationPassphrase = creds.Password
		default:
			g.MsgFlags = gosnmp.NoAuthNoPriv
		}
		g.SecurityParameters = params
	default:
		return nil, fmt.Errorf("unsupported SNMP version: %s", c.cfg.Version)
	}
	return g, nil
}

// mapAuthProtocol converts an auth protocol string to the gosnmp constant.
func mapAuthProtocol(s string) gosnmp.SnmpV3AuthProtocol {
	switch strings.ToUpper(s) {
	case "MD5":
		return gosnmp.MD5
	case "SHA-256", "SHA256":
		return gosnmp.SHA256
	case "SHA-512", "SHA512":
		return gosnmp.SHA512
	default:
		return gosnmp.SHA
	}
}

// mapPrivProtocol converts a privacy protocol string to the gosnmp constant.
func mapPrivProtocol(s string) gosnmp.SnmpV3PrivProtocol {
	switch strings.ToUpper(s) {
	case "DES":
		return gosnmp.DES
	case "AES-256", "AES256":
		return gosnmp.AES256
	default:
		return gosnmp.AES
	}
}

// DialSNMP configures and connects a gosnmp session. SNMP over UDP has no
// handshake, so an unreachable agent only shows up on the first Get.
func (c *SNMPClient) DialSNMP(ctx context.Context, host string, creds Credentials) (SNMPSession, error) {
	g, err := c.newGoSNMP(host, creds)
	if err != nil {
		return nil, fmt.Errorf("configure SNMP: %w", err)
	}
	g.Context = ctx
	if err := g.Connect(); err != nil {
		return nil, NewConnectError(host, err)
	}
	return &snmpSession{g: g, host: host, logger: c.logger}, nil
}

type snmpSession struct {
	g      *gosnmp.GoSNMP
	host   string
	logger *zap.Logger
}

func (s *snmpSession) Get(ctx context.Context, oids []string) (map[string]gosnmp.SnmpPDU, error) {
	s.g.Context = ctx
	result, err := s.g.Get(oids)
	if err != nil {
		return nil, NewConnectError(s.host, fmt.Errorf("SNMP GET: %w", err))
	}
	out := make(map[string]gosnmp.SnmpPDU, len(result.Variables))
	for _, pdu := range result.Variables {
		if pdu.Type == gosnmp.NoSuchObject || pdu.Type == gosnmp.NoSuchInstance || pdu.Type == gosnmp.Null {
			continue
		}
		out[strings.TrimPrefix(pdu.Name, ".")] = pdu
	}
	s.logger.Debug("snmp get", zap.String("host", s.host), zap.Int("vars", len(out)))
	return out, nil
}

func (s *snmpSession) Close() error {
	if s.g.Conn == nil {
		return nil
	}
	return s.g.Conn.Close()
}

// PDUString extracts a string value from an SNMP PDU.
func PDUString(pdu gosnmp.SnmpPDU) string {
	switch v := pdu.Value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

// PDUTimeTicks converts a TimeTicks value (hundredths of a second).
func PDUTimeTicks(pdu gosnmp.SnmpPDU) time.Duration {
	switch v := pdu.Value.(type) {
	case uint32:
		return time.Duration(v) * 10 * time.Millisecond
	case uint:
		return time.Duration(int64(v)) * 10 * time.Millisecond //nolint:gosec // G115: TimeTicks fits in int64
	case int:
		return time.Duration(v) * 10 * time.Millisecond
	default:
		return 0
	}
}

// PDUMAC formats an octet-string MAC as upper-case colon hex.
func PDUMAC(pdu gosnmp.SnmpPDU) string {
	b, ok := pdu.Value.([]byte)
	if !ok || len(b) == 0 {
		return ""
	}
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, ":")
}
