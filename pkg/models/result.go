package models

import (
	"fmt"
	"time"
)

// ErrorKind is the classified reason a probe failed.
type ErrorKind string

const (
	ErrorNone              ErrorKind = ""
	ErrorAuthFailed        ErrorKind = "AuthFailed"
	ErrorUnreachable       ErrorKind = "Unreachable"
	ErrorConnectionRefused ErrorKind = "ConnectionRefused"
	ErrorProtocol          ErrorKind = "ProtocolError"
	ErrorUnclassified      ErrorKind = "Unclassified"
)

// Display sentinels used in place of identity fields.
const (
	SentinelOffline  = "OFFLINE"
	SentinelOnline   = "ONLINE"
	SentinelNoSerial = "---"
	SentinelMissing  = "N/A"
)

// MaxErrorWidth bounds any error text shown in place of identity columns.
const MaxErrorWidth = 40

// TruncateError cuts s to its first line and at most MaxErrorWidth runes.
func TruncateError(s string) string {
	for i, r := range s {
		if r == '\n' || r == '\r' {
			s = s[:i]
			break
		}
	}
	runes := []rune(s)
	if len(runes) > MaxErrorWidth {
		return string(runes[:MaxErrorWidth])
	}
	return s
}

// NATStatus classifies a router against the externally observed public IP.
type NATStatus string

const (
	NATUnknown NATStatus = ""
	NATBridge  NATStatus = "Bridge"
	NATDouble  NATStatus = "Double NAT"
)

// PoEStatus is the power-over-ethernet budget of a switch.
type PoEStatus struct {
	AvailableWatts float64 `json:"available_watts"`
	UsedWatts      float64 `json:"used_watts"`
	Utilization    float64 `json:"utilization_pct"`
	Status         string  `json:"status"`
}

// NoPoEPower is reported when a switch has no PoE budget.
const NoPoEPower = "No PoE Power"

// PortError flags an interface with non-zero physical layer error counters.
type PortError struct {
	Interface   string `json:"interface"`
	CRC         int64  `json:"crc"`
	InputErrors int64  `json:"input_errors"`
}

func (p PortError) String() string {
	return fmt.Sprintf("%s (CRC %d, input errors %d)", p.Interface, p.CRC, p.InputErrors)
}

// Outlet is the switched state of one PDU outlet.
type Outlet struct {
	Name string `json:"name"`
	On   bool   `json:"on"`
}

func (o Outlet) String() string {
	if o.On {
		return o.Name + ": ON"
	}
	return o.Name + ": OFF"
}

// AuditResult is the normalised outcome of probing one device. A result is
// never mutated after the driver returns it.
type AuditResult struct {
	Online   bool   `json:"online"`
	Mode     string `json:"mode"`
	Dialect  string `json:"dialect,omitempty"`
	Serial   string `json:"serial"`
	MAC      string `json:"mac"`
	Firmware string `json:"firmware"`
	Uptime   string `json:"uptime"`

	VLANs        []int       `json:"vlans,omitempty"`
	PortErrors   []PortError `json:"port_errors,omitempty"`
	PoE          *PoEStatus  `json:"poe,omitempty"`
	WANIPs       []string    `json:"wan_ips,omitempty"`
	NAT          NATStatus   `json:"nat_status,omitempty"`
	PowerReading string      `json:"power_reading,omitempty"`
	Outlets      []Outlet    `json:"outlets,omitempty"`
	PeerDevices  []string    `json:"peer_devices,omitempty"`
	Temperature  string      `json:"temperature,omitempty"`
	BackupFile   string      `json:"backup_file,omitempty"`

	Error       ErrorKind `json:"error,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`

	Duration  time.Duration `json:"duration"`
	CheckedAt time.Time     `json:"checked_at"`
}

// NewOnlineResult returns an online result with every identity field set to
// the missing sentinel, ready for a driver to fill in.
func NewOnlineResult(mode string) AuditResult {
	return AuditResult{
		Online:   true,
		Mode:     mode,
		Serial:   SentinelNoSerial,
		MAC:      SentinelMissing,
		Firmware: SentinelMissing,
		Uptime:   SentinelMissing,
	}
}

// NewOfflineResult returns a failed result carrying the offline sentinels and
// a bounded error detail.
func NewOfflineResult(mode string, kind ErrorKind, detail string) AuditResult {
	if kind == ErrorNone {
		kind = ErrorUnclassified
	}
	return AuditResult{
		Online:      false,
		Mode:        mode,
		Serial:      SentinelNoSerial,
		MAC:         SentinelOffline,
		Firmware:    SentinelMissing,
		Uptime:      SentinelMissing,
		Error:       kind,
		ErrorDetail: TruncateError(detail),
	}
}

// DisplayMAC is the MAC column: the MAC when online, else the error.
func (r AuditResult) DisplayMAC() string {
	if r.Online {
		return r.MAC
	}
	if r.Error != ErrorNone {
		return TruncateError(string(r.Error))
	}
	return SentinelOffline
}
