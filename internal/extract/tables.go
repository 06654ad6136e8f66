package extract

import (
	"regexp"
	"strings"
)

// Commands referenced by the pattern tables.
const (
	CmdShowVersion       = "show version"
	CmdShowInventory     = "show inventory"
	CmdShowSystem        = "show system"
	CmdShowInterfaceVlan = "show interface Vlan1"
	CmdShowEnvironment   = "show environment all"
	CmdAVVersion         = "ver"
	CmdAVUptime          = "uptime"
	CmdAVIPConfig        = "ipconfig /all"
	CmdSysDescr          = "sysDescr"
)

// firstTwoClauses keeps "1 year, 2 weeks" out of "1 year, 2 weeks, 3 days, 4 hours".
func firstTwoClauses(s string) string {
	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		parts = parts[:2]
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return strings.Join(parts, ", ")
}

func celsius(s string) string { return s + "°C" }

// SwitchTable covers both the small-business and the enterprise switch CLIs.
var SwitchTable = Table{
	FieldSerial: {
		{Vendor: "smb", Source: CmdShowInventory, Expr: regexp.MustCompile(`(?i)PID:.*SN:\s*([A-Z0-9]+)`)},
		{Vendor: "ios-processor", Source: CmdShowVersion, Expr: regexp.MustCompile(`Processor board ID\s+(\w+)`)},
		{Vendor: "ios", Source: CmdShowInventory, Expr: regexp.MustCompile(`SN:\s*(\w+)`)},
	},
	FieldMAC: {
		{Vendor: "smb", Source: CmdShowSystem, Expr: regexp.MustCompile(`(?i)System MAC Address:\s*([0-9a-fA-F:.\-]+)`), Transform: NormalizeMAC},
		{Vendor: "generic", Source: CmdShowSystem, Expr: regexp.MustCompile(`(?i)MAC Address:\s*([0-9a-fA-F:.\-]+)`), Transform: NormalizeMAC},
		{Vendor: "ios", Source: CmdShowVersion, Expr: regexp.MustCompile(`Base [Ee]thernet MAC [Aa]ddress\s*:\s*([0-9a-fA-F:.\-]+)`), Transform: NormalizeMAC},
		{Vendor: "ios-svi", Source: CmdShowInterfaceVlan, Expr: regexp.MustCompile(`address is ([0-9a-fA-F:.\-]+)`), Transform: NormalizeMAC},
	},
	FieldFirmware: {
		{Vendor: "ios", Source: CmdShowVersion, Expr: regexp.MustCompile(`Version\s+([^,\s]+)`)},
		{Vendor: "smb", Source: CmdShowVersion, Expr: regexp.MustCompile(`(?im)^\s*(?:SW )?Version:?\s+(\S+)`)},
	},
	FieldUptime: {
		{Vendor: "ios", Source: CmdShowVersion, Expr: regexp.MustCompile(`(?i)uptime is (.*)`), Transform: firstTwoClauses},
		{Vendor: "smb", Source: CmdShowSystem, Expr: regexp.MustCompile(`(?i)System Up Time(?:\s*\([^)]*\))?:\s*([^\r\n]+)`)},
	},
	FieldTemperature: {
		{Vendor: "ios", Source: CmdShowEnvironment, Expr: regexp.MustCompile(`(?i)Temperature Value:\s*(\d+)\s*Degree`), Transform: celsius},
		{Vendor: "smb", Source: CmdShowSystem, Expr: regexp.MustCompile(`(?im)^\s*\d+\s+(\d+)\s+OK\b`), Transform: celsius},
	},
}

// RouterTable covers the enterprise router CLI and the legacy router CLI.
var RouterTable = Table{
	FieldFirmware: {
		{Vendor: "ios", Source: CmdShowVersion, Expr: regexp.MustCompile(`Version\s+([^,\s]+)`)},
		{Vendor: "legacy", Source: CmdShowVersion, Expr: regexp.MustCompile(`(?i)Version:\s*(\S+)`)},
	},
	FieldSerial: {
		{Vendor: "ios", Source: CmdShowVersion, Expr: regexp.MustCompile(`Processor board ID\s+(\w+)`)},
		{Vendor: "legacy", Source: CmdShowVersion, Expr: regexp.MustCompile(`(?i)Serial(?: Number)?:\s*(\S+)`)},
	},
	FieldUptime: {
		{Vendor: "ios", Source: CmdShowVersion, Expr: regexp.MustCompile(`(?i)uptime is (.*)`), Transform: firstTwoClauses},
		{Vendor: "legacy", Source: CmdShowVersion, Expr: regexp.MustCompile(`(?i)System Up Time:\s*(.+)`)},
	},
}

// AVTable covers the AV processor's line-oriented console.
var AVTable = Table{
	FieldFirmware: {
		{Vendor: "console", Source: CmdAVVersion, Expr: regexp.MustCompile(`\[v([0-9.]+)`)},
	},
	FieldUptime: {
		{Vendor: "console", Source: CmdAVUptime, Expr: regexp.MustCompile(`running for\s+([^\r\n]+)`)},
	},
	FieldMAC: {
		{Vendor: "console", Source: CmdAVIPConfig, Expr: regexp.MustCompile(`MAC Address[^:]*:\s*([0-9a-fA-F][0-9a-fA-F.:\-]+)`), Transform: NormalizeMAC},
	},
}

// SNMPTable pulls a version out of sysDescr for SNMP-only devices.
var SNMPTable = Table{
	FieldFirmware: {
		{Vendor: "ios", Source: CmdSysDescr, Expr: regexp.MustCompile(`Version\s+([^,\s]+)`)},
		{Vendor: "generic", Source: CmdSysDescr, Expr: regexp.MustCompile(`(?i)\bv(?:ersion)?[:\s]?\s*(\d+(?:\.\d+)+)`)},
	},
}
