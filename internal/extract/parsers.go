package extract

import (
	"bufio"
	"fmt"
	"net"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/HerbHall/sitecheck/pkg/models"
)

var (
	vlanRow = regexp.MustCompile(`^\s*(\d{1,4})\s+(\S+)\s*(\S*)`)

	ifaceHeader  = regexp.MustCompile(`^(\S+) is (?:up|down|administratively down)`)
	inputErrors  = regexp.MustCompile(`(\d+) input errors`)
	crcErrors    = regexp.MustCompile(`(\d+) CRC`)
	counterTable = regexp.MustCompile(`^\s*[A-Za-z][A-Za-z\-]*\d\S*(?:\s+\d+){2,}`)

	poeTableRow   = regexp.MustCompile(`(?m)^\s*\d+\s+([\d.]+)\s+([\d.]+)\s+([\d.]+)\s*$`)
	poeUnitRow    = regexp.MustCompile(`(?mi)^\s*\d+\s+(?:\S+\s+)?(?:On|Off)\s+([\d.]+)\s*Watts\s+([\d.]+)\s*Watts`)
	poeNominal    = regexp.MustCompile(`(?i)(?:Nominal|Available) Power:\s*([\d.]+)`)
	poeConsumed   = regexp.MustCompile(`(?i)(?:Consumed|Used) Power:\s*([\d.]+)`)
	ipv4Candidate = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	dottedMAC     = regexp.MustCompile(`([0-9a-fA-F]{4}\.[0-9a-fA-F]{4}\.[0-9a-fA-F]{4})`)
	biaMAC        = regexp.MustCompile(`\(bia ([0-9a-fA-F.:\-]+)\)`)
	cresnetRow    = regexp.MustCompile(`(?m)^(\d{2}|[0-9A-F]{2})\s+:\s+(.+)$`)
)

// ParseVLANs returns the configured VLAN IDs from a VLAN table, sorted and
// without duplicates. Rows whose status marks them unsupported are skipped.
func ParseVLANs(text string) []int {
	seen := make(map[int]bool)
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		m := vlanRow.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil || id < 1 || id > 4094 {
			continue
		}
		if strings.Contains(strings.ToLower(m[3]), "unsup") {
			continue
		}
		seen[id] = true
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ParsePortErrors flags interfaces with non-zero CRC or input error counts.
// It understands the per-interface block format ("Gi1/0/1 is up ...
// 5 input errors, 3 CRC") and the tabular error counter format
// (Port, Align-Err, FCS-Err, Xmit-Err, Rcv-Err).
func ParsePortErrors(text string) []models.PortError {
	if hasMatchingLine(text, ifaceHeader) {
		return parseInterfaceBlocks(text)
	}
	return parseCounterTable(text)
}

func hasMatchingLine(text string, re *regexp.Regexp) bool {
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		if re.MatchString(scanner.Text()) {
			return true
		}
	}
	return false
}

func parseInterfaceBlocks(text string) []models.PortError {
	var (
		out     []models.PortError
		current *models.PortError
	)
	flush := func() {
		if current != nil && (current.CRC > 0 || current.InputErrors > 0) {
			out = append(out, *current)
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if m := ifaceHeader.FindStringSubmatch(line); m != nil {
			flush()
			current = &models.PortError{Interface: m[1]}
			continue
		}
		if current == nil {
			continue
		}
		if m := inputErrors.FindStringSubmatch(line); m != nil {
			current.InputErrors, _ = strconv.ParseInt(m[1], 10, 64)
		}
		if m := crcErrors.FindStringSubmatch(line); m != nil {
			current.CRC, _ = strconv.ParseInt(m[1], 10, 64)
		}
	}
	flush()
	return out
}

// counterColumns locates the counters parseCounterTable reports. Indexes are
// into the whitespace-separated fields of a row; -1 means absent.
type counterColumns struct {
	fcs, rcv int
}

// Column positions for output that carries no header line.
var headerlessColumns = counterColumns{fcs: 2, rcv: 4}

func columnsFromHeader(line string) (counterColumns, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "port") {
		return counterColumns{}, false
	}
	cols := counterColumns{fcs: -1, rcv: -1}
	for i, f := range fields {
		switch strings.ToLower(f) {
		case "fcs-err", "crc-err", "crc":
			cols.fcs = i
		case "rcv-err", "in-err", "input-err":
			cols.rcv = i
		}
	}
	return cols, true
}

// parseCounterTable reads "show interfaces counters errors" style output. IOS
// prints several tables, each under its own "Port ..." header, so columns are
// mapped per header and tables without FCS or receive columns are skipped.
func parseCounterTable(text string) []models.PortError {
	var (
		out   []models.PortError
		index = map[string]int{}
		cols  = headerlessColumns
	)
	counter := func(fields []string, i int) int64 {
		if i < 1 || i >= len(fields) {
			return 0
		}
		n, _ := strconv.ParseInt(fields[i], 10, 64)
		return n
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if c, ok := columnsFromHeader(line); ok {
			cols = c
			continue
		}
		if !counterTable.MatchString(line) || (cols.fcs < 0 && cols.rcv < 0) {
			continue
		}
		fields := strings.Fields(line)
		fcs, rcv := counter(fields, cols.fcs), counter(fields, cols.rcv)
		if fcs == 0 && rcv == 0 {
			continue
		}
		if i, ok := index[fields[0]]; ok {
			out[i].CRC += fcs
			out[i].InputErrors += rcv
			continue
		}
		index[fields[0]] = len(out)
		out = append(out, models.PortError{Interface: fields[0], CRC: fcs, InputErrors: rcv})
	}
	return out
}

// ParsePoE reads the PoE budget from the module table format (Module,
// Available, Used, Remaining), the per-unit table (Unit, Power, Nominal
// Power, Consumed Power) or the "Nominal Power: / Consumed Power:" format.
func ParsePoE(text string) (used, available float64, err error) {
	if m := poeTableRow.FindStringSubmatch(text); m != nil {
		available, _ = strconv.ParseFloat(m[1], 64)
		used, _ = strconv.ParseFloat(m[2], 64)
		return used, available, nil
	}
	if m := poeUnitRow.FindStringSubmatch(text); m != nil {
		available, _ = strconv.ParseFloat(m[1], 64)
		used, _ = strconv.ParseFloat(m[2], 64)
		return used, available, nil
	}
	nom := poeNominal.FindStringSubmatch(text)
	con := poeConsumed.FindStringSubmatch(text)
	if nom != nil && con != nil {
		available, _ = strconv.ParseFloat(nom[1], 64)
		used, _ = strconv.ParseFloat(con[1], 64)
		return used, available, nil
	}
	return 0, 0, &NotFoundError{Field: "poe"}
}

// PoEUtilization computes used/available as a percentage. A non-positive
// budget yields the NoPoEPower status instead of a percentage.
func PoEUtilization(used, available float64) models.PoEStatus {
	st := models.PoEStatus{AvailableWatts: available, UsedWatts: used}
	if available <= 0 {
		st.Status = models.NoPoEPower
		return st
	}
	st.Utilization = used / available * 100
	st.Status = fmt.Sprintf("%.1f%%", st.Utilization)
	return st
}

// WANAddresses returns the distinct IPv4 addresses in text in order of
// appearance, excluding loopback (127.*) and the unspecified address.
func WANAddresses(text string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, cand := range ipv4Candidate.FindAllString(text, -1) {
		ip := net.ParseIP(cand)
		if ip == nil || ip.To4() == nil {
			continue
		}
		if strings.HasPrefix(cand, "127.") || cand == "0.0.0.0" {
			continue
		}
		if !seen[cand] {
			seen[cand] = true
			out = append(out, cand)
		}
	}
	return out
}

// DottedMAC finds the first xxxx.xxxx.xxxx MAC in text and normalises it.
func DottedMAC(text string) (string, bool) {
	m := dottedMAC.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return NormalizeMAC(m[1]), true
}

// BurnedInMAC finds the "(bia xxxx.xxxx.xxxx)" address in interface output,
// falling back to any dotted MAC on the line.
func BurnedInMAC(text string) (string, bool) {
	if m := biaMAC.FindStringSubmatch(text); m != nil {
		return NormalizeMAC(m[1]), true
	}
	return DottedMAC(text)
}

// ParseCresnet lists devices on the legacy control bus ("03 : C2N-DB8").
func ParseCresnet(text string) []string {
	var out []string
	for _, m := range cresnetRow.FindAllStringSubmatch(text, -1) {
		out = append(out, fmt.Sprintf("Cresnet ID %s: %s", m[1], strings.TrimSpace(m[2])))
	}
	return out
}

// ParseAutoDiscovery lists devices from the network auto-discovery table.
// Rows look like "10.20.30.100 : C : NAX-01 : DM-NAX-8ZSA [v3.1 ...] @E-c4...".
func ParseAutoDiscovery(text string) []string {
	var out []string
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.Contains(line, ":") || strings.Contains(line, "IP Address") {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) < 4 {
			continue
		}
		name := strings.TrimSpace(parts[2])
		model := strings.TrimSpace(strings.SplitN(parts[3], "[", 2)[0])
		if name == "" {
			continue
		}
		out = append(out, fmt.Sprintf("%s (%s)", name, model))
	}
	return out
}
