package transport

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/sitecheck/internal/extract"
)

// ARPReader reads the local ARP cache to resolve a device's MAC address when
// the device itself does not report one.
type ARPReader struct {
	logger *zap.Logger

	// read returns the raw table for the current platform. Overridden in tests.
	read func(ctx context.Context) (output, platform string, err error)
}

// NewARPReader creates a reader for the running platform.
func NewARPReader(logger *zap.Logger) *ARPReader {
	return &ARPReader{logger: logger, read: readSystemARP}
}

// NewARPReaderFunc creates a reader over a custom table source.
func NewARPReaderFunc(logger *zap.Logger, read func(ctx context.Context) (string, string, error)) *ARPReader {
	return &ARPReader{logger: logger, read: read}
}

func readSystemARP(ctx context.Context) (string, string, error) {
	switch runtime.GOOS {
	case "linux":
		b, err := os.ReadFile("/proc/net/arp")
		return string(b), "linux", err
	case "windows", "darwin":
		out, err := exec.CommandContext(ctx, "arp", "-a").Output()
		return string(out), runtime.GOOS, err
	default:
		return "", runtime.GOOS, nil
	}
}

// ReadTable returns a map of IP address to normalised MAC address. Returns an
// empty map (not an error) if the table is unavailable.
func (r *ARPReader) ReadTable(ctx context.Context) map[string]string {
	out, platform, err := r.read(ctx)
	if err != nil {
		r.logger.Debug("failed to read arp table", zap.String("os", platform), zap.Error(err))
		return map[string]string{}
	}
	return ParseARPOutput(out, platform)
}

// LookupMAC resolves ip through the ARP cache.
func (r *ARPReader) LookupMAC(ctx context.Context, ip string) (string, bool) {
	mac, ok := r.ReadTable(ctx)[ip]
	return mac, ok
}

// ParseARPOutput parses platform-specific ARP output.
func ParseARPOutput(output, platform string) map[string]string {
	switch platform {
	case "linux":
		return parseLinuxARP(output)
	case "windows":
		return parseWindowsARP(output)
	case "darwin":
		return parseDarwinARP(output)
	default:
		return map[string]string{}
	}
}

func usableMAC(mac string) bool {
	return mac != "00:00:00:00:00:00" && mac != "FF:FF:FF:FF:FF:FF" && extract.IsNormalizedMAC(mac)
}

// parseLinuxARP parses /proc/net/arp.
// Format: IP address HW type Flags HW address Mask Device
func parseLinuxARP(output string) map[string]string {
	table := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Scan() // Skip header.
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		if mac := extract.NormalizeMAC(fields[3]); usableMAC(mac) {
			table[fields[0]] = mac
		}
	}
	return table
}

// parseWindowsARP parses `arp -a` on Windows.
// Format: Internet Address Physical Address Type
func parseWindowsARP(output string) map[string]string {
	table := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		ip := fields[0]
		if ip[0] < '0' || ip[0] > '9' {
			continue
		}
		if mac := extract.NormalizeMAC(fields[1]); usableMAC(mac) {
			table[ip] = mac
		}
	}
	return table
}

// parseDarwinARP parses `arp -a` on macOS.
// Format: hostname (ip) at mac on iface [...]
func parseDarwinARP(output string) map[string]string {
	table := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		open := strings.Index(line, "(")
		end := strings.Index(line, ")")
		if open < 0 || end <= open {
			continue
		}
		ip := line[open+1 : end]

		at := strings.Index(line[end:], " at ")
		if at < 0 {
			continue
		}
		fields := strings.Fields(line[end+at+4:])
		if len(fields) == 0 {
			continue
		}
		if mac := extract.NormalizeMAC(padDarwinMAC(fields[0])); usableMAC(mac) {
			table[ip] = mac
		}
	}
	return table
}

// padDarwinMAC restores leading zeros macOS drops ("0:1b:2c:..." -> "00:1b:2c:...").
func padDarwinMAC(mac string) string {
	parts := strings.Split(mac, ":")
	if len(parts) != 6 {
		return mac
	}
	for i, p := range parts {
		if len(p) == 1 {
			parts[i] = "0" + p
		}
	}
	return strings.Join(parts, ":")
}
