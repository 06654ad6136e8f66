package models

import "time"

// ProjectMeta describes the site being commissioned.
type ProjectMeta struct {
	Name      string `json:"name" yaml:"name"`
	Reference string `json:"reference" yaml:"reference"`
	Address   string `json:"address" yaml:"address"`
	Engineer  string `json:"engineer" yaml:"engineer"`
	Mode      string `json:"mode" yaml:"mode"`
}

// DefaultProjectMeta fills blank fields with placeholder values.
func DefaultProjectMeta(m ProjectMeta) ProjectMeta {
	if m.Name == "" {
		m.Name = "Unnamed Project"
	}
	if m.Reference == "" {
		m.Reference = "REF-0000"
	}
	if m.Address == "" {
		m.Address = "Unknown Address"
	}
	if m.Engineer == "" {
		m.Engineer = "Unassigned"
	}
	if m.Mode == "" {
		m.Mode = "Onsite"
	}
	return m
}

// RunStats counts probed devices. Total always equals Pass + Fail.
type RunStats struct {
	Total int `json:"total"`
	Pass  int `json:"pass"`
	Fail  int `json:"fail"`
}

// Record counts one probed device.
func (s *RunStats) Record(online bool) {
	s.Total++
	if online {
		s.Pass++
	} else {
		s.Fail++
	}
}

// PassRate returns the pass percentage, 0 for an empty run.
func (s RunStats) PassRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Pass) / float64(s.Total) * 100
}

// FailRate returns the fail percentage, 0 for an empty run.
func (s RunStats) FailRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Fail) / float64(s.Total) * 100
}

// EnvironmentSummary is the physical-layer section of the report.
type EnvironmentSummary struct {
	Location          string `json:"location"`
	Temperature       string `json:"temperature"`
	TemperatureSource string `json:"temperature_source,omitempty"`
	Humidity          string `json:"humidity"`
	HumiditySource    string `json:"humidity_source,omitempty"`
}

// UnknownPublicIP is the WAN public IP when the lookup failed.
const UnknownPublicIP = "Unknown"

// WANSummary is the internet uplink section of the report.
type WANSummary struct {
	Provider  string  `json:"provider"`
	PublicIP  string  `json:"public_ip"`
	Country   string  `json:"country,omitempty"`
	City      string  `json:"city,omitempty"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// PublicIPKnown reports whether the WAN lookup produced a usable address.
func (w WANSummary) PublicIPKnown() bool {
	return w.PublicIP != "" && w.PublicIP != UnknownPublicIP
}

// DeviceResult pairs a device with its audit outcome.
type DeviceResult struct {
	Device Device      `json:"device"`
	Result AuditResult `json:"result"`
}

// GroupReport holds the results for one category in topology order.
type GroupReport struct {
	Category Category       `json:"category"`
	Results  []DeviceResult `json:"results"`
}

// BackupRecord points at a configuration backup written during the run.
type BackupRecord struct {
	Device string `json:"device"`
	Path   string `json:"path"`
}

// ReportPayload is everything handed to reporting once a run completes.
type ReportPayload struct {
	RunID       string             `json:"run_id"`
	Project     ProjectMeta        `json:"project"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	Environment EnvironmentSummary `json:"environment"`
	WAN         WANSummary         `json:"wan"`
	Groups      []GroupReport      `json:"groups"`
	Stats       RunStats           `json:"stats"`
	Backups     []BackupRecord     `json:"backups,omitempty"`
	Skipped     []Device           `json:"skipped,omitempty"`
	Aborted     bool               `json:"aborted,omitempty"`
}

// Group returns the results for a category, or nil when it has none.
func (p *ReportPayload) Group(c Category) []DeviceResult {
	for _, g := range p.Groups {
		if g.Category == c {
			return g.Results
		}
	}
	return nil
}

// DeviceCount returns the number of results across all groups.
func (p *ReportPayload) DeviceCount() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Results)
	}
	return n
}
