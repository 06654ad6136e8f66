package audit

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/HerbHall/sitecheck/internal/event"
	"github.com/HerbHall/sitecheck/pkg/models"
)

var (
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	stylePass  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF00"))
	styleFail  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF0000"))
	styleWarn  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFA500"))
	styleDim   = lipgloss.NewStyle().Faint(true)
)

const rule = "=================================================================="

// Printer writes human-readable progress for a run. Colour is used only when
// the writer is a terminal.
type Printer struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

// NewPrinter creates a printer on w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, color: isTerminal(w)}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *Printer) render(s lipgloss.Style, text string) string {
	if !p.color {
		return text
	}
	return s.Render(text)
}

func (p *Printer) printf(format string, args ...any) {
	fmt.Fprintf(p.w, format, args...)
}

// Attach subscribes the printer to bus.
func (p *Printer) Attach(bus *event.Bus) (detach func()) {
	unsubs := []func(){
		bus.Subscribe(event.TopicRunStarted, p.onEvent),
		bus.Subscribe(event.TopicGroupStarted, p.onEvent),
		bus.Subscribe(event.TopicDeviceProbed, p.onEvent),
		bus.Subscribe(event.TopicGroupCompleted, p.onEvent),
		bus.Subscribe(event.TopicRunCompleted, p.onEvent),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (p *Printer) onEvent(_ context.Context, e event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch v := e.Payload.(type) {
	case event.RunStarted:
		p.header(v)
	case event.GroupStarted:
		p.printf("\n%s\n", p.render(styleTitle, fmt.Sprintf("--- %s (%d devices) ---", strings.ToUpper(v.Category.Title()), v.Devices)))
	case event.DeviceProbed:
		p.printf("%s\n", p.deviceLine(v.Device, v.Result))
	case event.GroupCompleted:
		p.groupFooter(v)
	case event.RunCompleted:
		if v.Report != nil {
			p.footer(v.Report)
		}
	}
}

func (p *Printer) header(v event.RunStarted) {
	m := v.Project
	p.printf("%s\n", rule)
	p.printf("%s\n", p.render(styleTitle, "SITE COMMISSIONING AUDIT"))
	p.printf("%s\n", rule)
	p.printf("Project:   %s\n", m.Name)
	p.printf("Reference: %s\n", m.Reference)
	p.printf("Address:   %s\n", m.Address)
	p.printf("Engineer:  %s\n", m.Engineer)
	p.printf("Mode:      %s\n", m.Mode)
	p.printf("Devices:   %d\n", v.Devices)
	p.printf("%s\n", p.render(styleDim, "Run "+v.RunID))
}

// DeviceLine formats one progress line:
// STATUS NAME | MODE | IP | MAC | SERIAL | FIRMWARE | LOCATION.
// A failed device shows its error in place of the MAC and serial.
func DeviceLine(dev models.Device, res models.AuditResult) string {
	status, serial := "[PASS]", res.Serial
	if !res.Online {
		status = "[FAIL]"
		if res.ErrorDetail != "" {
			serial = models.TruncateError(res.ErrorDetail)
		}
	}
	return strings.Join([]string{
		status + " " + dev.Name,
		res.Mode,
		dev.IP,
		res.DisplayMAC(),
		serial,
		res.Firmware,
		dev.Location.String(),
	}, " | ")
}

func (p *Printer) deviceLine(dev models.Device, res models.AuditResult) string {
	line := DeviceLine(dev, res)
	if res.Online {
		return p.render(stylePass, line[:6]) + line[6:]
	}
	return p.render(styleFail, line[:6]) + line[6:]
}

func (p *Printer) groupFooter(v event.GroupCompleted) {
	for _, d := range v.Skipped {
		p.printf("%s\n", p.render(styleWarn, "[SKIP] "+d.Name+" | "+d.IP))
	}
	if len(v.Backups) == 0 {
		return
	}
	p.printf("Backups:\n")
	for _, b := range v.Backups {
		p.printf("  %s -> %s\n", b.Device, b.Path)
	}
}

func (p *Printer) footer(r *models.ReportPayload) {
	p.printf("\n%s\n", rule)
	p.printf("WAN:         %s (%s)\n", r.WAN.PublicIP, r.WAN.Provider)
	if r.WAN.LatencyMs > 0 {
		p.printf("Latency:     %.1f ms\n", r.WAN.LatencyMs)
	}
	p.printf("Temperature: %s\n", r.Environment.Temperature)
	p.printf("Humidity:    %s\n", r.Environment.Humidity)
	for _, g := range r.Groups {
		for _, dr := range g.Results {
			if dr.Result.NAT == models.NATDouble {
				p.printf("%s\n", p.render(styleWarn, fmt.Sprintf("WARNING: %s is behind double NAT (public IP %s not on WAN)", dr.Device.Name, r.WAN.PublicIP)))
			}
		}
	}

	s := r.Stats
	p.printf("%s\n", rule)
	p.printf("%s\n", p.render(styleTitle, "COMMISSIONING SUMMARY"))
	p.printf("Total: %d  %s  %s\n", s.Total,
		p.render(stylePass, fmt.Sprintf("Pass: %d (%.1f%%)", s.Pass, s.PassRate())),
		p.render(styleFail, fmt.Sprintf("Fail: %d (%.1f%%)", s.Fail, s.FailRate())),
	)
	if len(r.Skipped) > 0 {
		p.printf("%s\n", p.render(styleWarn, fmt.Sprintf("Skipped: %d (run aborted)", len(r.Skipped))))
	}
	p.printf("%s\n", rule)
}
