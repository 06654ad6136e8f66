package models

import (
	"fmt"
	"strings"
)

// Family is the closed set of device families the audit engine has drivers for.
type Family string

const (
	FamilySwitch      Family = "switch"
	FamilyRouter      Family = "router"
	FamilyPDU         Family = "pdu"
	FamilyAVProcessor Family = "av_processor"
	FamilySNMP        Family = "snmp"
	FamilyPing        Family = "ping"
)

// Variant selects a sub-dialect within a family that is fixed by the topology
// (as opposed to the switch dialects, which are discovered at connect time).
type Variant string

const (
	VariantStandard Variant = "standard"
	// VariantLegacy marks routers whose SSH server only offers older key exchanges.
	VariantLegacy Variant = "legacy"
)

// declaredFamilies maps every driver string the topology may carry to its family.
var declaredFamilies = map[string]struct {
	family  Family
	variant Variant
}{
	"cisco":          {FamilySwitch, VariantStandard},
	"switch":         {FamilySwitch, VariantStandard},
	"cisco_switch":   {FamilySwitch, VariantStandard},
	"catalyst":       {FamilySwitch, VariantStandard},
	"router":         {FamilyRouter, VariantStandard},
	"router_cisco":   {FamilyRouter, VariantStandard},
	"router_draytek": {FamilyRouter, VariantLegacy},
	"draytek":        {FamilyRouter, VariantLegacy},
	"router_legacy":  {FamilyRouter, VariantLegacy},
	"gude":           {FamilyPDU, VariantStandard},
	"pdu":            {FamilyPDU, VariantStandard},
	"crestron":       {FamilyAVProcessor, VariantStandard},
	"av":             {FamilyAVProcessor, VariantStandard},
	"av_processor":   {FamilyAVProcessor, VariantStandard},
	"snmp":           {FamilySNMP, VariantStandard},
	"ping":           {FamilyPing, VariantStandard},
	"ping_driver":    {FamilyPing, VariantStandard},
	"generic":        {FamilyPing, VariantStandard},
	"":               {FamilyPing, VariantStandard},
}

// ResolveFamily maps a declared driver string to a family. Unrecognised
// strings resolve to FamilyPing with known=false.
func ResolveFamily(declared string) (family Family, variant Variant, known bool) {
	key := strings.ToLower(strings.TrimSpace(declared))
	if f, ok := declaredFamilies[key]; ok {
		return f.family, f.variant, true
	}
	return FamilyPing, VariantStandard, false
}

// Mode returns the short transport tag shown in console output.
func (f Family) Mode() string {
	switch f {
	case FamilySwitch, FamilyRouter, FamilyAVProcessor:
		return "(SSH)"
	case FamilyPDU:
		return "(HTTP)"
	case FamilySNMP:
		return "(SNMP)"
	default:
		return "(PING)"
	}
}

// Category is a report section. Categories are audited in CategoryOrder.
type Category string

const (
	CategoryNetwork  Category = "network"
	CategoryPower    Category = "power"
	CategoryControl  Category = "control"
	CategoryAV       Category = "av"
	CategorySecurity Category = "security"
	CategoryRMS      Category = "rms"
	CategoryGeneral  Category = "general"
)

// CategoryOrder is the fixed order in which groups are scanned and reported.
var CategoryOrder = []Category{
	CategoryNetwork,
	CategoryPower,
	CategoryControl,
	CategoryAV,
	CategorySecurity,
	CategoryRMS,
	CategoryGeneral,
}

var categoryKeywords = []struct {
	category Category
	words    []string
}{
	{CategoryNetwork, []string{"network"}},
	{CategoryPower, []string{"power"}},
	{CategoryControl, []string{"control"}},
	{CategoryAV, []string{"av", "video", "audio"}},
	{CategorySecurity, []string{"security", "cctv"}},
	{CategoryRMS, []string{"rms", "server"}},
}

// Title returns the human readable section name.
func (c Category) Title() string {
	switch c {
	case CategoryAV:
		return "AV"
	case CategoryRMS:
		return "RMS"
	case "":
		return ""
	default:
		return strings.ToUpper(string(c[:1])) + string(c[1:])
	}
}

// ResolveCategory picks the first category whose keyword appears in group.
// An empty group falls back to a category derived from the family.
func ResolveCategory(group string, family Family) Category {
	g := strings.ToLower(strings.TrimSpace(group))
	if g == "" {
		switch family {
		case FamilySwitch, FamilyRouter:
			return CategoryNetwork
		case FamilyPDU:
			return CategoryPower
		case FamilyAVProcessor:
			return CategoryAV
		default:
			return CategoryGeneral
		}
	}
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if strings.Contains(g, w) {
				return ck.category
			}
		}
	}
	return CategoryGeneral
}

// Location places a device within the building.
type Location struct {
	Floor string `json:"floor" yaml:"floor"`
	Area  string `json:"area,omitempty" yaml:"area"`
	Room  string `json:"room" yaml:"room"`
}

func (l Location) String() string {
	floor, room := l.Floor, l.Room
	if floor == "" {
		floor = "Unknown"
	}
	if room == "" {
		room = "Unknown"
	}
	return floor + " > " + room
}

// Device is one audited asset as loaded from the topology. Devices are
// treated as immutable once loaded.
type Device struct {
	Name     string   `json:"name"`
	IP       string   `json:"ip"`
	Driver   string   `json:"driver"`
	Family   Family   `json:"family"`
	Variant  Variant  `json:"variant,omitempty"`
	Group    string   `json:"group"`
	Category Category `json:"category"`
	Username string   `json:"-"`
	Password string   `json:"-"`
	Secret   string   `json:"-"`
	Critical bool     `json:"critical"`
	Location Location `json:"location"`
}

// NewDevice builds a Device and resolves its family and category once.
func NewDevice(name, ip, driver, group string) Device {
	family, variant, _ := ResolveFamily(driver)
	return Device{
		Name:     name,
		IP:       ip,
		Driver:   driver,
		Family:   family,
		Variant:  variant,
		Group:    group,
		Category: ResolveCategory(group, family),
	}
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Name, d.IP)
}
