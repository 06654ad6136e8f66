// Package topology loads the device inventory of a site from YAML. Two
// layouts are accepted: a flat device list, and a floor > section > room
// tree. Blank credentials are filled from the environment and an optional
// .env file.
package topology

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/HerbHall/sitecheck/pkg/models"
)

// ErrEmpty is returned when a topology yields no usable devices.
var ErrEmpty = errors.New("topology has no devices")

// maxFileSize bounds the topology file read into memory (1 MB).
const maxFileSize = 1 << 20

// Topology is a loaded site inventory in file order.
type Topology struct {
	Project models.ProjectMeta
	Devices []models.Device
}

type fileDoc struct {
	Project     models.ProjectMeta `yaml:"project"`
	ProjectName string             `yaml:"project_name"`
	SiteCode    string             `yaml:"site_code"`
	Devices     []deviceEntry      `yaml:"devices"`
	Topology    []floorEntry       `yaml:"topology"`
}

type deviceEntry struct {
	Name     string `yaml:"name"`
	IP       string `yaml:"ip"`
	Driver   string `yaml:"driver"`
	Group    string `yaml:"group"`
	Critical bool   `yaml:"critical"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Secret   string `yaml:"secret"`
	Floor    string `yaml:"floor"`
	Area     string `yaml:"area"`
	Room     string `yaml:"room"`
}

type floorEntry struct {
	Floor    string         `yaml:"floor"`
	Sections []sectionEntry `yaml:"sections"`
}

type sectionEntry struct {
	Type  string      `yaml:"type"`
	Rooms []roomEntry `yaml:"rooms"`
}

type roomEntry struct {
	Name    string        `yaml:"name"`
	Devices []deviceEntry `yaml:"devices"`
}

// Loader parses topology files.
type Loader struct {
	dotenv map[string]string
	getenv func(string) string
	logger *zap.Logger
}

// NewLoader creates a loader. envFile is read with godotenv when it exists;
// a missing file is not an error. Process environment wins over the file.
func NewLoader(envFile string, logger *zap.Logger) (*Loader, error) {
	l := &Loader{dotenv: map[string]string{}, getenv: os.Getenv, logger: logger}
	if envFile == "" {
		return l, nil
	}
	if _, err := os.Stat(envFile); errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	vars, err := godotenv.Read(envFile)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", envFile, err)
	}
	l.dotenv = vars
	logger.Debug("credential defaults loaded", zap.String("file", envFile), zap.Int("keys", len(vars)))
	return l, nil
}

func (l *Loader) lookup(key string) string {
	if v := l.getenv(key); v != "" {
		return v
	}
	return l.dotenv[key]
}

// Load reads and parses the topology at path.
func (l *Loader) Load(path string) (*Topology, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	if info.Size() > maxFileSize {
		return nil, fmt.Errorf("%s exceeds maximum size (%d bytes > %d byte limit)", path, info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("topology: %w", err)
	}
	t, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse decodes a topology document.
func (l *Loader) Parse(data []byte) (*Topology, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}

	project := doc.Project
	if project.Name == "" {
		project.Name = doc.ProjectName
	}
	if project.Reference == "" {
		project.Reference = doc.SiteCode
	}

	t := &Topology{Project: models.DefaultProjectMeta(project)}
	seen := make(map[string]bool)
	for _, e := range doc.Devices {
		l.add(t, seen, e, models.Location{Floor: e.Floor, Area: e.Area, Room: e.Room})
	}
	for _, f := range doc.Topology {
		for _, s := range f.Sections {
			for _, r := range s.Rooms {
				for _, e := range r.Devices {
					l.add(t, seen, e, models.Location{Floor: f.Floor, Area: s.Type, Room: r.Name})
				}
			}
		}
	}

	if len(t.Devices) == 0 {
		return nil, ErrEmpty
	}
	return t, nil
}

// add appends one entry. An entry repeating the name and IP of an earlier
// one is dropped; the first occurrence wins.
func (l *Loader) add(t *Topology, seen map[string]bool, e deviceEntry, loc models.Location) {
	name, ip := strings.TrimSpace(e.Name), strings.TrimSpace(e.IP)
	if name == "" || ip == "" {
		l.logger.Warn("skipping device without name or IP", zap.String("name", name), zap.String("ip", ip))
		return
	}
	key := name + "\x00" + ip
	if seen[key] {
		l.logger.Warn("skipping duplicate device", zap.String("name", name), zap.String("ip", ip))
		return
	}
	seen[key] = true

	d := models.NewDevice(name, ip, strings.TrimSpace(e.Driver), strings.TrimSpace(e.Group))
	if _, _, known := models.ResolveFamily(e.Driver); !known {
		l.logger.Warn("unknown driver, falling back to ping",
			zap.String("device", name),
			zap.String("driver", e.Driver),
		)
	}
	d.Critical = e.Critical
	d.Location = loc
	d.Username = l.credential(e.Username, d.Family, "USER")
	d.Password = l.credential(e.Password, d.Family, "PASS")
	d.Secret = l.credential(e.Secret, d.Family, "SECRET")
	t.Devices = append(t.Devices, d)
}

// credential returns explicit when set, else SITECHECK_<FAMILY>_<kind>, else
// CISCO_<kind> for switches and routers.
func (l *Loader) credential(explicit string, family models.Family, kind string) string {
	if explicit != "" {
		return explicit
	}
	if v := l.lookup(EnvKey(family, kind)); v != "" {
		return v
	}
	if family == models.FamilySwitch || family == models.FamilyRouter {
		return l.lookup("CISCO_" + kind)
	}
	return ""
}

// EnvKey names the credential variable for a family: SITECHECK_PDU_USER.
func EnvKey(family models.Family, kind string) string {
	return "SITECHECK_" + strings.ToUpper(string(family)) + "_" + kind
}
