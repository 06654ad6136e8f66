package testutil

import (
	"github.com/HerbHall/sitecheck/pkg/models"
)

// NewDevice returns a Device with sensible defaults, suitable for test fixtures.
// Override individual fields with options.
func NewDevice(opts ...func(*models.Device)) models.Device {
	d := models.NewDevice("test-device", "192.168.1.100", "cisco", "Network")
	d.Username = "admin"
	d.Password = "admin"
	d.Location = models.Location{Floor: "Ground", Room: "Comms Room"}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithName sets the device name.
func WithName(name string) func(*models.Device) {
	return func(d *models.Device) { d.Name = name }
}

// WithIP sets the device IP address.
func WithIP(ip string) func(*models.Device) {
	return func(d *models.Device) { d.IP = ip }
}

// WithDriver sets the declared driver and re-resolves the family.
func WithDriver(driver string) func(*models.Device) {
	return func(d *models.Device) {
		d.Driver = driver
		d.Family, d.Variant, _ = models.ResolveFamily(driver)
		d.Category = models.ResolveCategory(d.Group, d.Family)
	}
}

// WithGroup sets the group and re-resolves the category.
func WithGroup(group string) func(*models.Device) {
	return func(d *models.Device) {
		d.Group = group
		d.Category = models.ResolveCategory(group, d.Family)
	}
}

// WithCredentials sets the login credentials.
func WithCredentials(user, pass, secret string) func(*models.Device) {
	return func(d *models.Device) {
		d.Username, d.Password, d.Secret = user, pass, secret
	}
}

// WithCritical marks the device as critical.
func WithCritical() func(*models.Device) {
	return func(d *models.Device) { d.Critical = true }
}

// WithLocation sets the device location.
func WithLocation(floor, room string) func(*models.Device) {
	return func(d *models.Device) { d.Location = models.Location{Floor: floor, Room: room} }
}
