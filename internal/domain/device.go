package domain

import "fmt"

// DeviceStatus is the lifecycle state of a pooled device.
type DeviceStatus string

const (
	DeviceAvailable        DeviceStatus = "available"
	DeviceBusy             DeviceStatus = "busy"
	DeviceErrorQuarantined DeviceStatus = "error"
	DeviceOffline          DeviceStatus = "offline"
)

func (s DeviceStatus) String() string { return string(s) }

// IsHealthy reports whether a device in this state can serve checks.
func (s DeviceStatus) IsHealthy() bool {
	return s == DeviceAvailable || s == DeviceBusy
}

// DeviceID returns the stable identifier for a pool slot.
func DeviceID(slot int) string {
	return fmt.Sprintf("device_%d", slot)
}
