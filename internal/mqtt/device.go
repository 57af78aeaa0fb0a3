package mqtt

import "github.com/reelworks/montage/internal/buildinfo"

// DeviceInfo is the Home Assistant device registry block repeated in
// every discovery payload. Sharing one block across the studio sensors
// makes HA group them under a single device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is one sensor's MQTT discovery payload, published
// retained each time the broker connection comes up.
type SensorConfig struct {
	Name              string     `json:"name"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	Device            DeviceInfo `json:"device"`
	Icon              string     `json:"icon,omitempty"`
	UnitOfMeasurement string     `json:"unit_of_measurement,omitempty"`
	StateClass        string     `json:"state_class,omitempty"`
	EntityCategory    string     `json:"entity_category,omitempty"`
}

// NewDeviceInfo builds the shared device block. instanceID is the
// persisted installation identity; deviceName is what shows up in the
// HA UI.
func NewDeviceInfo(instanceID, deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{instanceID},
		Name:         deviceName,
		Manufacturer: "Reelworks",
		Model:        "Montage Video Agent",
		SWVersion:    buildinfo.Version,
	}
}
