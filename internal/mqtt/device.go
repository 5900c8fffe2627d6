package mqtt

import "github.com/nugget/cornerbot/internal/buildinfo"

// DeviceInfo is the Home Assistant device registry block shared by
// every entity this instance announces.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is the retained discovery payload for an HA MQTT sensor.
type SensorConfig struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	ValueTemplate       string     `json:"value_template,omitempty"`
	JsonAttributesTopic string     `json:"json_attributes_topic,omitempty"`
	AvailabilityTopic   string     `json:"availability_topic"`
	Device              DeviceInfo `json:"device"`
	Icon                string     `json:"icon,omitempty"`
}

// NewDeviceInfo describes the bot instance named deviceName.
func NewDeviceInfo(deviceName string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{"cornerbot_" + deviceName},
		Name:         deviceName,
		Manufacturer: "Cornerbot",
		Model:        "Referee stats bot",
		SWVersion:    buildinfo.Version,
	}
}
