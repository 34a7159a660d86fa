package homeassistant

import (
	"strings"

	"github.com/daemonp/satel2mqtt/internal/types"
)

func deviceClass(zone types.Zone) string {
	if zone.DeviceClass != "" {
		return zone.DeviceClass
	}

	// Guess from the panel-reported name when the config doesn't say.
	name := strings.ToLower(zone.Name)
	if strings.Contains(name, "pir") || strings.Contains(name, "motion") {
		return "motion"
	}
	if strings.Contains(name, "door") {
		return "door"
	}
	if strings.Contains(name, "window") {
		return "window"
	}
	if strings.Contains(name, "smoke") || strings.Contains(name, "fire") {
		return "smoke"
	}
	if strings.Contains(name, "gas") {
		return "gas"
	}
	if strings.Contains(name, "water") || strings.Contains(name, "flood") {
		return "moisture"
	}

	return "motion"
}
