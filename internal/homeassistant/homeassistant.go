package homeassistant

import (
	"encoding/json"
	"fmt"

	"github.com/daemonp/satel2mqtt/internal/config"
	"github.com/daemonp/satel2mqtt/internal/log"
	"github.com/daemonp/satel2mqtt/internal/mqtt"
	"github.com/daemonp/satel2mqtt/internal/panel"
	"github.com/daemonp/satel2mqtt/internal/types"
)

// HomeAssistant publishes retained MQTT discovery configs: one alarm
// control panel per partition, a binary sensor per zone and a switch per
// output, matching how the panel surfaces in Home Assistant.
type HomeAssistant struct {
	config *config.HomeAssistantConfig
	mqtt   *mqtt.MQTT
	panel  *panel.Panel
	log    *log.Logger
}

func New(cfg *config.HomeAssistantConfig, mqttClient *mqtt.MQTT, p *panel.Panel, logger *log.Logger) *HomeAssistant {
	return &HomeAssistant{
		config: cfg,
		mqtt:   mqttClient,
		panel:  p,
		log:    logger,
	}
}

func (ha *HomeAssistant) Start() {
	ha.log.Info("Starting Home Assistant integration")
	ha.publishDiscoveryConfig()
}

func (ha *HomeAssistant) publishDiscoveryConfig() {
	for _, p := range ha.panel.GetPartitions() {
		ha.publishPartitionConfig(p)
	}
	for _, z := range ha.panel.GetZones() {
		ha.publishZoneConfig(z)
	}
	for _, o := range ha.panel.GetOutputs() {
		ha.publishOutputConfig(o)
	}
}

func (ha *HomeAssistant) publishPartitionConfig(p types.Partition) {
	config := map[string]interface{}{
		"name":               fmt.Sprintf("%s (%d)", p.Name, p.Number),
		"unique_id":          fmt.Sprintf("%s_partition_%s", ha.mqtt.GetPrefix(), p.ID),
		"state_topic":        ha.mqtt.Topics().Partition(p),
		"command_topic":      ha.mqtt.Topics().PartitionCommand(p),
		"availability_topic": ha.mqtt.Topics().Status(),
		"payload_disarm":     "disarm",
		"payload_arm_home":   "arm_home",
		"payload_arm_away":   "arm_away",
		"value_template":     "{{ value_json.status }}",
	}

	ha.publishConfig("alarm_control_panel", p.ID, config)
}

func (ha *HomeAssistant) publishZoneConfig(z types.Zone) {
	config := map[string]interface{}{
		"name":               fmt.Sprintf("%s (%d)", z.Name, z.Number),
		"unique_id":          fmt.Sprintf("%s_zone_%s", ha.mqtt.GetPrefix(), z.ID),
		"state_topic":        ha.mqtt.Topics().Zone(z),
		"availability_topic": ha.mqtt.Topics().Status(),
		"device_class":       deviceClass(z),
		"value_template":     "{{ value_json.violated }}",
		"payload_on":         "true",
		"payload_off":        "false",
	}

	ha.publishConfig("binary_sensor", z.ID, config)
}

func (ha *HomeAssistant) publishOutputConfig(o types.Output) {
	config := map[string]interface{}{
		"name":               fmt.Sprintf("%s (%d)", o.Name, o.Number),
		"unique_id":          fmt.Sprintf("%s_output_%s", ha.mqtt.GetPrefix(), o.ID),
		"state_topic":        ha.mqtt.Topics().Output(o),
		"command_topic":      ha.mqtt.Topics().OutputCommand(o),
		"availability_topic": ha.mqtt.Topics().Status(),
		"value_template":     "{{ value_json.on }}",
		"state_on":           "true",
		"state_off":          "false",
		"payload_on":         "on",
		"payload_off":        "off",
	}

	ha.publishConfig("switch", o.ID, config)
}

func (ha *HomeAssistant) publishConfig(component, objectID string, config map[string]interface{}) {
	topic := fmt.Sprintf("%s/%s/%s/%s/config", ha.config.Prefix, component, ha.mqtt.GetPrefix(), objectID)

	payload, err := json.Marshal(config)
	if err != nil {
		ha.log.Error("Failed to marshal Home Assistant config: %v", err)
		return
	}

	ha.mqtt.Publish(topic, string(payload), true)
}
