package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/daemonp/satel2mqtt/internal/config"
	"github.com/daemonp/satel2mqtt/internal/log"
	"github.com/daemonp/satel2mqtt/internal/panel"
	"github.com/daemonp/satel2mqtt/internal/types"
)

const (
	offlinePayload = "offline"
	onlinePayload  = "online"
)

// MQTT publishes reconciled panel state and accepts partition/output
// commands over the broker. It consumes the panel's event subscription;
// the protocol engine knows nothing about it.
type MQTT struct {
	config *config.MQTTConfig
	panel  *panel.Panel
	log    *log.Logger
	client mqtt.Client
	topics *Topics
}

func NewMQTT(cfg *config.MQTTConfig, p *panel.Panel, logger *log.Logger) *MQTT {
	return &MQTT{
		config: cfg,
		panel:  p,
		log:    logger,
		topics: NewTopics(cfg.Prefix),
	}
}

func (m *MQTT) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", m.config.Host, m.config.Port))
	opts.SetClientID(m.config.ClientID)
	opts.SetUsername(m.config.Username)
	opts.SetPassword(m.config.Password)
	opts.SetCleanSession(m.config.Clean)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onDisconnect)
	opts.SetWill(m.topics.Status(), offlinePayload, byte(m.config.QOS), m.config.Retain)

	m.client = mqtt.NewClient(opts)

	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %v", token.Error())
	}

	m.log.Info("Connected to MQTT broker: %s:%d", m.config.Host, m.config.Port)
	return nil
}

// Run consumes panel events until the panel closes its event channel.
func (m *MQTT) Run() {
	for event := range m.panel.Events() {
		switch e := event.(type) {
		case types.ConnectionEvent:
			m.publishAvailability(e)
		case types.PartitionEvent:
			m.publishPartition(e)
		case types.ZoneEvent:
			m.publishZone(e)
		case types.OutputEvent:
			m.publishOutput(e)
		}
	}
}

func (m *MQTT) onConnect(client mqtt.Client) {
	m.log.Info("MQTT connection established")
	m.publish(m.topics.Status(), onlinePayload, true)
	m.publishDeviceInfo()
	m.subscribeTopics()
	m.publishAll()
}

func (m *MQTT) onDisconnect(client mqtt.Client, err error) {
	m.log.Error("MQTT connection lost: %v", err)
}

func (m *MQTT) subscribeTopics() {
	var topics []string
	for _, p := range m.panel.GetPartitions() {
		topics = append(topics, m.topics.PartitionCommand(p))
	}
	for _, o := range m.panel.GetOutputs() {
		topics = append(topics, m.topics.OutputCommand(o))
	}

	for _, topic := range topics {
		token := m.client.Subscribe(topic, byte(m.config.QOS), m.handleMessage)
		if token.Wait() && token.Error() != nil {
			m.log.Error("Failed to subscribe to topic %s: %v", topic, token.Error())
		} else {
			m.log.Debug("Subscribed to topic: %s", topic)
		}
	}
}

func (m *MQTT) handleMessage(client mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	payload := string(msg.Payload())

	m.log.Debug("Received message on topic %s: %s", topic, payload)

	for _, p := range m.panel.GetPartitions() {
		if topic == m.topics.PartitionCommand(p) {
			m.handlePartitionCommand(p, payload)
			return
		}
	}
	for _, o := range m.panel.GetOutputs() {
		if topic == m.topics.OutputCommand(o) {
			m.handleOutputCommand(o, payload)
			return
		}
	}
	m.log.Warn("Received message on unknown topic: %s", topic)
}

func (m *MQTT) handlePartitionCommand(p types.Partition, command string) {
	var err error
	switch command {
	case "arm_away":
		err = m.panel.Arm([]int{p.Number}, types.ArmModeFull, "")
	case "arm_home":
		err = m.panel.Arm([]int{p.Number}, types.ArmMode2, "")
	case "disarm":
		err = m.panel.Disarm([]int{p.Number}, "")
	case "clear_alarm":
		err = m.panel.ClearAlarm([]int{p.Number}, "")
	default:
		m.log.Warn("Unknown partition command: %s", command)
		return
	}
	if err != nil {
		m.log.Error("Partition %s command %s failed: %v", p.ID, command, err)
	}
}

func (m *MQTT) handleOutputCommand(o types.Output, command string) {
	var err error
	switch command {
	case "on":
		err = m.panel.SetOutput(o.Number, true, "")
	case "off":
		err = m.panel.SetOutput(o.Number, false, "")
	default:
		m.log.Warn("Unknown output command: %s", command)
		return
	}
	if err != nil {
		m.log.Error("Output %s command %s failed: %v", o.ID, command, err)
	}
}

func (m *MQTT) publishAvailability(e types.ConnectionEvent) {
	if e.Connected {
		m.publish(m.topics.Status(), onlinePayload, true)
		m.publishDeviceInfo()
		return
	}
	m.log.Warn("Panel unavailable: %s", e.Reason)
	m.publish(m.topics.Status(), offlinePayload, true)
}

func (m *MQTT) publishDeviceInfo() {
	device := m.panel.GetDevice()
	if device.Model == "" {
		return
	}
	info := map[string]interface{}{
		"model":   device.Model,
		"version": device.Version,
	}
	m.publishJSON(m.topics.Config(), info, true)
}

// publishAll replays the current snapshot, covering events missed while
// the broker connection was down.
func (m *MQTT) publishAll() {
	snap := m.panel.Snapshot()
	for _, p := range m.panel.GetPartitions() {
		if s, ok := snap.Partitions[p.Number]; ok {
			m.publishPartitionState(p, s.Mode, s.LastChanged)
		}
	}
	for _, z := range m.panel.GetZones() {
		if v, ok := snap.Zones[z.Number]; ok {
			m.publishZoneState(z, v, time.Now())
		}
	}
	for _, o := range m.panel.GetOutputs() {
		if v, ok := snap.Outputs[o.Number]; ok {
			m.publishOutputState(o, v, time.Now())
		}
	}
}

func (m *MQTT) publishPartition(e types.PartitionEvent) {
	for _, p := range m.panel.GetPartitions() {
		if p.Number == e.Partition {
			m.publishPartitionState(p, e.New, e.Time)
			return
		}
	}
}

func (m *MQTT) publishPartitionState(p types.Partition, mode types.PartitionArming, at time.Time) {
	m.publishJSON(m.topics.Partition(p), map[string]interface{}{
		"id":         p.ID,
		"name":       p.Name,
		"number":     p.Number,
		"status":     mode.String(),
		"armed":      mode.Armed(),
		"changed_at": at.Format(time.RFC3339),
	}, m.config.Retain)
}

func (m *MQTT) publishZone(e types.ZoneEvent) {
	for _, z := range m.panel.GetZones() {
		if z.Number == e.Zone {
			m.publishZoneState(z, e.New, e.Time)
			return
		}
	}
}

func (m *MQTT) publishZoneState(z types.Zone, violated bool, at time.Time) {
	m.publishJSON(m.topics.Zone(z), map[string]interface{}{
		"id":         z.ID,
		"name":       z.Name,
		"number":     z.Number,
		"violated":   violated,
		"changed_at": at.Format(time.RFC3339),
	}, m.config.Retain)
}

func (m *MQTT) publishOutput(e types.OutputEvent) {
	for _, o := range m.panel.GetOutputs() {
		if o.Number == e.Output {
			m.publishOutputState(o, e.New, e.Time)
			return
		}
	}
}

func (m *MQTT) publishOutputState(o types.Output, on bool, at time.Time) {
	m.publishJSON(m.topics.Output(o), map[string]interface{}{
		"id":         o.ID,
		"name":       o.Name,
		"number":     o.Number,
		"on":         on,
		"changed_at": at.Format(time.RFC3339),
	}, m.config.Retain)
}

func (m *MQTT) publishJSON(topic string, message interface{}, retain bool) {
	payload, err := json.Marshal(message)
	if err != nil {
		m.log.Error("Failed to marshal message for topic %s: %v", topic, err)
		return
	}
	m.publish(topic, string(payload), retain)
}

// Publish sends a raw payload; used by the Home Assistant discovery layer.
func (m *MQTT) Publish(topic string, payload string, retain bool) {
	m.publish(topic, payload, retain)
}

func (m *MQTT) GetPrefix() string {
	return m.config.Prefix
}

func (m *MQTT) Topics() *Topics {
	return m.topics
}

func (m *MQTT) publish(topic string, payload string, retain bool) {
	token := m.client.Publish(topic, byte(m.config.QOS), retain, payload)
	if token.Wait() && token.Error() != nil {
		m.log.Error("Failed to publish message to topic %s: %v", topic, token.Error())
	} else {
		m.log.Debug("Published message to topic: %s", topic)
	}
}

func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.publish(m.topics.Status(), offlinePayload, true)
		m.client.Disconnect(250)
	}
}
