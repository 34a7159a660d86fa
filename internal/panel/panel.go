package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/daemonp/satel2mqtt/internal/config"
	"github.com/daemonp/satel2mqtt/internal/log"
	"github.com/daemonp/satel2mqtt/internal/satel"
	"github.com/daemonp/satel2mqtt/internal/types"
	"github.com/daemonp/satel2mqtt/internal/util"
)

var ErrNotConnected = errors.New("panel: not connected")

const commandTimeout = 10 * time.Second

// statusOpcodes are the bitmaps collected on every full status refresh.
var statusOpcodes = []byte{
	satel.CmdZonesViolation,
	satel.CmdOutputsState,
	satel.CmdPartitionsArmed,
	satel.CmdPartitionsMode2,
	satel.CmdPartitionsAlarm,
}

// Panel supervises the connection to the alarm panel: it connects,
// reconnects with exponential backoff, polls full status periodically and
// feeds every decoded state frame into the reconciler. Consumers read
// typed change events from Events and issue commands through the
// Arm/Disarm/SetOutput methods.
type Panel struct {
	cfg    *config.Config
	log    *log.Logger
	rec    *Reconciler
	events chan interface{}

	mu         sync.Mutex
	conn       *satel.Conn
	device     types.Device
	partitions []types.Partition
	zones      []types.Zone
	outputs    []types.Output

	// ctx parents every command sent to the panel, so Stop cancels
	// in-flight sends even in the middle of the connect sequence.
	ctx      context.Context
	cancel   context.CancelFunc
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewPanel(cfg *config.Config, logger *log.Logger) *Panel {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Panel{
		cfg:    cfg,
		log:    logger,
		events: make(chan interface{}, 256),
		ctx:    ctx,
		cancel: cancel,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	p.rec = NewReconciler(logger, p.emitEvent)
	p.partitions = partitionsFromConfig(cfg)
	p.zones = zonesFromConfig(cfg)
	p.outputs = outputsFromConfig(cfg)
	return p
}

// Start launches the supervisor. It returns immediately; connection
// progress is reported through Events.
func (p *Panel) Start() {
	go p.run()
}

// Stop tears the session down, cancelling any in-flight command, and
// closes the event channel once the supervisor has exited.
func (p *Panel) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		close(p.stop)
	})
	<-p.done
}

// Events delivers state change and connection lifecycle events in the
// order the session goroutine emitted them.
func (p *Panel) Events() <-chan interface{} {
	return p.events
}

// Snapshot returns a point-in-time copy of the reconciled panel state.
func (p *Panel) Snapshot() types.Snapshot {
	return p.rec.Current()
}

func (p *Panel) run() {
	defer close(p.done)
	defer close(p.events)

	initial := time.Duration(p.cfg.Satel.ReconnectDelay) * time.Second
	max := time.Duration(p.cfg.Satel.ReconnectMax) * time.Second
	backoff := initial

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		conn, err := p.connect()
		if err != nil {
			p.log.Error("Panel connection failed: %v", err)
			p.emitEvent(types.ConnectionEvent{Connected: false, Reason: err.Error(), Time: time.Now()})
			if !p.sleep(backoff) {
				return
			}
			backoff *= 2
			if backoff > max {
				backoff = max
			}
			continue
		}

		backoff = initial
		p.setConn(conn)
		p.emitEvent(types.ConnectionEvent{Connected: true, Time: time.Now()})
		p.log.Info("Connected to %s (%s)", p.device.Model, p.device.Version)

		p.runSession(conn)
		p.setConn(nil)

		reason := "connection closed"
		if err := conn.Reason(); err != nil {
			reason = err.Error()
		}
		p.log.Warn("Panel session ended: %s", reason)
		p.emitEvent(types.ConnectionEvent{Connected: false, Reason: reason, Time: time.Now()})

		select {
		case <-p.stop:
			return
		default:
		}
		if !p.sleep(backoff) {
			return
		}
	}
}

// sleep waits for the backoff interval, returning false when stopped.
func (p *Panel) sleep(d time.Duration) bool {
	select {
	case <-p.stop:
		return false
	case <-time.After(d):
		return true
	}
}

func (p *Panel) connect() (*satel.Conn, error) {
	cipher, err := satel.NewCipher(p.cfg.Satel.IntegrationKey)
	if err != nil {
		return nil, err
	}

	heartbeat := time.Duration(p.cfg.Satel.Heartbeat) * time.Second
	conn, err := satel.Dial(p.ctx, p.cfg.Satel.Host, p.cfg.Satel.Port, cipher, p.log, heartbeat)
	if err != nil {
		return nil, err
	}

	if err := p.loadDevice(conn); err != nil {
		conn.Close()
		return nil, err
	}
	p.loadNames(conn)
	if err := p.refreshStatus(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func (p *Panel) runSession(conn *satel.Conn) {
	interval := time.Duration(p.cfg.Satel.PollInterval) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			conn.Close()
			return
		case <-conn.Done():
			return
		case r, ok := <-conn.Events():
			if !ok {
				return
			}
			p.handleUnsolicited(conn, r)
		case <-ticker.C:
			if err := p.refreshStatus(conn); err != nil {
				p.log.Error("Status refresh failed: %v", err)
			}
		}
	}
}

func (p *Panel) loadDevice(conn *satel.Conn) error {
	ctx, cancel := context.WithTimeout(p.ctx, commandTimeout)
	defer cancel()
	reply, err := conn.Send(ctx, satel.VersionCommand())
	if err != nil {
		return fmt.Errorf("panel: reading panel version: %w", err)
	}
	device, err := satel.ParseVersion(reply.Payload)
	if err != nil {
		return fmt.Errorf("panel: parsing panel version: %w", err)
	}

	p.mu.Lock()
	p.device = device
	p.mu.Unlock()
	return nil
}

// loadNames fills in names for configured devices that have none, either
// from an explicit config entry or by querying the panel. Failures are
// logged and fall back to a generated name; they never block the session.
func (p *Panel) loadNames(conn *satel.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.partitions {
		if p.partitions[i].Name == "" {
			p.partitions[i].Name = p.readName(conn, satel.DeviceTypePartition, p.partitions[i].Number)
		}
		if p.partitions[i].Name == "" {
			p.partitions[i].Name = fmt.Sprintf("Partition %d", p.partitions[i].Number)
		}
		p.partitions[i].ID = util.Slugify(p.partitions[i].Name)
	}
	for i := range p.zones {
		if p.zones[i].Name == "" {
			p.zones[i].Name = p.readName(conn, satel.DeviceTypeZone, p.zones[i].Number)
		}
		if p.zones[i].Name == "" {
			p.zones[i].Name = fmt.Sprintf("Zone %d", p.zones[i].Number)
		}
		p.zones[i].ID = util.Slugify(p.zones[i].Name)
	}
	for i := range p.outputs {
		if p.outputs[i].Name == "" {
			p.outputs[i].Name = p.readName(conn, satel.DeviceTypeOutput, p.outputs[i].Number)
		}
		if p.outputs[i].Name == "" {
			p.outputs[i].Name = fmt.Sprintf("Output %d", p.outputs[i].Number)
		}
		p.outputs[i].ID = util.Slugify(p.outputs[i].Name)
	}
}

func (p *Panel) readName(conn *satel.Conn, deviceType byte, number int) string {
	ctx, cancel := context.WithTimeout(p.ctx, commandTimeout)
	defer cancel()
	reply, err := conn.Send(ctx, satel.DeviceNameCommand(deviceType, number))
	if err != nil {
		p.log.Warn("Reading name of device %d/%d failed: %v", deviceType, number, err)
		return ""
	}
	if reply.Op != satel.CmdDeviceName {
		return ""
	}
	name, err := satel.ParseDeviceName(reply.Payload)
	if err != nil {
		p.log.Warn("Parsing name of device %d/%d failed: %v", deviceType, number, err)
		return ""
	}
	return name.Name
}

// refreshStatus polls every status bitmap once and applies the results as
// full-state refreshes.
func (p *Panel) refreshStatus(conn *satel.Conn) error {
	for _, op := range statusOpcodes {
		ctx, cancel := context.WithTimeout(p.ctx, commandTimeout)
		reply, err := conn.Send(ctx, satel.StatusCommand(op))
		cancel()
		if err != nil {
			return fmt.Errorf("panel: status 0x%02X: %w", op, err)
		}
		p.applyStatus(reply)
	}
	return nil
}

func (p *Panel) handleUnsolicited(conn *satel.Conn, r satel.Reply) {
	switch r.Op {
	case satel.CmdZonesViolation, satel.CmdOutputsState,
		satel.CmdPartitionsArmed, satel.CmdPartitionsMode2, satel.CmdPartitionsAlarm:
		p.applyStatus(r)
	case satel.CmdNewData:
		for _, op := range satel.ParseNewData(r.Payload) {
			if !isStatusOpcode(op) {
				continue
			}
			ctx, cancel := context.WithTimeout(p.ctx, commandTimeout)
			reply, err := conn.Send(ctx, satel.StatusCommand(op))
			cancel()
			if err != nil {
				p.log.Warn("Fetching flagged status 0x%02X failed: %v", op, err)
				continue
			}
			p.applyStatus(reply)
		}
	default:
		p.log.Debug("Ignoring unsolicited frame with opcode 0x%02X", r.Op)
	}
}

func (p *Panel) applyStatus(r satel.Reply) {
	switch r.Op {
	case satel.CmdZonesViolation:
		p.rec.ApplyFull(types.CategoryZone, p.trim(satel.ParseBitmap(r.Payload), p.capacity(types.CategoryZone)))
	case satel.CmdOutputsState:
		p.rec.ApplyFull(types.CategoryOutput, p.trim(satel.ParseBitmap(r.Payload), p.capacity(types.CategoryOutput)))
	case satel.CmdPartitionsArmed:
		p.rec.ApplyPartitions(AspectArmedAway, p.trim(satel.ParseBitmap(r.Payload), p.capacity(types.CategoryPartition)))
	case satel.CmdPartitionsMode2:
		p.rec.ApplyPartitions(AspectArmedHome, p.trim(satel.ParseBitmap(r.Payload), p.capacity(types.CategoryPartition)))
	case satel.CmdPartitionsAlarm:
		p.rec.ApplyPartitions(AspectAlarm, p.trim(satel.ParseBitmap(r.Payload), p.capacity(types.CategoryPartition)))
	}
}

// trim drops bitmap positions beyond the panel's device capacity: the
// wire format always carries whole bytes.
func (p *Panel) trim(states map[int]bool, capacity int) map[int]bool {
	for id := range states {
		if id > capacity {
			delete(states, id)
		}
	}
	return states
}

func (p *Panel) capacity(cat types.Category) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch cat {
	case types.CategoryPartition:
		if p.device.Partitions > 0 {
			return p.device.Partitions
		}
		return 32
	case types.CategoryZone:
		if p.device.Zones > 0 {
			return p.device.Zones
		}
		return 128
	default:
		if p.device.Outputs > 0 {
			return p.device.Outputs
		}
		return 128
	}
}

// Arm arms the given partitions. An empty code falls back to the
// configured default.
func (p *Panel) Arm(partitions []int, mode types.ArmMode, code string) error {
	cmd, err := satel.ArmCommand(p.resolveCode(code), mode, partitions)
	if err != nil {
		return err
	}
	return p.control(cmd)
}

func (p *Panel) Disarm(partitions []int, code string) error {
	cmd, err := satel.DisarmCommand(p.resolveCode(code), partitions)
	if err != nil {
		return err
	}
	return p.control(cmd)
}

func (p *Panel) ClearAlarm(partitions []int, code string) error {
	cmd, err := satel.ClearAlarmCommand(p.resolveCode(code), partitions)
	if err != nil {
		return err
	}
	return p.control(cmd)
}

func (p *Panel) SetOutput(output int, on bool, code string) error {
	cmd, err := satel.OutputCommand(p.resolveCode(code), output, on, p.capacity(types.CategoryOutput))
	if err != nil {
		return err
	}
	return p.control(cmd)
}

// RequestStatus forces a full status refresh outside the polling cycle.
func (p *Panel) RequestStatus() error {
	conn := p.currentConn()
	if conn == nil {
		return ErrNotConnected
	}
	return p.refreshStatus(conn)
}

func (p *Panel) control(cmd satel.Command) error {
	conn := p.currentConn()
	if conn == nil {
		return ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(p.ctx, commandTimeout)
	defer cancel()
	reply, err := conn.Send(ctx, cmd)
	if err != nil {
		return err
	}
	if reply.Op != satel.CmdResult {
		return fmt.Errorf("panel: unexpected reply opcode 0x%02X", reply.Op)
	}
	return satel.ParseResult(reply.Payload)
}

func (p *Panel) resolveCode(code string) string {
	if code != "" {
		return code
	}
	return p.cfg.Satel.Code
}

func (p *Panel) currentConn() *satel.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

func (p *Panel) setConn(conn *satel.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()
}

func (p *Panel) emitEvent(e interface{}) {
	select {
	case p.events <- e:
	default:
		p.log.Warn("Event buffer full, dropping %T", e)
	}
}

func (p *Panel) GetDevice() types.Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

func (p *Panel) GetPartitions() []types.Partition {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Partition(nil), p.partitions...)
}

func (p *Panel) GetZones() []types.Zone {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Zone(nil), p.zones...)
}

func (p *Panel) GetOutputs() []types.Output {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]types.Output(nil), p.outputs...)
}

// SetCachedData seeds device info and names from a previous run so the
// session skips the slow per-device name reads.
func (p *Panel) SetCachedData(data *types.CacheData) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.device = data.Device
	if len(data.Partitions) > 0 {
		p.partitions = data.Partitions
	}
	if len(data.Zones) > 0 {
		p.zones = data.Zones
	}
	if len(data.Outputs) > 0 {
		p.outputs = data.Outputs
	}
}

func (p *Panel) GetCacheableData() *types.CacheData {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &types.CacheData{
		Device:     p.device,
		Partitions: append([]types.Partition(nil), p.partitions...),
		Zones:      append([]types.Zone(nil), p.zones...),
		Outputs:    append([]types.Output(nil), p.outputs...),
		LastUpdate: time.Now(),
	}
}

func isStatusOpcode(op byte) bool {
	for _, s := range statusOpcodes {
		if s == op {
			return true
		}
	}
	return false
}

func partitionsFromConfig(cfg *config.Config) []types.Partition {
	var out []types.Partition
	for _, pc := range cfg.Partitions {
		out = append(out, types.Partition{Number: pc.Number, Name: pc.Name})
	}
	return out
}

func zonesFromConfig(cfg *config.Config) []types.Zone {
	var out []types.Zone
	for _, zc := range cfg.Zones {
		out = append(out, types.Zone{Number: zc.Number, Name: zc.Name, DeviceClass: zc.DeviceClass})
	}
	return out
}

func outputsFromConfig(cfg *config.Config) []types.Output {
	var out []types.Output
	for _, oc := range cfg.Outputs {
		out = append(out, types.Output{Number: oc.Number, Name: oc.Name})
	}
	return out
}
