package satel

import (
	"errors"
	"fmt"

	"github.com/daemonp/satel2mqtt/internal/types"
	"github.com/daemonp/satel2mqtt/internal/util"
)

// Opcodes from the INTEGRA integration protocol.
const (
	CmdZonesViolation  byte = 0x00
	CmdPartitionsArmed byte = 0x0A // armed really (mode 0)
	CmdPartitionsMode2 byte = 0x0B // armed in mode 2 (partial)
	CmdPartitionsAlarm byte = 0x13
	CmdOutputsState    byte = 0x17
	CmdPanelVersion    byte = 0x7E
	CmdNewData         byte = 0x7F
	CmdArmMode0        byte = 0x80 // 0x80+mode arms in that mode
	CmdDisarm          byte = 0x84
	CmdClearAlarm      byte = 0x85
	CmdOutputsOn       byte = 0x88
	CmdOutputsOff      byte = 0x89
	CmdDeviceName      byte = 0xEE
	CmdResult          byte = 0xEF
)

// Device types for the read-device-name command.
const (
	DeviceTypePartition byte = 0x00
	DeviceTypeZone      byte = 0x01
	DeviceTypeOutput    byte = 0x04
)

// Command is one immutable request to the panel.
type Command struct {
	Op     byte
	Params []byte
}

func (c Command) encode() []byte {
	out := make([]byte, 0, 1+len(c.Params))
	out = append(out, c.Op)
	return append(out, c.Params...)
}

// Reply is one decoded frame from the panel.
type Reply struct {
	Op      byte
	Payload []byte
}

// RejectedError is a panel-level rejection of an otherwise well-formed
// command (wrong code, busy, cannot arm). The session stays alive.
type RejectedError struct {
	Code byte
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("satel: command rejected by panel: %s (0x%02X)", resultDescription(e.Code), e.Code)
}

// StatusCommand requests the full state bitmap for one status opcode.
func StatusCommand(op byte) Command {
	return Command{Op: op}
}

// ProbeCommand is the new-data probe, doubling as the keep-alive.
func ProbeCommand() Command {
	return Command{Op: CmdNewData}
}

func VersionCommand() Command {
	return Command{Op: CmdPanelVersion}
}

// DeviceNameCommand requests the name of one partition, zone or output.
func DeviceNameCommand(deviceType byte, number int) Command {
	return Command{Op: CmdDeviceName, Params: []byte{deviceType, byte(number)}}
}

// ArmCommand arms the given partitions in the given mode. The user code is
// validated and packed before anything is sent.
func ArmCommand(code string, mode types.ArmMode, partitions []int) (Command, error) {
	if mode < types.ArmModeFull || mode > types.ArmMode3 {
		return Command{}, fmt.Errorf("satel: invalid arm mode %d", mode)
	}
	packed, err := packUserCode(code)
	if err != nil {
		return Command{}, err
	}
	mask, err := partitionMask(partitions)
	if err != nil {
		return Command{}, err
	}
	return Command{Op: CmdArmMode0 + byte(mode), Params: append(packed, mask...)}, nil
}

func DisarmCommand(code string, partitions []int) (Command, error) {
	packed, err := packUserCode(code)
	if err != nil {
		return Command{}, err
	}
	mask, err := partitionMask(partitions)
	if err != nil {
		return Command{}, err
	}
	return Command{Op: CmdDisarm, Params: append(packed, mask...)}, nil
}

func ClearAlarmCommand(code string, partitions []int) (Command, error) {
	packed, err := packUserCode(code)
	if err != nil {
		return Command{}, err
	}
	mask, err := partitionMask(partitions)
	if err != nil {
		return Command{}, err
	}
	return Command{Op: CmdClearAlarm, Params: append(packed, mask...)}, nil
}

// OutputCommand switches one output on or off. outputs is the panel's
// output capacity (128 or 256), which sizes the bitmask.
func OutputCommand(code string, output int, on bool, outputs int) (Command, error) {
	packed, err := packUserCode(code)
	if err != nil {
		return Command{}, err
	}
	mask, err := deviceMask([]int{output}, outputs)
	if err != nil {
		return Command{}, err
	}
	op := CmdOutputsOff
	if on {
		op = CmdOutputsOn
	}
	return Command{Op: op, Params: append(packed, mask...)}, nil
}

// packUserCode packs an alarm code into the protocol's 8-byte field: BCD
// digits padded with 0xF nibbles. Codes are 4 to 8 decimal digits.
func packUserCode(code string) ([]byte, error) {
	if len(code) < 4 || len(code) > 8 {
		return nil, fmt.Errorf("satel: alarm code must be 4-8 digits, got %d", len(code))
	}
	packed := make([]byte, 8)
	for i := range packed {
		packed[i] = 0xFF
	}
	for i, r := range code {
		if r < '0' || r > '9' {
			return nil, errors.New("satel: alarm code must contain only digits")
		}
		d := byte(r - '0')
		if i%2 == 0 {
			packed[i/2] = d<<4 | 0x0F
		} else {
			packed[i/2] = packed[i/2]&0xF0 | d
		}
	}
	return packed, nil
}

// partitionMask maps partition ids 1-32 onto the 4-byte selection mask.
func partitionMask(partitions []int) ([]byte, error) {
	if len(partitions) == 0 {
		return nil, errors.New("satel: no partitions selected")
	}
	mask := make([]byte, 4)
	for _, p := range partitions {
		if p < 1 || p > 32 {
			return nil, fmt.Errorf("satel: partition %d out of range", p)
		}
		mask[(p-1)/8] |= 1 << uint((p-1)%8)
	}
	return mask, nil
}

func deviceMask(ids []int, capacity int) ([]byte, error) {
	mask := make([]byte, capacity/8)
	for _, id := range ids {
		if id < 1 || id > capacity {
			return nil, fmt.Errorf("satel: device %d out of range (capacity %d)", id, capacity)
		}
		mask[(id-1)/8] |= 1 << uint((id-1)%8)
	}
	return mask, nil
}

// ParseBitmap decodes a full-state bitmap into per-id values. Bit n of
// byte i carries device i*8+n+1, so a 16-byte reply covers 128 devices and
// a 32-byte reply 256.
func ParseBitmap(data []byte) map[int]bool {
	states := make(map[int]bool, len(data)*8)
	for i, b := range data {
		for bit := 0; bit < 8; bit++ {
			states[i*8+bit+1] = b&(1<<uint(bit)) != 0
		}
	}
	return states
}

// ParseResult decodes a 0xEF result frame. 0x00 is success and 0xFF means
// the command was accepted and will be processed; everything else is a
// panel-level rejection.
func ParseResult(payload []byte) error {
	if len(payload) == 0 {
		return ErrTruncated
	}
	switch payload[0] {
	case 0x00, 0xFF:
		return nil
	default:
		return &RejectedError{Code: payload[0]}
	}
}

// ParseVersion decodes the 0x7E reply into the panel model and firmware
// version, which also fixes the zone/output capacity for the session.
func ParseVersion(payload []byte) (types.Device, error) {
	if len(payload) < 12 {
		return types.Device{}, ErrTruncated
	}
	model, ok := panelModels[payload[0]]
	if !ok {
		model = panelModel{Name: fmt.Sprintf("Unknown INTEGRA (0x%02X)", payload[0]), Partitions: 32, Zones: 128, Outputs: 128}
	}
	v := payload[1:12]
	return types.Device{
		Model:      model.Name,
		Version:    fmt.Sprintf("%c.%c%c %c%c%c%c-%c%c-%c%c", v[0], v[1], v[2], v[3], v[4], v[5], v[6], v[7], v[8], v[9], v[10]),
		Partitions: model.Partitions,
		Zones:      model.Zones,
		Outputs:    model.Outputs,
	}, nil
}

// DeviceName is the decoded reply to a read-device-name command.
type DeviceName struct {
	Type   byte
	Number int
	Name   string
}

func ParseDeviceName(payload []byte) (DeviceName, error) {
	if len(payload) < 4 {
		return DeviceName{}, ErrTruncated
	}
	return DeviceName{
		Type:   payload[0],
		Number: int(payload[1]),
		Name:   util.Normalize(string(payload[3:])),
	}, nil
}

// ParseNewData decodes the 0x7F reply: a bitmap of status opcodes that
// have fresh data to collect.
func ParseNewData(payload []byte) []byte {
	var ops []byte
	for i, b := range payload {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) != 0 {
				ops = append(ops, byte(i*8+bit))
			}
		}
	}
	return ops
}
