package types

import (
	"fmt"
	"time"
)

// Device describes the panel as reported by the version query.
type Device struct {
	Model      string
	Version    string
	Partitions int
	Zones      int
	Outputs    int
}

type Partition struct {
	Number int
	Name   string
	ID     string
}

type Zone struct {
	Number      int
	Name        string
	ID          string
	DeviceClass string
}

type Output struct {
	Number int
	Name   string
	ID     string
}

type Category int

const (
	CategoryPartition Category = iota
	CategoryZone
	CategoryOutput
)

func (c Category) String() string {
	switch c {
	case CategoryPartition:
		return "partition"
	case CategoryZone:
		return "zone"
	case CategoryOutput:
		return "output"
	default:
		return fmt.Sprintf("Unknown Category(%d)", int(c))
	}
}

// PartitionArming is the derived arming mode of a partition. The panel
// reports armed, part-armed and alarm bitmaps independently; the mode is
// the merge of those aspects with alarm taking precedence.
type PartitionArming int

const (
	PartitionDisarmed PartitionArming = iota
	PartitionArmedAway
	PartitionArmedHome
	PartitionAlarm
)

func (p PartitionArming) String() string {
	switch p {
	case PartitionDisarmed:
		return "Disarmed"
	case PartitionArmedAway:
		return "Armed Away"
	case PartitionArmedHome:
		return "Armed Home"
	case PartitionAlarm:
		return "Alarm"
	default:
		return fmt.Sprintf("Unknown PartitionArming(%d)", int(p))
	}
}

func (p PartitionArming) Armed() bool {
	return p == PartitionArmedAway || p == PartitionArmedHome
}

// ArmMode selects the panel arming mode for an arm command. Mode 0 is a
// full arm; modes 1-3 are the panel's partial-arm variants.
type ArmMode int

const (
	ArmModeFull ArmMode = iota
	ArmMode1
	ArmMode2
	ArmMode3
)

func (a ArmMode) String() string {
	switch a {
	case ArmModeFull:
		return "Full Arm"
	case ArmMode1:
		return "Arm Mode 1"
	case ArmMode2:
		return "Arm Mode 2"
	case ArmMode3:
		return "Arm Mode 3"
	default:
		return fmt.Sprintf("Unknown ArmMode(%d)", int(a))
	}
}

// PartitionState is the reconciled state of one partition.
type PartitionState struct {
	Mode        PartitionArming
	LastChanged time.Time
}

// Snapshot is a point-in-time copy of the reconciled panel state. Zone
// values are true when violated, output values true when active.
type Snapshot struct {
	Partitions map[int]PartitionState
	Zones      map[int]bool
	Outputs    map[int]bool
}

type PartitionEvent struct {
	Partition int
	Old       PartitionArming
	New       PartitionArming
	Time      time.Time
}

type ZoneEvent struct {
	Zone int
	Old  bool
	New  bool
	Time time.Time
}

type OutputEvent struct {
	Output int
	Old    bool
	New    bool
	Time   time.Time
}

// ConnectionEvent reports panel session availability.
type ConnectionEvent struct {
	Connected bool
	Reason    string
	Time      time.Time
}

type CacheData struct {
	Device     Device
	Partitions []Partition
	Zones      []Zone
	Outputs    []Output
	LastUpdate time.Time
}
