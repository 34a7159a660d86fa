package panel

import (
	"sync"
	"time"

	"github.com/daemonp/satel2mqtt/internal/log"
	"github.com/daemonp/satel2mqtt/internal/types"
)

// PartitionAspect names one of the independent partition bitmaps the
// panel reports. The reconciler merges aspects into a single arming mode.
type PartitionAspect int

const (
	AspectArmedAway PartitionAspect = iota
	AspectArmedHome
	AspectAlarm
)

// Reconciler holds the authoritative snapshot of panel state. It has
// exactly one writer, the session goroutine; readers get copies from
// Current. Change events are emitted only for values that actually
// differ, and only after the whole update is applied.
type Reconciler struct {
	log  *log.Logger
	emit func(interface{})

	// mu guards the maps for the copy in Current; mutation happens on
	// the session goroutine only.
	mu         sync.Mutex
	zones      map[int]bool
	outputs    map[int]bool
	armedAway  map[int]bool
	armedHome  map[int]bool
	alarm      map[int]bool
	partitions map[int]types.PartitionState
}

func NewReconciler(logger *log.Logger, emit func(interface{})) *Reconciler {
	return &Reconciler{
		log:        logger,
		emit:       emit,
		zones:      make(map[int]bool),
		outputs:    make(map[int]bool),
		armedAway:  make(map[int]bool),
		armedHome:  make(map[int]bool),
		alarm:      make(map[int]bool),
		partitions: make(map[int]types.PartitionState),
	}
}

// ApplyFull applies a full-state bitmap for zones or outputs. Ids absent
// from the frame keep their last known value: absence is never a removal
// signal on this protocol.
func (r *Reconciler) ApplyFull(cat types.Category, states map[int]bool) {
	r.applyBool(cat, states)
}

// ApplyDelta applies a partial update touching only the named ids.
func (r *Reconciler) ApplyDelta(cat types.Category, states map[int]bool) {
	r.applyBool(cat, states)
}

func (r *Reconciler) applyBool(cat types.Category, states map[int]bool) {
	var target map[int]bool
	switch cat {
	case types.CategoryZone:
		target = r.zones
	case types.CategoryOutput:
		target = r.outputs
	default:
		r.log.Error("Reconciler cannot apply %s states as booleans", cat)
		return
	}

	now := time.Now()
	var events []interface{}
	r.mu.Lock()
	for id, v := range states {
		old, had := target[id]
		if had && old == v {
			continue
		}
		if !had && !v {
			// First sight of an inactive id is not a change.
			target[id] = v
			continue
		}
		target[id] = v
		switch cat {
		case types.CategoryZone:
			events = append(events, types.ZoneEvent{Zone: id, Old: old, New: v, Time: now})
		case types.CategoryOutput:
			events = append(events, types.OutputEvent{Output: id, Old: old, New: v, Time: now})
		}
	}
	r.mu.Unlock()

	for _, e := range events {
		r.emit(e)
	}
}

// ApplyPartitions applies one partition aspect bitmap and re-derives the
// arming mode for every mentioned partition. Alarm wins over armed-away,
// which wins over armed-home.
func (r *Reconciler) ApplyPartitions(aspect PartitionAspect, states map[int]bool) {
	var target map[int]bool
	switch aspect {
	case AspectArmedAway:
		target = r.armedAway
	case AspectArmedHome:
		target = r.armedHome
	case AspectAlarm:
		target = r.alarm
	}

	now := time.Now()
	var events []interface{}
	r.mu.Lock()
	for id, v := range states {
		target[id] = v
		mode := r.deriveMode(id)
		old, had := r.partitions[id]
		if had && old.Mode == mode {
			continue
		}
		r.partitions[id] = types.PartitionState{Mode: mode, LastChanged: now}
		if !had && mode == types.PartitionDisarmed {
			// First sight of a disarmed partition is not a change.
			continue
		}
		events = append(events, types.PartitionEvent{Partition: id, Old: old.Mode, New: mode, Time: now})
	}
	r.mu.Unlock()

	for _, e := range events {
		r.emit(e)
	}
}

func (r *Reconciler) deriveMode(id int) types.PartitionArming {
	switch {
	case r.alarm[id]:
		return types.PartitionAlarm
	case r.armedAway[id]:
		return types.PartitionArmedAway
	case r.armedHome[id]:
		return types.PartitionArmedHome
	default:
		return types.PartitionDisarmed
	}
}

// Current returns a point-in-time copy of the snapshot.
func (r *Reconciler) Current() types.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := types.Snapshot{
		Partitions: make(map[int]types.PartitionState, len(r.partitions)),
		Zones:      make(map[int]bool, len(r.zones)),
		Outputs:    make(map[int]bool, len(r.outputs)),
	}
	for id, s := range r.partitions {
		snap.Partitions[id] = s
	}
	for id, v := range r.zones {
		snap.Zones[id] = v
	}
	for id, v := range r.outputs {
		snap.Outputs[id] = v
	}
	return snap
}
