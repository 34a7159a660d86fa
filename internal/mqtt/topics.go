package mqtt

import (
	"fmt"

	"github.com/daemonp/satel2mqtt/internal/types"
)

type Topics struct {
	prefix string
}

func NewTopics(prefix string) *Topics {
	return &Topics{prefix: prefix}
}

func (t *Topics) Status() string {
	return fmt.Sprintf("%s/status", t.prefix)
}

func (t *Topics) Config() string {
	return fmt.Sprintf("%s/config", t.prefix)
}

func (t *Topics) Partition(p types.Partition) string {
	return fmt.Sprintf("%s/partition/%s", t.prefix, p.ID)
}

func (t *Topics) PartitionCommand(p types.Partition) string {
	return fmt.Sprintf("%s/partition/%s/command", t.prefix, p.ID)
}

func (t *Topics) Zone(z types.Zone) string {
	return fmt.Sprintf("%s/zone/%s", t.prefix, z.ID)
}

func (t *Topics) Output(o types.Output) string {
	return fmt.Sprintf("%s/output/%s", t.prefix, o.ID)
}

func (t *Topics) OutputCommand(o types.Output) string {
	return fmt.Sprintf("%s/output/%s/command", t.prefix, o.ID)
}
