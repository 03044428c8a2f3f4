package bus

import "fmt"

// Channel names, one per coordination concern. Each is scoped under a
// swarm prefix at publish/subscribe time.
const (
	ChannelFleet       = "fleet"
	ChannelRegistry    = "registry"
	ChannelHealth      = "health"
	ChannelAllocation  = "allocation"
	ChannelScaling     = "scaling"
	ChannelTasks       = "tasks"
	ChannelResults     = "results"
	ChannelCoordination = "coordination"
)

// Name builds the fully-qualified channel name "swarm:<id>:<channel>".
func Name(swarmID, channel string) string {
	return fmt.Sprintf("swarm:%s:%s", swarmID, channel)
}
