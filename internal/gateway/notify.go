package gateway

import (
	"log"

	"yellorn/internal/protocol"
	"yellorn/internal/universe"
)

// Subscribe attaches the gateway to the engine's notification bus.
func (g *Gateway) Subscribe(bus *universe.Bus) {
	bus.Subscribe(g.HandleNotification,
		universe.TopicUniverseUpdate,
		universe.TopicEngineStarted,
		universe.TopicEngineStopped,
	)
}

// HandleNotification forwards engine notifications to the default shard:
// every UpdateEvery-th snapshot as universe:update, and engine lifecycle
// changes as system_event messages. It never blocks.
func (g *Gateway) HandleNotification(n universe.Notification) {
	switch n.Topic {
	case universe.TopicUniverseUpdate:
		if g.cfg.UpdateEvery <= 0 || n.State == nil || n.Tick%uint64(g.cfg.UpdateEvery) != 0 {
			return
		}
		if g.hub.ClientCount() == 0 {
			return
		}
		frame, err := protocol.EncodeFrame(protocol.EventUpdate, n.State)
		if err != nil {
			log.Printf("❌ Failed to encode universe update: %v", err)
			return
		}
		g.hub.Emit(protocol.ShardChannel(g.router.ShardID()), "", frame)

	case universe.TopicEngineStarted, universe.TopicEngineStopped:
		d := g.router.System(string(n.Topic), "")
		frame, err := protocol.EncodeFrame(protocol.EventUniverse, d.Message)
		if err != nil {
			log.Printf("❌ Failed to encode system event: %v", err)
			return
		}
		g.hub.Emit(d.Channel, "", frame)
	}
}
