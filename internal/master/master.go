// Package master generates the authority's canonical actions: entity
// lifecycle and the world rules only the authority may decide.
package master

import (
	"math"
	"math/rand"

	"crateclash/internal/player"
	"crateclash/internal/sim"
)

const (
	CrateCount = 15
	SpawnX     = 300.0
	SpawnY     = 200.0
)

// GameMaster is the sole allocator of entity ids. Ids are never reused.
type GameMaster struct {
	nextEntityID sim.EntityID
	actions      []sim.Action
}

func New() *GameMaster {
	return &GameMaster{}
}

// Reset discards queued actions and queues a fresh set of crates drawn
// from rng.
func (g *GameMaster) Reset(rng *rand.Rand) {
	g.actions = nil
	for n := 0; n < CrateCount; n++ {
		kind := sim.EntityDesyncedCrate
		if rng.Float64() > 0.5 {
			kind = sim.EntitySyncedCrate
		}
		state := sim.EntityState{
			X: math.Round(100 + 400*rng.Float64()),
			Y: math.Round(100 + 200*rng.Float64()),
		}
		g.actions = append(g.actions, sim.Action{
			Type:       sim.ActionSpawn,
			EntityID:   g.allocate(),
			EntityType: kind,
			State:      &state,
		})
	}
}

// Update queues a push for every synced crate within range of an attacking
// square in snapshot.
func (g *GameMaster) Update(snapshot sim.Snapshot) {
	entities := snapshot.Entities
	for i := range entities {
		attacker := entities[i]
		if attacker.Type != sim.EntitySquare || !attacker.IsAttacking() {
			continue
		}
		for j := range entities {
			target := entities[j]
			if i == j || target.Type != sim.EntitySyncedCrate || !attacker.InAttackRange(target) {
				continue
			}
			g.actions = append(g.actions, sim.Action{
				Type:     sim.ActionPush,
				EntityID: target.ID,
				Push:     &sim.Push{Speed: sim.CratePushSpeed, FromX: attacker.X, FromY: attacker.Y},
			})
		}
	}
}

// AddPlayer spawns a square for p, binds p to it and marks p joined.
func (g *GameMaster) AddPlayer(p *player.Player) sim.EntityID {
	id := g.allocate()
	g.actions = append(g.actions, sim.Action{
		Type:       sim.ActionSpawn,
		EntityID:   id,
		EntityType: sim.EntitySquare,
		State:      &sim.EntityState{X: SpawnX, Y: SpawnY},
	})
	p.SetState(player.State{EntityID: &id})
	p.Join()
	return id
}

// RemovePlayer despawns p's entity, if any, and unbinds p.
func (g *GameMaster) RemovePlayer(p *player.Player) {
	if id, ok := p.EntityID(); ok {
		g.actions = append(g.actions, sim.Action{Type: sim.ActionDespawn, EntityID: id})
	}
	p.Reset()
}

func (g *GameMaster) PopActions() []sim.Action {
	actions := g.actions
	g.actions = nil
	return actions
}

// NextEntityID reports the id the next spawn will use.
func (g *GameMaster) NextEntityID() sim.EntityID { return g.nextEntityID }

func (g *GameMaster) allocate() sim.EntityID {
	id := g.nextEntityID
	g.nextEntityID++
	return id
}
