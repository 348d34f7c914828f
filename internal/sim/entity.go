package sim

import "math"

// Frame is the discrete simulation time unit. It advances by exactly one per tick.
type Frame int64

// EntityID identifies an entity for the whole session; ids are never reused.
type EntityID int64

// EntityType tags the update rules an entity follows.
type EntityType string

const (
	EntitySquare        EntityType = "Square"
	EntitySyncedCrate   EntityType = "SyncedCrate"
	EntityDesyncedCrate EntityType = "DesyncedCrate"
)

const (
	ArenaWidth  = 800.0
	ArenaHeight = 600.0

	SquareSpeed        = 3.0
	SquareAttackFrames = 12
	SquareAttackRange  = 60.0

	CratePushSpeed = 4.0
	CrateFriction  = 0.92
	crateRestSpeed = 0.05
)

// Directions is the set of held logical movement keys.
type Directions struct {
	Up    bool `json:"up,omitempty" msgpack:"up,omitempty"`
	Down  bool `json:"down,omitempty" msgpack:"down,omitempty"`
	Left  bool `json:"left,omitempty" msgpack:"left,omitempty"`
	Right bool `json:"right,omitempty" msgpack:"right,omitempty"`
}

// Vector converts held keys into a unit-step direction.
func (d Directions) Vector() (float64, float64) {
	var x, y float64
	if d.Left {
		x--
	}
	if d.Right {
		x++
	}
	if d.Up {
		y--
	}
	if d.Down {
		y++
	}
	return x, y
}

// EntityState holds the mutable physical fields of an entity.
type EntityState struct {
	X            float64    `json:"x" msgpack:"x"`
	Y            float64    `json:"y" msgpack:"y"`
	VelX         float64    `json:"velX" msgpack:"velX"`
	VelY         float64    `json:"velY" msgpack:"velY"`
	Input        Directions `json:"input" msgpack:"input"`
	AttackFrames int        `json:"attackFrames,omitempty" msgpack:"attackFrames,omitempty"`
}

type Entity struct {
	ID          EntityID   `json:"id" msgpack:"id"`
	Type        EntityType `json:"type" msgpack:"type"`
	EntityState `msgpack:",inline"`
}

func (e Entity) IsAttacking() bool {
	return e.Type == EntitySquare && e.AttackFrames > 0
}

func (e Entity) IsCrate() bool {
	return e.Type == EntitySyncedCrate || e.Type == EntityDesyncedCrate
}

func (e Entity) InAttackRange(other Entity) bool {
	return math.Hypot(other.X-e.X, other.Y-e.Y) <= SquareAttackRange
}

func (e *Entity) push(speed, fromX, fromY float64) {
	dx := e.X - fromX
	dy := e.Y - fromY
	dist := math.Hypot(dx, dy)
	if dist == 0 {
		e.VelX, e.VelY = speed, 0
		return
	}
	e.VelX = speed * dx / dist
	e.VelY = speed * dy / dist
}

func (e *Entity) step() {
	switch e.Type {
	case EntitySquare:
		x, y := e.Input.Vector()
		e.VelX = x * SquareSpeed
		e.VelY = y * SquareSpeed
		e.X += e.VelX
		e.Y += e.VelY
		if e.AttackFrames > 0 {
			e.AttackFrames--
		}
	case EntitySyncedCrate, EntityDesyncedCrate:
		e.X += e.VelX
		e.Y += e.VelY
		e.VelX *= CrateFriction
		e.VelY *= CrateFriction
		if math.Abs(e.VelX) < crateRestSpeed {
			e.VelX = 0
		}
		if math.Abs(e.VelY) < crateRestSpeed {
			e.VelY = 0
		}
	}
	e.X = clamp(e.X, 0, ArenaWidth)
	e.Y = clamp(e.Y, 0, ArenaHeight)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Snapshot is a complete copy of every entity's state at one frame, in
// insertion order.
type Snapshot struct {
	Entities []Entity `json:"entities" msgpack:"entities"`
}

// Clone returns a snapshot that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	if s.Entities == nil {
		return Snapshot{}
	}
	entities := make([]Entity, len(s.Entities))
	copy(entities, s.Entities)
	return Snapshot{Entities: entities}
}

// Find returns the entity with the given id.
func (s Snapshot) Find(id EntityID) (Entity, bool) {
	for _, entity := range s.Entities {
		if entity.ID == id {
			return entity, true
		}
	}
	return Entity{}, false
}
