package sim

// Simulation is a deterministic container of entities. Advancing it applies
// one frame's actions in id order and then runs the per-type update rules.
type Simulation struct {
	entities []Entity
}

func NewSimulation() *Simulation {
	return &Simulation{}
}

// Snapshot copies the current entity state.
func (s *Simulation) Snapshot() Snapshot {
	return Snapshot{Entities: s.Entities()}
}

// Restore replaces the entity state with a copy of snapshot.
func (s *Simulation) Restore(snapshot Snapshot) {
	s.entities = snapshot.Clone().Entities
}

// Entities returns a copy of the entities in insertion order.
func (s *Simulation) Entities() []Entity {
	if len(s.entities) == 0 {
		return nil
	}
	copied := make([]Entity, len(s.entities))
	copy(copied, s.entities)
	return copied
}

func (s *Simulation) Entity(id EntityID) (Entity, bool) {
	if idx := s.indexOf(id); idx >= 0 {
		return s.entities[idx], true
	}
	return Entity{}, false
}

func (s *Simulation) Len() int {
	return len(s.entities)
}

// Advance applies actions (deduplicated and sorted by id) and steps every entity once.
func (s *Simulation) Advance(actions []Action) {
	ordered := make([]Action, 0, len(actions))
	ordered, _ = mergeActions(ordered, actions, 0)
	SortActions(ordered)
	for _, action := range ordered {
		s.Apply(action)
	}
	s.Step()
}

// Apply mutates state for a single action. Actions that reference unknown
// entities, or spawn an id that is already live, report false and do nothing.
func (s *Simulation) Apply(action Action) bool {
	if action.Type == ActionSpawn {
		if s.indexOf(action.EntityID) >= 0 {
			return false
		}
		entity := Entity{ID: action.EntityID, Type: action.EntityType}
		if action.State != nil {
			entity.EntityState = *action.State
		}
		s.entities = append(s.entities, entity)
		return true
	}

	idx := s.indexOf(action.EntityID)
	if idx < 0 {
		return false
	}
	entity := &s.entities[idx]
	switch action.Type {
	case ActionDespawn:
		s.entities = append(s.entities[:idx], s.entities[idx+1:]...)
	case ActionPush:
		if action.Push == nil {
			return false
		}
		entity.push(action.Push.Speed, action.Push.FromX, action.Push.FromY)
	case ActionMove:
		entity.X += action.DX
		entity.Y += action.DY
	case ActionSetInput:
		if action.Input == nil {
			return false
		}
		entity.Input = *action.Input
	case ActionAttack:
		if entity.Type != EntitySquare || entity.AttackFrames > 0 {
			return false
		}
		entity.AttackFrames = SquareAttackFrames
	case ActionRevise:
		if action.State == nil {
			return false
		}
		entity.EntityState = *action.State
	default:
		return false
	}
	return true
}

// Step runs the update rules: attacking squares push nearby desynced crates
// locally, then every entity integrates its motion.
func (s *Simulation) Step() {
	for i := range s.entities {
		attacker := s.entities[i]
		if !attacker.IsAttacking() {
			continue
		}
		for j := range s.entities {
			if i == j {
				continue
			}
			target := &s.entities[j]
			if target.Type == EntityDesyncedCrate && attacker.InAttackRange(*target) {
				target.push(CratePushSpeed, attacker.X, attacker.Y)
			}
		}
	}
	for i := range s.entities {
		s.entities[i].step()
	}
}

func (s *Simulation) indexOf(id EntityID) int {
	for i := range s.entities {
		if s.entities[i].ID == id {
			return i
		}
	}
	return -1
}
