// Package gamestate defines the world snapshot model the engine observes,
// plus the provider boundary to the game-client layer that produces it.
package gamestate

// Point is a 2D world coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Item is one inventory stack entry. The same item ID may appear in
// multiple entries within a single snapshot.
type Item struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Skill is a single skill's training state.
type Skill struct {
	Name       string `json:"name"`
	Experience int64  `json:"experience"`
	Level      int    `json:"level"`
}

// PlayerState captures the local player at snapshot time.
type PlayerState struct {
	Position  Point  `json:"position"`
	InCombat  bool   `json:"in_combat"`
	Animation int    `json:"animation,omitempty"`
	Target    string `json:"target,omitempty"`
}

// Entity is a nearby NPC or player, keyed by a per-instance index that
// stays stable for the lifetime of the instance. Names collide across
// instances; the index does not.
type Entity struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	CombatLevel int    `json:"combat_level,omitempty"`
	InCombat    bool   `json:"in_combat"`
	Position    Point  `json:"position"`
}

// Message is one timestamped game message.
type Message struct {
	Tick int64  `json:"tick"`
	Text string `json:"text"`
}

// Combat event types reported by the client layer.
const (
	CombatDamageTaken = "damage_taken"
	CombatDamageDealt = "damage_dealt"
	CombatKill        = "kill"
)

// CombatEvent is one timestamped combat occurrence.
type CombatEvent struct {
	Tick   int64  `json:"tick"`
	Type   string `json:"type"`
	Amount int    `json:"amount,omitempty"`
}

// Snapshot is an immutable point-in-time capture of observable world
// state. Produced by the client layer; the engine only reads it.
type Snapshot struct {
	Tick          int64         `json:"tick"`
	Inventory     []Item        `json:"inventory,omitempty"`
	Skills        []Skill       `json:"skills,omitempty"`
	Player        PlayerState   `json:"player"`
	NPCs          []Entity      `json:"npcs,omitempty"`
	DialogOpen    bool          `json:"dialog_open"`
	InterfaceOpen bool          `json:"interface_open"`
	ShopOpen      bool          `json:"shop_open"`
	Messages      []Message     `json:"messages,omitempty"`
	CombatEvents  []CombatEvent `json:"combat_events,omitempty"`
}

// SkillByName returns the named skill and whether it was present.
func (s *Snapshot) SkillByName(name string) (Skill, bool) {
	if s == nil {
		return Skill{}, false
	}
	for _, sk := range s.Skills {
		if sk.Name == name {
			return sk, true
		}
	}
	return Skill{}, false
}
