// Package diff turns two world snapshots into a structured change record
// plus a human-readable summary. Compute is pure and total: missing
// optional snapshot fields degrade to "no change" rather than erroring.
package diff

import (
	"fmt"
	"math"
	"regexp"

	"warden/internal/gamestate"
)

// hitpointsBaseline is assumed when a snapshot carries no Hitpoints skill.
const hitpointsBaseline = 10

// moveSummaryThreshold suppresses summary lines for sub-threshold jitter.
// The structured Distance/Moved fields always reflect the true value.
const moveSummaryThreshold = 5.0

// ItemGain records a net item increase between two snapshots.
type ItemGain struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ItemLoss records a net item decrease between two snapshots.
type ItemLoss struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// ItemChange records a count change for an item present in both snapshots.
type ItemChange struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	BeforeCount int    `json:"before_count"`
	AfterCount  int    `json:"after_count"`
}

// InventoryDiff holds net inventory deltas keyed by item identity.
type InventoryDiff struct {
	Gained  []ItemGain   `json:"gained,omitempty"`
	Lost    []ItemLoss   `json:"lost,omitempty"`
	Changed []ItemChange `json:"changed,omitempty"`
}

// SkillGain records experience gained in one skill.
type SkillGain struct {
	Name     string `json:"name"`
	XPGained int64  `json:"xp_gained"`
	LevelUp  bool   `json:"level_up"`
	NewLevel int    `json:"new_level,omitempty"`
}

// CombatDiff aggregates combat events that fell inside the window.
type CombatDiff struct {
	DamageTaken int `json:"damage_taken"`
	DamageDealt int `json:"damage_dealt"`
	Kills       int `json:"kills"`
	HealthDelta int `json:"health_delta"`
}

// PositionDiff describes player movement between the snapshots.
type PositionDiff struct {
	Moved    bool            `json:"moved"`
	From     gamestate.Point `json:"from"`
	To       gamestate.Point `json:"to"`
	Distance float64         `json:"distance"`
}

// UIDiff holds edge-triggered interface transitions.
type UIDiff struct {
	DialogOpened    bool `json:"dialog_opened"`
	DialogClosed    bool `json:"dialog_closed"`
	InterfaceOpened bool `json:"interface_opened"`
	InterfaceClosed bool `json:"interface_closed"`
	ShopOpened      bool `json:"shop_opened"`
	ShopClosed      bool `json:"shop_closed"`
}

// EntityRef identifies one entity by its stable per-instance index.
type EntityRef struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
}

// EntityDiff holds entity arrivals, departures and inferred deaths.
type EntityDiff struct {
	Appeared    []EntityRef `json:"appeared,omitempty"`
	Disappeared []EntityRef `json:"disappeared,omitempty"`
	Died        []EntityRef `json:"died,omitempty"`
}

// Diff is the full structured delta between two snapshots. An empty
// Summary is the canonical "no change" signal.
type Diff struct {
	TickBefore int64         `json:"tick_before"`
	TickAfter  int64         `json:"tick_after"`
	Elapsed    int64         `json:"elapsed"`
	Inventory  InventoryDiff `json:"inventory"`
	Skills     []SkillGain   `json:"skills,omitempty"`
	Combat     CombatDiff    `json:"combat"`
	Position   PositionDiff  `json:"position"`
	UI         UIDiff        `json:"ui"`
	Entities   EntityDiff    `json:"entities"`
	Messages   []string      `json:"messages,omitempty"`
	Summary    []string      `json:"summary,omitempty"`
}

// Empty reports whether the diff carries no observable change.
func (d Diff) Empty() bool {
	return len(d.Summary) == 0
}

// Compute produces the structured diff between two snapshots. A nil
// snapshot on either side yields the canonical empty diff.
func Compute(before, after *gamestate.Snapshot) Diff {
	if before == nil || after == nil {
		return Diff{}
	}

	var d Diff
	d.TickBefore = before.Tick
	d.TickAfter = after.Tick
	d.Elapsed = d.TickAfter - d.TickBefore

	d.Inventory = diffInventory(before, after)
	d.Skills = diffSkills(before, after)
	d.Combat = diffCombat(before, after)
	d.Position = diffPosition(before, after)
	d.UI = diffUI(before, after)
	d.Entities = diffEntities(before, after)
	d.Messages = newMessages(before, after)
	d.Summary = buildSummary(d)
	return d
}

// mergedStack is one item identity with stack entries summed.
type mergedStack struct {
	id    int
	name  string
	count int
}

// mergeInventory groups stack entries by item identity, summing counts
// and preserving first-seen order.
func mergeInventory(items []gamestate.Item) []mergedStack {
	index := make(map[int]int, len(items))
	var merged []mergedStack
	for _, it := range items {
		if pos, ok := index[it.ID]; ok {
			merged[pos].count += it.Count
			continue
		}
		index[it.ID] = len(merged)
		merged = append(merged, mergedStack{id: it.ID, name: it.Name, count: it.Count})
	}
	return merged
}

func diffInventory(before, after *gamestate.Snapshot) InventoryDiff {
	var out InventoryDiff
	bm := mergeInventory(before.Inventory)
	am := mergeInventory(after.Inventory)

	beforeByID := make(map[int]mergedStack, len(bm))
	for _, s := range bm {
		beforeByID[s.id] = s
	}
	afterByID := make(map[int]mergedStack, len(am))
	for _, s := range am {
		afterByID[s.id] = s
	}

	// Gains and increases, in after-snapshot order.
	for _, a := range am {
		b, present := beforeByID[a.id]
		switch {
		case !present:
			out.Gained = append(out.Gained, ItemGain{ID: a.id, Name: a.name, Count: a.count})
		case a.count > b.count:
			out.Changed = append(out.Changed, ItemChange{ID: a.id, Name: a.name, BeforeCount: b.count, AfterCount: a.count})
		}
	}

	// Losses and decreases, in before-snapshot order.
	for _, b := range bm {
		a, present := afterByID[b.id]
		switch {
		case !present:
			out.Lost = append(out.Lost, ItemLoss{ID: b.id, Name: b.name, Count: b.count})
		case a.count < b.count:
			out.Changed = append(out.Changed, ItemChange{ID: b.id, Name: b.name, BeforeCount: b.count, AfterCount: a.count})
		}
	}
	return out
}

func diffSkills(before, after *gamestate.Snapshot) []SkillGain {
	if before == nil || after == nil {
		return nil
	}
	var gains []SkillGain
	for _, as := range after.Skills {
		bs, ok := before.SkillByName(as.Name)
		if !ok {
			continue
		}
		xpGained := as.Experience - bs.Experience
		levelUp := as.Level > bs.Level
		if xpGained <= 0 && !levelUp {
			continue
		}
		g := SkillGain{Name: as.Name, LevelUp: levelUp}
		if xpGained > 0 {
			g.XPGained = xpGained
		}
		if levelUp {
			g.NewLevel = as.Level
		}
		gains = append(gains, g)
	}
	return gains
}

func hitpointsLevel(s *gamestate.Snapshot) int {
	if hp, ok := s.SkillByName("Hitpoints"); ok {
		return hp.Level
	}
	return hitpointsBaseline
}

func diffCombat(before, after *gamestate.Snapshot) CombatDiff {
	var out CombatDiff
	if before == nil || after == nil {
		return out
	}
	for _, ev := range after.CombatEvents {
		if ev.Tick <= before.Tick {
			continue
		}
		switch ev.Type {
		case gamestate.CombatDamageTaken:
			out.DamageTaken += ev.Amount
		case gamestate.CombatDamageDealt:
			out.DamageDealt += ev.Amount
		case gamestate.CombatKill:
			out.Kills++
		}
	}
	// Health delta comes straight from the Hitpoints level, independent
	// of the event list.
	out.HealthDelta = hitpointsLevel(after) - hitpointsLevel(before)
	return out
}

func diffPosition(before, after *gamestate.Snapshot) PositionDiff {
	var out PositionDiff
	if before == nil || after == nil {
		return out
	}
	out.From = before.Player.Position
	out.To = after.Player.Position
	dx := float64(out.To.X - out.From.X)
	dy := float64(out.To.Y - out.From.Y)
	out.Distance = math.Sqrt(dx*dx + dy*dy)
	out.Moved = out.Distance > 0
	return out
}

func diffUI(before, after *gamestate.Snapshot) UIDiff {
	var out UIDiff
	if before == nil || after == nil {
		return out
	}
	out.DialogOpened = !before.DialogOpen && after.DialogOpen
	out.DialogClosed = before.DialogOpen && !after.DialogOpen
	out.InterfaceOpened = !before.InterfaceOpen && after.InterfaceOpen
	out.InterfaceClosed = before.InterfaceOpen && !after.InterfaceOpen
	out.ShopOpened = !before.ShopOpen && after.ShopOpen
	out.ShopClosed = before.ShopOpen && !after.ShopOpen
	return out
}

func diffEntities(before, after *gamestate.Snapshot) EntityDiff {
	var out EntityDiff
	if before == nil || after == nil {
		return out
	}

	beforeByIdx := make(map[int]gamestate.Entity, len(before.NPCs))
	for _, e := range before.NPCs {
		beforeByIdx[e.Index] = e
	}
	afterByIdx := make(map[int]gamestate.Entity, len(after.NPCs))
	for _, e := range after.NPCs {
		afterByIdx[e.Index] = e
	}

	for _, e := range after.NPCs {
		if _, ok := beforeByIdx[e.Index]; !ok {
			out.Appeared = append(out.Appeared, EntityRef{Index: e.Index, Name: e.Name})
		}
	}
	for _, e := range before.NPCs {
		if _, ok := afterByIdx[e.Index]; ok {
			continue
		}
		ref := EntityRef{Index: e.Index, Name: e.Name}
		// Death cannot be told apart from walking out of range; an
		// entity engaged in combat at the before snapshot that is gone
		// afterwards is classified as died.
		if e.InCombat {
			out.Died = append(out.Died, ref)
		} else {
			out.Disappeared = append(out.Disappeared, ref)
		}
	}
	return out
}

var formatTagRe = regexp.MustCompile(`<[^>]*>`)

// stripFormatting removes embedded formatting markers such as <col=...>.
func stripFormatting(s string) string {
	return formatTagRe.ReplaceAllString(s, "")
}

func newMessages(before, after *gamestate.Snapshot) []string {
	if before == nil || after == nil {
		return nil
	}
	var msgs []string
	for _, m := range after.Messages {
		if m.Tick > before.Tick {
			msgs = append(msgs, stripFormatting(m.Text))
		}
	}
	return msgs
}

// buildSummary renders the diff as ordered human-readable lines:
// inventory, skills, combat, position, UI, entities, messages.
func buildSummary(d Diff) []string {
	var lines []string

	for _, g := range d.Inventory.Gained {
		lines = append(lines, fmt.Sprintf("Gained %dx %s", g.Count, g.Name))
	}
	for _, l := range d.Inventory.Lost {
		lines = append(lines, fmt.Sprintf("Lost %dx %s", l.Count, l.Name))
	}
	for _, c := range d.Inventory.Changed {
		delta := c.AfterCount - c.BeforeCount
		if delta > 0 {
			lines = append(lines, fmt.Sprintf("Gained %dx %s (%d -> %d)", delta, c.Name, c.BeforeCount, c.AfterCount))
		} else {
			lines = append(lines, fmt.Sprintf("Lost %dx %s (%d -> %d)", -delta, c.Name, c.BeforeCount, c.AfterCount))
		}
	}

	for _, s := range d.Skills {
		line := fmt.Sprintf("%s +%d XP", s.Name, s.XPGained)
		if s.LevelUp {
			line += fmt.Sprintf(" (level up! now %d)", s.NewLevel)
		}
		lines = append(lines, line)
	}

	if d.Combat.DamageTaken > 0 || d.Combat.DamageDealt > 0 || d.Combat.Kills > 0 {
		line := fmt.Sprintf("Combat: took %d damage, dealt %d damage", d.Combat.DamageTaken, d.Combat.DamageDealt)
		if d.Combat.Kills > 0 {
			line += fmt.Sprintf(", %d kill(s)", d.Combat.Kills)
		}
		lines = append(lines, line)
	}

	if d.Position.Moved && d.Position.Distance >= moveSummaryThreshold {
		lines = append(lines, fmt.Sprintf("Moved %.0f tiles to (%d, %d)", d.Position.Distance, d.Position.To.X, d.Position.To.Y))
	}

	if d.UI.DialogOpened {
		lines = append(lines, "Dialog opened")
	}
	if d.UI.DialogClosed {
		lines = append(lines, "Dialog closed")
	}
	if d.UI.InterfaceOpened {
		lines = append(lines, "Interface opened")
	}
	if d.UI.InterfaceClosed {
		lines = append(lines, "Interface closed")
	}
	if d.UI.ShopOpened {
		lines = append(lines, "Shop opened")
	}
	if d.UI.ShopClosed {
		lines = append(lines, "Shop closed")
	}

	for _, e := range d.Entities.Appeared {
		lines = append(lines, fmt.Sprintf("%s appeared", e.Name))
	}
	for _, e := range d.Entities.Died {
		lines = append(lines, fmt.Sprintf("%s died", e.Name))
	}
	for _, e := range d.Entities.Disappeared {
		lines = append(lines, fmt.Sprintf("%s disappeared", e.Name))
	}

	if len(d.Messages) > 0 {
		lines = append(lines, fmt.Sprintf("%d new game message(s)", len(d.Messages)))
	}

	return lines
}
