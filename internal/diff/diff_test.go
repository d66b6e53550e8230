package diff

import (
	"strings"
	"testing"

	"warden/internal/gamestate"
)

func baseSnapshot() *gamestate.Snapshot {
	return &gamestate.Snapshot{
		Tick: 100,
		Inventory: []gamestate.Item{
			{ID: 995, Name: "Coins", Count: 100},
			{ID: 379, Name: "Lobster", Count: 5},
		},
		Skills: []gamestate.Skill{
			{Name: "Attack", Experience: 12000, Level: 40},
			{Name: "Hitpoints", Experience: 15000, Level: 42},
		},
		Player: gamestate.PlayerState{Position: gamestate.Point{X: 3200, Y: 3200}},
		NPCs: []gamestate.Entity{
			{Index: 7, Name: "Goblin", InCombat: false},
		},
	}
}

func TestDiffIdentity(t *testing.T) {
	s := baseSnapshot()
	d := Compute(s, s)

	if !d.Empty() {
		t.Fatalf("expected empty diff, got summary %v", d.Summary)
	}
	if len(d.Inventory.Gained)+len(d.Inventory.Lost)+len(d.Inventory.Changed) != 0 {
		t.Errorf("expected no inventory deltas, got %+v", d.Inventory)
	}
	if len(d.Skills) != 0 {
		t.Errorf("expected no skill gains, got %+v", d.Skills)
	}
	if d.Combat != (CombatDiff{}) {
		t.Errorf("expected zero combat diff, got %+v", d.Combat)
	}
	if d.Position.Moved || d.Position.Distance != 0 {
		t.Errorf("expected no movement, got %+v", d.Position)
	}
	if d.UI != (UIDiff{}) {
		t.Errorf("expected no UI transitions, got %+v", d.UI)
	}
	if d.Elapsed != 0 {
		t.Errorf("expected elapsed 0, got %d", d.Elapsed)
	}
}

func TestDiffNilSnapshots(t *testing.T) {
	s := baseSnapshot()

	if d := Compute(nil, s); !d.Empty() {
		t.Errorf("nil before: expected empty summary, got %v", d.Summary)
	}
	if d := Compute(s, nil); !d.Empty() {
		t.Errorf("nil after: expected empty summary, got %v", d.Summary)
	}
	if d := Compute(nil, nil); !d.Empty() {
		t.Errorf("nil both: expected empty summary, got %v", d.Summary)
	}
}

func TestInventoryStackMerge(t *testing.T) {
	before := &gamestate.Snapshot{
		Tick: 1,
		Inventory: []gamestate.Item{
			{ID: 995, Name: "Coins", Count: 100},
			{ID: 995, Name: "Coins", Count: 50},
		},
	}
	after := &gamestate.Snapshot{
		Tick: 2,
		Inventory: []gamestate.Item{
			{ID: 995, Name: "Coins", Count: 200},
		},
	}

	d := Compute(before, after)
	if len(d.Inventory.Changed) != 1 {
		t.Fatalf("expected 1 changed entry, got %+v", d.Inventory)
	}
	c := d.Inventory.Changed[0]
	if c.BeforeCount != 150 || c.AfterCount != 200 {
		t.Errorf("expected 150 -> 200, got %d -> %d", c.BeforeCount, c.AfterCount)
	}
	if len(d.Summary) != 1 || !strings.Contains(d.Summary[0], "Gained 50x Coins") {
		t.Errorf("expected gain of 50 in summary, got %v", d.Summary)
	}
}

func TestInventoryGainLossAndWash(t *testing.T) {
	before := &gamestate.Snapshot{
		Tick: 1,
		Inventory: []gamestate.Item{
			{ID: 379, Name: "Lobster", Count: 3},
			{ID: 1511, Name: "Logs", Count: 10},
		},
	}
	after := &gamestate.Snapshot{
		Tick: 2,
		Inventory: []gamestate.Item{
			{ID: 1511, Name: "Logs", Count: 10}, // unchanged: no entry
			{ID: 317, Name: "Shrimps", Count: 4},
		},
	}

	d := Compute(before, after)
	if len(d.Inventory.Gained) != 1 || d.Inventory.Gained[0].ID != 317 {
		t.Errorf("expected Shrimps gained, got %+v", d.Inventory.Gained)
	}
	if len(d.Inventory.Lost) != 1 || d.Inventory.Lost[0].ID != 379 {
		t.Errorf("expected Lobster lost, got %+v", d.Inventory.Lost)
	}
	if len(d.Inventory.Changed) != 0 {
		t.Errorf("expected no changed entries, got %+v", d.Inventory.Changed)
	}
}

func TestSkillLevelUpFlag(t *testing.T) {
	before := &gamestate.Snapshot{
		Tick:   1,
		Skills: []gamestate.Skill{{Name: "Fishing", Experience: 13000, Level: 30}},
	}

	xpOnly := &gamestate.Snapshot{
		Tick:   2,
		Skills: []gamestate.Skill{{Name: "Fishing", Experience: 13300, Level: 30}},
	}
	d := Compute(before, xpOnly)
	if len(d.Skills) != 1 {
		t.Fatalf("expected 1 skill gain, got %+v", d.Skills)
	}
	if d.Skills[0].LevelUp {
		t.Error("expected level_up false for xp-only gain")
	}
	if d.Skills[0].XPGained != 300 {
		t.Errorf("expected 300 xp, got %d", d.Skills[0].XPGained)
	}

	leveled := &gamestate.Snapshot{
		Tick:   2,
		Skills: []gamestate.Skill{{Name: "Fishing", Experience: 13700, Level: 31}},
	}
	d = Compute(before, leveled)
	if len(d.Skills) != 1 || !d.Skills[0].LevelUp {
		t.Fatalf("expected level up, got %+v", d.Skills)
	}
	if d.Skills[0].NewLevel != 31 {
		t.Errorf("expected new level 31, got %d", d.Skills[0].NewLevel)
	}
	if !strings.Contains(d.Summary[0], "level up") {
		t.Errorf("expected level up in summary, got %v", d.Summary)
	}
}

func TestCombatAggregates(t *testing.T) {
	before := &gamestate.Snapshot{
		Tick:   100,
		Skills: []gamestate.Skill{{Name: "Hitpoints", Experience: 1200, Level: 20}},
	}
	after := &gamestate.Snapshot{
		Tick:   110,
		Skills: []gamestate.Skill{{Name: "Hitpoints", Experience: 1200, Level: 17}},
		CombatEvents: []gamestate.CombatEvent{
			{Tick: 95, Type: gamestate.CombatDamageDealt, Amount: 40}, // before window
			{Tick: 102, Type: gamestate.CombatDamageTaken, Amount: 3},
			{Tick: 104, Type: gamestate.CombatDamageTaken, Amount: 5},
			{Tick: 105, Type: gamestate.CombatDamageDealt, Amount: 22},
			{Tick: 108, Type: gamestate.CombatKill},
		},
	}

	d := Compute(before, after)
	if d.Combat.DamageTaken != 8 {
		t.Errorf("damage taken: got %d, want 8", d.Combat.DamageTaken)
	}
	if d.Combat.DamageDealt != 22 {
		t.Errorf("damage dealt: got %d, want 22", d.Combat.DamageDealt)
	}
	if d.Combat.Kills != 1 {
		t.Errorf("kills: got %d, want 1", d.Combat.Kills)
	}
	if d.Combat.HealthDelta != -3 {
		t.Errorf("health delta: got %d, want -3", d.Combat.HealthDelta)
	}
}

func TestHealthDeltaBaseline(t *testing.T) {
	// No Hitpoints skill on either side: both default to the baseline.
	d := Compute(&gamestate.Snapshot{Tick: 1}, &gamestate.Snapshot{Tick: 2})
	if d.Combat.HealthDelta != 0 {
		t.Errorf("expected 0 health delta with baseline on both sides, got %d", d.Combat.HealthDelta)
	}
}

func TestEntityDeathHeuristic(t *testing.T) {
	before := &gamestate.Snapshot{
		Tick: 1,
		NPCs: []gamestate.Entity{
			{Index: 12, Name: "Goblin", InCombat: true},
			{Index: 13, Name: "Goblin", InCombat: false},
		},
	}
	after := &gamestate.Snapshot{Tick: 2}

	d := Compute(before, after)
	if len(d.Entities.Died) != 1 || d.Entities.Died[0].Index != 12 {
		t.Errorf("expected entity 12 died, got %+v", d.Entities.Died)
	}
	if len(d.Entities.Disappeared) != 1 || d.Entities.Disappeared[0].Index != 13 {
		t.Errorf("expected entity 13 disappeared, got %+v", d.Entities.Disappeared)
	}
}

func TestEntityAppeared(t *testing.T) {
	before := &gamestate.Snapshot{Tick: 1}
	after := &gamestate.Snapshot{
		Tick: 2,
		NPCs: []gamestate.Entity{{Index: 44, Name: "Guard"}},
	}

	d := Compute(before, after)
	if len(d.Entities.Appeared) != 1 || d.Entities.Appeared[0].Name != "Guard" {
		t.Errorf("expected Guard appeared, got %+v", d.Entities.Appeared)
	}
}

func TestPositionThreshold(t *testing.T) {
	before := &gamestate.Snapshot{
		Tick:   1,
		Player: gamestate.PlayerState{Position: gamestate.Point{X: 0, Y: 0}},
	}
	near := &gamestate.Snapshot{
		Tick:   2,
		Player: gamestate.PlayerState{Position: gamestate.Point{X: 3, Y: 0}},
	}

	d := Compute(before, near)
	if !d.Position.Moved || d.Position.Distance != 3 {
		t.Errorf("expected moved=true distance=3, got %+v", d.Position)
	}
	for _, line := range d.Summary {
		if strings.Contains(line, "Moved") {
			t.Errorf("sub-threshold movement must not appear in summary: %v", d.Summary)
		}
	}

	far := &gamestate.Snapshot{
		Tick:   2,
		Player: gamestate.PlayerState{Position: gamestate.Point{X: 12, Y: 9}},
	}
	d = Compute(before, far)
	if d.Position.Distance != 15 {
		t.Errorf("expected distance 15, got %f", d.Position.Distance)
	}
	if len(d.Summary) != 1 || !strings.Contains(d.Summary[0], "Moved 15 tiles") {
		t.Errorf("expected movement summary, got %v", d.Summary)
	}
}

func TestUITransitions(t *testing.T) {
	before := &gamestate.Snapshot{Tick: 1, DialogOpen: true}
	after := &gamestate.Snapshot{Tick: 2, ShopOpen: true}

	d := Compute(before, after)
	if !d.UI.DialogClosed || d.UI.DialogOpened {
		t.Errorf("expected dialog closed edge, got %+v", d.UI)
	}
	if !d.UI.ShopOpened || d.UI.ShopClosed {
		t.Errorf("expected shop opened edge, got %+v", d.UI)
	}
	if d.UI.InterfaceOpened || d.UI.InterfaceClosed {
		t.Errorf("expected no interface edge, got %+v", d.UI)
	}
}

func TestMessagesStripFormatting(t *testing.T) {
	before := &gamestate.Snapshot{Tick: 10}
	after := &gamestate.Snapshot{
		Tick: 20,
		Messages: []gamestate.Message{
			{Tick: 5, Text: "old message"},
			{Tick: 15, Text: "<col=ff0000>You catch a lobster.</col>"},
		},
	}

	d := Compute(before, after)
	if len(d.Messages) != 1 {
		t.Fatalf("expected 1 new message, got %v", d.Messages)
	}
	if d.Messages[0] != "You catch a lobster." {
		t.Errorf("expected stripped message, got %q", d.Messages[0])
	}
}

func TestSummaryOrdering(t *testing.T) {
	before := baseSnapshot()
	after := &gamestate.Snapshot{
		Tick: 120,
		Inventory: []gamestate.Item{
			{ID: 995, Name: "Coins", Count: 100},
			{ID: 379, Name: "Lobster", Count: 4},
		},
		Skills: []gamestate.Skill{
			{Name: "Attack", Experience: 12500, Level: 40},
			{Name: "Hitpoints", Experience: 15000, Level: 42},
		},
		Player: gamestate.PlayerState{Position: gamestate.Point{X: 3210, Y: 3200}},
		Messages: []gamestate.Message{
			{Tick: 110, Text: "You eat the lobster."},
		},
	}

	d := Compute(before, after)
	if len(d.Summary) < 4 {
		t.Fatalf("expected at least 4 summary lines, got %v", d.Summary)
	}
	// Inventory lines precede skill lines, which precede movement.
	if !strings.Contains(d.Summary[0], "Lobster") {
		t.Errorf("expected inventory line first, got %v", d.Summary)
	}
	if !strings.Contains(d.Summary[1], "Attack") {
		t.Errorf("expected skill line second, got %v", d.Summary)
	}
	if !strings.Contains(d.Summary[2], "Moved") {
		t.Errorf("expected movement line third, got %v", d.Summary)
	}
	if !strings.Contains(d.Summary[3], "message") {
		t.Errorf("expected message count line last, got %v", d.Summary)
	}
}
