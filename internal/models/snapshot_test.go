package models

import (
	"testing"
	"time"
)

func snap(action Action, priority Priority) *Snapshot {
	return &Snapshot{
		Seq:         1,
		EvaluatedAt: time.Now().UTC(),
		Action:      action,
		Priority:    priority,
	}
}

func TestComputeChangeFlags_FirstSnapshot(t *testing.T) {
	flags := ComputeChangeFlags(nil, NewRoll(ActionRollWeekly, 450, date(2026, 9, 25), -0.35), PriorityHigh)
	if flags.ActionChanged || flags.TargetChanged || flags.PriorityChanged {
		t.Errorf("sequence-1 flags must all be false, got %+v", flags)
	}
}

func TestComputeChangeFlags(t *testing.T) {
	exp := date(2026, 9, 25)
	tests := []struct {
		name     string
		prev     *Snapshot
		action   Action
		priority Priority
		want     ChangeFlags
	}{
		{
			name:     "identical evaluation",
			prev:     snap(NewRoll(ActionRollWeekly, 450, exp, -0.35), PriorityMedium),
			action:   NewRoll(ActionRollWeekly, 450, exp, -0.35),
			priority: PriorityMedium,
			want:     ChangeFlags{},
		},
		{
			name:     "strike within one dollar is unchanged",
			prev:     snap(NewRoll(ActionRollWeekly, 450, exp, -0.35), PriorityMedium),
			action:   NewRoll(ActionRollWeekly, 451, exp, -0.20),
			priority: PriorityMedium,
			want:     ChangeFlags{},
		},
		{
			name:     "strike beyond one dollar changes target",
			prev:     snap(NewRoll(ActionRollWeekly, 450, exp, -0.35), PriorityMedium),
			action:   NewRoll(ActionRollWeekly, 451.01, exp, -0.20),
			priority: PriorityMedium,
			want:     ChangeFlags{TargetChanged: true},
		},
		{
			name:     "expiration shift changes target",
			prev:     snap(NewRoll(ActionRollWeekly, 450, exp, -0.35), PriorityMedium),
			action:   NewRoll(ActionRollWeekly, 450, exp.AddDate(0, 0, 7), -0.35),
			priority: PriorityMedium,
			want:     ChangeFlags{TargetChanged: true},
		},
		{
			name:     "action kind change",
			prev:     snap(NewRoll(ActionRollWeekly, 450, exp, -0.35), PriorityMedium),
			action:   NewRoll(ActionRollITM, 450, exp, 0.80),
			priority: PriorityMedium,
			want:     ChangeFlags{ActionChanged: true},
		},
		{
			name:     "priority escalation flips priority flag only",
			prev:     snap(NewRoll(ActionRollWeekly, 450, exp, -0.35), PriorityMedium),
			action:   NewRoll(ActionRollWeekly, 450, exp, -0.35),
			priority: PriorityUrgent,
			want:     ChangeFlags{PriorityChanged: true},
		},
		{
			name:     "target disappearing changes target",
			prev:     snap(NewRoll(ActionRollWeekly, 450, exp, -0.35), PriorityMedium),
			action:   NewWait("no roll available"),
			priority: PriorityMedium,
			want:     ChangeFlags{ActionChanged: true, TargetChanged: true},
		},
		{
			name:     "no targets on either side is unchanged",
			prev:     snap(NewHold(), PriorityLow),
			action:   NewHold(),
			priority: PriorityLow,
			want:     ChangeFlags{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeChangeFlags(tt.prev, tt.action, tt.priority)
			if got != tt.want {
				t.Errorf("ComputeChangeFlags() = %+v, want %+v", got, tt.want)
			}
			// Idempotent: same inputs, same flags.
			if again := ComputeChangeFlags(tt.prev, tt.action, tt.priority); again != got {
				t.Errorf("diff not idempotent: first %+v then %+v", got, again)
			}
		})
	}
}

func TestPriorityEscalated(t *testing.T) {
	prev := snap(NewRoll(ActionRollWeekly, 450, date(2026, 9, 25), -0.35), PriorityMedium)

	if !PriorityEscalated(prev, PriorityUrgent) {
		t.Error("medium -> urgent should escalate")
	}
	if PriorityEscalated(prev, PriorityLow) {
		t.Error("medium -> low should not escalate")
	}
	if PriorityEscalated(prev, PriorityMedium) {
		t.Error("medium -> medium should not escalate")
	}
	if PriorityEscalated(nil, PriorityUrgent) {
		t.Error("no previous snapshot cannot escalate")
	}
}

func TestPriorityRank(t *testing.T) {
	order := []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}
	for i, p := range order {
		if p.Rank() != i {
			t.Errorf("%s rank = %d, want %d", p, p.Rank(), i)
		}
	}
	if Priority("bogus").Rank() != 4 {
		t.Error("unknown priority should rank last")
	}
}
