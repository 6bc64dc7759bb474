package model

import (
	"testing"
	"time"
)

func TestApplyDailyResetIfDue(t *testing.T) {
	base := time.Date(2026, 3, 1, 23, 0, 0, 0, time.Local)

	cases := []struct {
		name      string
		lastReset time.Time
		now       time.Time
		wantReset bool
	}{
		{"同一天内不重置", base, base.Add(30 * time.Minute), false},
		{"跨过零点即重置", base, base.Add(90 * time.Minute), true}, // 次日 00:30
		{"隔多天也只重置一次", base, base.Add(72 * time.Hour), true},
		{"正好零点", base, time.Date(2026, 3, 2, 0, 0, 0, 0, time.Local), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &PlayerAllocationState{DailyEarned: 42, LastDailyReset: tc.lastReset}
			got := s.ApplyDailyResetIfDue(tc.now)
			if got != tc.wantReset {
				t.Errorf("reset = %v, want %v", got, tc.wantReset)
			}
			if tc.wantReset && s.DailyEarned != 0 {
				t.Errorf("daily_earned = %d after reset, want 0", s.DailyEarned)
			}
			if !tc.wantReset && s.DailyEarned != 42 {
				t.Errorf("daily_earned = %d without reset, want 42", s.DailyEarned)
			}
		})
	}
}

func TestCreditAndDebit(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)
	s := &PlayerAllocationState{}

	s.Credit("weapon", 7, "quest_rewards", now)
	s.Credit("weapon", 3, "battle_victories", now)
	s.Credit("armor", 5, "quest_rewards", now)

	if s.FragmentTotal() != 15 || s.TotalEarned != 15 || s.DailyEarned != 15 {
		t.Errorf("totals = %d/%d/%d, want 15/15/15", s.FragmentTotal(), s.TotalEarned, s.DailyEarned)
	}
	if s.SourceBreakdown["quest_rewards"] != 12 {
		t.Errorf("source breakdown = %d, want 12", s.SourceBreakdown["quest_rewards"])
	}
	if s.LastEarnedAt == nil || !s.LastEarnedAt.Equal(now) {
		t.Errorf("last_earned_at = %v, want %v", s.LastEarnedAt, now)
	}

	// 扣减不足时全有或全无
	if s.Debit("armor", 6) {
		t.Error("debit beyond balance should fail")
	}
	if s.FragmentsByItemType["armor"] != 5 || s.TotalUsed != 0 {
		t.Errorf("failed debit mutated state: %d/%d", s.FragmentsByItemType["armor"], s.TotalUsed)
	}
	if !s.Debit("armor", 5) {
		t.Error("exact debit should succeed")
	}
	if s.FragmentsByItemType["armor"] != 0 || s.TotalUsed != 5 {
		t.Errorf("post debit: %d/%d, want 0/5", s.FragmentsByItemType["armor"], s.TotalUsed)
	}
}

func TestSeasonWindowAndProgress(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.Local)
	s := &Season{StartTime: start, EndTime: start.Add(10 * 24 * time.Hour)}

	if s.InWindow(start.Add(-time.Second)) {
		t.Error("before start should be out of window")
	}
	if !s.InWindow(start) {
		t.Error("start instant should be in window")
	}
	if s.InWindow(s.EndTime) {
		t.Error("end instant should be out of window")
	}

	if got := s.Progress(start.Add(-time.Hour)); got != 0 {
		t.Errorf("progress before start = %v, want 0", got)
	}
	if got := s.Progress(start.Add(5 * 24 * time.Hour)); got != 0.5 {
		t.Errorf("mid progress = %v, want 0.5", got)
	}
	if got := s.Progress(s.EndTime.Add(time.Hour)); got != 1 {
		t.Errorf("progress after end = %v, want 1", got)
	}
}

func TestSeasonSourceLimit(t *testing.T) {
	s := &Season{MaxPieces: 1000, DistributionLimits: CountMap{"quest_rewards": 300}}
	if got := s.SourceLimit("quest_rewards"); got != 300 {
		t.Errorf("configured limit = %d, want 300", got)
	}
	if got := s.SourceLimit("live_events"); got != 1000 {
		t.Errorf("unset limit = %d, want budget 1000", got)
	}
}

func TestCatalogValidation(t *testing.T) {
	if !ValidItemType("weapon") || ValidItemType("boat") {
		t.Error("item type catalog check broken")
	}
	if !ValidDropSource("pack_openings") || ValidDropSource("casino") {
		t.Error("drop source catalog check broken")
	}
	if !ValidMintTier("legendary") || ValidMintTier("mythic") {
		t.Error("mint tier catalog check broken")
	}
	if c := TierCosts[TierCommon]; c.Pieces != 10 || c.Catalysts != 0 {
		t.Errorf("common cost = %+v, want 10 pieces", c)
	}
	if c := TierCosts[TierLegendary]; c.Pieces != 100 || c.Catalysts != 1 {
		t.Errorf("legendary cost = %+v, want 100+1", c)
	}
}
