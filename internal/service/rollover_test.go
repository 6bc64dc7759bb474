package service

import (
	"context"
	"testing"
	"time"

	"BlueprintLedger/internal/model"
)

func (e *testEnv) rolloverService() *RolloverService {
	return NewRolloverServiceWithDeps(e.store, e.store, e.registry, testLogger(), e.clock.Now)
}

// seedState 直接落一份带碎片的玩家状态（绕过发放窗口限制）
func (e *testEnv) seedState(t *testing.T, playerID string, fragments map[string]int64) {
	t.Helper()
	ctx := context.Background()
	state, err := e.store.LoadOrCreateState(ctx, playerID, e.season.ID, e.clock.Now())
	if err != nil {
		t.Fatalf("LoadOrCreateState: %v", err)
	}
	for it, n := range fragments {
		state.Credit(model.ItemType(it), n, "quest_rewards", e.clock.Now())
	}
	if err := e.store.SaveState(ctx, state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
}

func TestRolloverConvertsAndArchives(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedState(t, "p1", map[string]int64{"weapon": 7, "armor": 3}) // 10 × 0.5 = 5
	env.seedState(t, "p2", map[string]int64{"emblem": 7})             // floor(3.5) = 3
	svc := env.rolloverService()
	ctx := context.Background()

	// 赛季未结束时拒绝结算
	if _, err := svc.RolloverSeason(ctx, env.season.ID); ReasonOf(err) != ReasonInvalidRequest {
		t.Fatalf("premature rollover: got %v, want invalid_request", err)
	}

	env.clock.Advance(31 * 24 * time.Hour)
	converted, err := svc.RolloverSeason(ctx, env.season.ID)
	if err != nil {
		t.Fatalf("RolloverSeason: %v", err)
	}
	if converted != 2 {
		t.Errorf("converted = %d, want 2", converted)
	}

	s1, _ := env.store.GetState(ctx, "p1", env.season.ID)
	if s1.LegacyChips != 5 || s1.FragmentTotal() != 0 || !s1.Archived {
		t.Errorf("p1 state after rollover: chips=%d fragments=%d archived=%v",
			s1.LegacyChips, s1.FragmentTotal(), s1.Archived)
	}
	s2, _ := env.store.GetState(ctx, "p2", env.season.ID)
	if s2.LegacyChips != 3 {
		t.Errorf("p2 chips = %d, want floor(7*0.5)=3", s2.LegacyChips)
	}

	season, _ := env.store.GetSeasonByID(ctx, env.season.ID)
	if season.IsActive {
		t.Error("season still active after rollover")
	}
	// 注册表缓存已失效：发放此刻应报无活跃赛季
	if _, err := env.registry.ActiveSeason(ctx); ReasonOf(err) != ReasonNoActiveSeason {
		t.Errorf("registry after rollover: got %v, want no_active_season", err)
	}
}

// TestRolloverIdempotent 重复结算不再产生任何变更
func TestRolloverIdempotent(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedState(t, "p1", map[string]int64{"weapon": 10})
	svc := env.rolloverService()
	ctx := context.Background()
	env.clock.Advance(31 * 24 * time.Hour)

	if _, err := svc.RolloverSeason(ctx, env.season.ID); err != nil {
		t.Fatalf("first rollover: %v", err)
	}
	before, _ := env.store.GetState(ctx, "p1", env.season.ID)

	converted, err := svc.RolloverSeason(ctx, env.season.ID)
	if err != nil {
		t.Fatalf("second rollover: %v", err)
	}
	if converted != 0 {
		t.Errorf("second rollover converted %d players, want 0", converted)
	}
	after, _ := env.store.GetState(ctx, "p1", env.season.ID)
	if after.LegacyChips != before.LegacyChips {
		t.Errorf("chips changed on repeat rollover: %d -> %d", before.LegacyChips, after.LegacyChips)
	}
}

func TestRolloverZeroRate(t *testing.T) {
	in := &CreateSeasonInput{
		Name:                 "零兑换率",
		MaxPieces:            100,
		ItemWeights:          map[string]float64{"weapon": 1},
		LegacyConversionRate: 0,
	}
	env := newTestEnv(t, in, nil)
	env.seedState(t, "p", map[string]int64{"weapon": 50})
	svc := env.rolloverService()
	ctx := context.Background()
	env.clock.Advance(31 * 24 * time.Hour)

	if _, err := svc.RolloverSeason(ctx, env.season.ID); err != nil {
		t.Fatalf("RolloverSeason: %v", err)
	}
	state, _ := env.store.GetState(ctx, "p", env.season.ID)
	if state.LegacyChips != 0 || state.FragmentTotal() != 0 || !state.Archived {
		t.Errorf("zero-rate rollover: chips=%d fragments=%d archived=%v",
			state.LegacyChips, state.FragmentTotal(), state.Archived)
	}
}

func TestRolloverUnknownSeason(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	svc := env.rolloverService()

	if _, err := svc.RolloverSeason(context.Background(), 9999); ReasonOf(err) != ReasonInvalidRequest {
		t.Errorf("got %v, want invalid_request", err)
	}
}
