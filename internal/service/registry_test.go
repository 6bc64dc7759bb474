package service

import (
	"context"
	"testing"
	"time"

	"BlueprintLedger/internal/repository"
)

func TestRegistryNoActiveSeason(t *testing.T) {
	store := repository.NewMemoryStore()
	clock := newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local))
	reg := NewSeasonRegistryWithClock(store, testLogger(), time.Minute, clock.Now)

	if _, err := reg.ActiveSeason(context.Background()); ReasonOf(err) != ReasonNoActiveSeason {
		t.Errorf("got %v, want no_active_season", err)
	}
}

// TestRegistryCachesWithinTTL 缓存命中期内容忍陈旧配置，TTL一过重新读库
func TestRegistryCachesWithinTTL(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	season, err := env.registry.ActiveSeason(ctx)
	if err != nil {
		t.Fatalf("ActiveSeason: %v", err)
	}

	// 直接在存储里翻转赛季：缓存期内注册表仍返回旧配置
	if err := env.store.SetSeasonInactive(ctx, season.ID); err != nil {
		t.Fatalf("SetSeasonInactive: %v", err)
	}
	env.clock.Advance(30 * time.Second)
	if _, err := env.registry.ActiveSeason(ctx); err != nil {
		t.Errorf("within TTL should serve cache, got %v", err)
	}

	// TTL过期后读到最新状态
	env.clock.Advance(31 * time.Second)
	if _, err := env.registry.ActiveSeason(ctx); ReasonOf(err) != ReasonNoActiveSeason {
		t.Errorf("after TTL expiry: got %v, want no_active_season", err)
	}
}

func TestRegistryInvalidateBypassesCache(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	ctx := context.Background()

	season, err := env.registry.ActiveSeason(ctx)
	if err != nil {
		t.Fatalf("ActiveSeason: %v", err)
	}
	if err := env.store.SetSeasonInactive(ctx, season.ID); err != nil {
		t.Fatalf("SetSeasonInactive: %v", err)
	}
	env.registry.Invalidate()

	if _, err := env.registry.ActiveSeason(ctx); ReasonOf(err) != ReasonNoActiveSeason {
		t.Errorf("after Invalidate: got %v, want no_active_season", err)
	}
}

// TestRegistryCacheRespectsWindow 缓存不会把赛季"延命"到窗口之外：
// 即使TTL未到，赛季窗口一过缓存即失效
func TestRegistryCacheRespectsWindow(t *testing.T) {
	store := repository.NewMemoryStore()
	clock := newTestClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local))
	logger := testLogger()
	reg := NewSeasonRegistryWithClock(store, logger, time.Minute, clock.Now)
	seasons := NewSeasonServiceWithDeps(store, store, reg, logger, clock.Now)

	if _, err := seasons.CreateSeason(context.Background(), &CreateSeasonInput{
		Name:        "短赛季",
		StartTime:   clock.Now(),
		EndTime:     clock.Now().Add(30 * time.Second),
		MaxPieces:   100,
		ItemWeights: map[string]float64{"weapon": 1},
	}); err != nil {
		t.Fatalf("CreateSeason: %v", err)
	}

	if _, err := reg.ActiveSeason(context.Background()); err != nil {
		t.Fatalf("ActiveSeason: %v", err)
	}
	clock.Advance(45 * time.Second) // TTL内，但窗口已过
	if _, err := reg.ActiveSeason(context.Background()); ReasonOf(err) != ReasonNoActiveSeason {
		t.Errorf("expired window served from cache: %v", err)
	}
}

func TestRegistryTTLClamp(t *testing.T) {
	store := repository.NewMemoryStore()
	reg := NewSeasonRegistryWithClock(store, testLogger(), 10*time.Minute, time.Now)
	if reg.ttl != 60*time.Second {
		t.Errorf("ttl = %v, want clamped to 60s", reg.ttl)
	}
	reg = NewSeasonRegistryWithClock(store, testLogger(), 0, time.Now)
	if reg.ttl != 60*time.Second {
		t.Errorf("zero ttl = %v, want default 60s", reg.ttl)
	}
}
