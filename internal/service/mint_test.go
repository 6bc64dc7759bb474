package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"BlueprintLedger/internal/repository"
)

func (e *testEnv) mintService() *MintService {
	return NewMintServiceWithDeps(e.registry, e.store, e.store, e.store, testLogger(), e.cfg, e.clock.Now)
}

// seedFragments 通过发放引擎给玩家攒指定类型的碎片
func (e *testEnv) seedFragments(t *testing.T, playerID, itemType string, pieces int64) {
	t.Helper()
	svc := e.awardService(nil)
	res, err := svc.Award(context.Background(), playerID, &DropRequest{
		Source:             "live_events",
		BasePieces:         pieces,
		GuaranteedItemType: itemType,
	})
	if err != nil || !res.Success {
		t.Fatalf("seed award failed: %v %+v", err, res)
	}
}

func TestMintEligibility(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	svc := env.mintService()
	ctx := context.Background()

	// 从未获得过碎片的玩家：资格否，余额0
	el, err := svc.Eligibility(ctx, "stranger", "weapon", "common")
	if err != nil {
		t.Fatalf("Eligibility: %v", err)
	}
	if el.Allowed || el.Reason != ReasonInsufficientFragments {
		t.Errorf("got (%v,%s), want disallowed insufficient_fragments", el.Allowed, el.Reason)
	}
	if el.PiecesRequired != 10 || el.PiecesAvailable != 0 {
		t.Errorf("pieces = %d/%d, want 0/10", el.PiecesAvailable, el.PiecesRequired)
	}

	// 攒够10个后普通档资格通过
	env.seedFragments(t, "p", "weapon", 10)
	el, err = svc.Eligibility(ctx, "p", "weapon", "common")
	if err != nil {
		t.Fatalf("Eligibility: %v", err)
	}
	if !el.Allowed || el.PiecesAvailable != 10 {
		t.Errorf("got (%v, available=%d), want allowed with 10", el.Allowed, el.PiecesAvailable)
	}

	// 其他类型的碎片不算数
	el, _ = svc.Eligibility(ctx, "p", "armor", "common")
	if el.Allowed || el.Reason != ReasonInsufficientFragments {
		t.Errorf("cross-type fragments must not count: %+v", el)
	}

	// 传奇档需要100碎片+1催化剂
	el, _ = svc.Eligibility(ctx, "p", "weapon", "legendary")
	if el.Allowed || el.PiecesRequired != 100 || el.CatalystRequired != 1 {
		t.Errorf("legendary costs = %d pieces / %d catalysts, want 100/1", el.PiecesRequired, el.CatalystRequired)
	}
}

func TestMintCommon(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedFragments(t, "p", "weapon", 12)
	svc := env.mintService()
	ctx := context.Background()

	res, err := svc.Mint(ctx, "p", "weapon", "common", "tx-001")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if res.Replayed || res.PiecesSpent != 10 || res.CatalystSpent != 0 {
		t.Errorf("unexpected result: %+v", res)
	}

	state, _ := env.store.GetState(ctx, "p", env.season.ID)
	if state.FragmentsByItemType["weapon"] != 2 {
		t.Errorf("fragments left = %d, want 2", state.FragmentsByItemType["weapon"])
	}
	if state.TotalUsed != 10 {
		t.Errorf("total_used = %d, want 10", state.TotalUsed)
	}

	led, _ := env.store.GetLedgerBySeason(ctx, env.season.ID)
	if led.TotalMintsCompleted != 1 || led.TotalUsed != 10 {
		t.Errorf("ledger mints/used = %d/%d, want 1/10", led.TotalMintsCompleted, led.TotalUsed)
	}
}

func TestMintInsufficientFragments(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedFragments(t, "p", "weapon", 9)
	svc := env.mintService()

	_, err := svc.Mint(context.Background(), "p", "weapon", "common", "tx-002")
	if ReasonOf(err) != ReasonInsufficientFragments {
		t.Errorf("got %v, want insufficient_fragments", err)
	}
	// 失败不得扣减
	state, _ := env.store.GetState(context.Background(), "p", env.season.ID)
	if state.FragmentsByItemType["weapon"] != 9 || state.TotalUsed != 0 {
		t.Errorf("failed mint mutated state: %+v", state)
	}
}

func TestMintLegendaryCatalyst(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedFragments(t, "p", "companion", 100)
	svc := env.mintService()
	ctx := context.Background()

	// 碎片够但没有催化剂
	_, err := svc.Mint(ctx, "p", "companion", "legendary", "tx-100")
	if ReasonOf(err) != ReasonInsufficientCatalyst {
		t.Errorf("got %v, want insufficient_catalyst", err)
	}

	// 补一个催化剂后成功
	state, _ := env.store.GetState(ctx, "p", env.season.ID)
	state.MintCatalysts = 1
	if err := env.store.SaveState(ctx, state); err != nil {
		t.Fatalf("SaveState: %v", err)
	}
	res, err := svc.Mint(ctx, "p", "companion", "legendary", "tx-100")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if res.PiecesSpent != 100 || res.CatalystSpent != 1 {
		t.Errorf("spent = %d/%d, want 100/1", res.PiecesSpent, res.CatalystSpent)
	}
	state, _ = env.store.GetState(ctx, "p", env.season.ID)
	if state.MintCatalysts != 0 || state.FragmentsByItemType["companion"] != 0 {
		t.Errorf("post-mint state: catalysts=%d fragments=%d, want 0/0",
			state.MintCatalysts, state.FragmentsByItemType["companion"])
	}
}

// TestMintReplay 同事务号重放只扣一次
func TestMintReplay(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedFragments(t, "p", "armor", 30)
	svc := env.mintService()
	ctx := context.Background()

	first, err := svc.Mint(ctx, "p", "armor", "common", "tx-repeat")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if first.Replayed {
		t.Fatal("first mint marked as replay")
	}

	second, err := svc.Mint(ctx, "p", "armor", "common", "tx-repeat")
	if err != nil {
		t.Fatalf("replay Mint: %v", err)
	}
	if !second.Replayed {
		t.Error("second call with same tx_id should be a replay")
	}
	if second.TxID != first.TxID || second.PiecesSpent != first.PiecesSpent {
		t.Errorf("replay result differs: %+v vs %+v", second, first)
	}

	state, _ := env.store.GetState(ctx, "p", env.season.ID)
	if state.FragmentsByItemType["armor"] != 20 {
		t.Errorf("fragments = %d, want 20 (debited once)", state.FragmentsByItemType["armor"])
	}
	led, _ := env.store.GetLedgerBySeason(ctx, env.season.ID)
	if led.TotalMintsCompleted != 1 {
		t.Errorf("ledger mints = %d, want 1", led.TotalMintsCompleted)
	}
}

func TestMintGeneratesTxID(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedFragments(t, "p", "emblem", 10)
	svc := env.mintService()

	res, err := svc.Mint(context.Background(), "p", "emblem", "common", "")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if res.TxID == "" {
		t.Error("empty tx_id should be auto-generated")
	}
}

func TestMintInvalidInput(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	svc := env.mintService()
	ctx := context.Background()

	if _, err := svc.Mint(ctx, "", "weapon", "common", "tx"); ReasonOf(err) != ReasonInvalidRequest {
		t.Errorf("empty player: got %v", err)
	}
	if _, err := svc.Mint(ctx, "p", "boat", "common", "tx"); ReasonOf(err) != ReasonInvalidRequest {
		t.Errorf("unknown item type: got %v", err)
	}
	if _, err := svc.Mint(ctx, "p", "weapon", "mythic", "tx"); ReasonOf(err) != ReasonInvalidRequest {
		t.Errorf("unknown tier: got %v", err)
	}
}

func TestMintNoActiveSeason(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.clock.Advance(31 * 24 * time.Hour)
	env.registry.Invalidate()
	svc := env.mintService()

	if _, err := svc.Mint(context.Background(), "p", "weapon", "common", "tx"); ReasonOf(err) != ReasonNoActiveSeason {
		t.Errorf("got %v, want no_active_season", err)
	}
}

// 铸造使用量与发放量共同对账：total_used 不超过 total_dropped
func TestMintLedgerAccounting(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedFragments(t, "p1", "weapon", 20)
	env.seedFragments(t, "p2", "armor", 10)
	svc := env.mintService()
	ctx := context.Background()

	if _, err := svc.Mint(ctx, "p1", "weapon", "common", "tx-a"); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if _, err := svc.Mint(ctx, "p2", "armor", "common", "tx-b"); err != nil {
		t.Fatalf("Mint: %v", err)
	}

	led, _ := env.store.GetLedgerBySeason(ctx, env.season.ID)
	if led.TotalUsed != 20 {
		t.Errorf("total_used = %d, want 20", led.TotalUsed)
	}
	if led.TotalUsed > led.TotalDropped {
		t.Errorf("used %d exceeds dropped %d", led.TotalUsed, led.TotalDropped)
	}
}

// flakyMintLedger 第一次台账对齐失败，之后恢复正常
type flakyMintLedger struct {
	*repository.MemoryStore
	mu       sync.Mutex
	failOnce bool
}

func (f *flakyMintLedger) RecordMint(ctx context.Context, seasonID uint64) error {
	f.mu.Lock()
	if f.failOnce {
		f.failOnce = false
		f.mu.Unlock()
		return errors.New("台账暂不可写")
	}
	f.mu.Unlock()
	return f.MemoryStore.RecordMint(ctx, seasonID)
}

// 首次提交时台账计数写失败，同事务号重放必须把计数补齐
func TestMintCounterHealsOnReplay(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.seedFragments(t, "p", "weapon", 10)
	ledger := &flakyMintLedger{MemoryStore: env.store, failOnce: true}
	svc := NewMintServiceWithDeps(env.registry, ledger, env.store, env.store, testLogger(), env.cfg, env.clock.Now)
	ctx := context.Background()

	res, err := svc.Mint(ctx, "p", "weapon", "common", "tx-heal")
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if res.Replayed {
		t.Fatal("first mint must not be a replay")
	}
	led, _ := env.store.GetLedgerBySeason(ctx, env.season.ID)
	if led.TotalMintsCompleted != 0 {
		t.Fatalf("total_mints_completed = %d before heal, want 0", led.TotalMintsCompleted)
	}

	res, err = svc.Mint(ctx, "p", "weapon", "common", "tx-heal")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !res.Replayed {
		t.Fatal("second mint with same tx id must replay")
	}
	led, _ = env.store.GetLedgerBySeason(ctx, env.season.ID)
	if led.TotalMintsCompleted != 1 || led.TotalUsed != 10 {
		t.Errorf("ledger = (%d mints, %d used) after heal, want (1, 10)", led.TotalMintsCompleted, led.TotalUsed)
	}
}
