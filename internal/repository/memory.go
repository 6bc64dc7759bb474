package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"BlueprintLedger/internal/model"

	"gorm.io/gorm"
)

// MemoryStore 四个仓储接口的内存实现，行为对齐 Postgres 实现：
// 未命中返回 gorm.ErrRecordNotFound，唯一键冲突返回 gorm.ErrDuplicatedKey，
// 预扣与版本校验在互斥锁内完成。服务测试与本地联调用
type MemoryStore struct {
	mu sync.Mutex

	seasonSeq uint64
	seasons   map[uint64]*model.Season

	ledgers map[uint64]*model.GlobalSupplyLedger // season_id -> 台账

	stateSeq uint64
	states   map[string]*model.PlayerAllocationState // player_id:season_id -> 状态

	dropSeq uint64
	drops   []*model.DropHistory

	mintSeq uint64
	mints   map[string]*model.MintRecord // tx_id -> 流水
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seasons: map[uint64]*model.Season{},
		ledgers: map[uint64]*model.GlobalSupplyLedger{},
		states:  map[string]*model.PlayerAllocationState{},
		mints:   map[string]*model.MintRecord{},
	}
}

var (
	_ SeasonRepository  = (*MemoryStore)(nil)
	_ LedgerRepository  = (*MemoryStore)(nil)
	_ PlayerRepository  = (*MemoryStore)(nil)
	_ HistoryRepository = (*MemoryStore)(nil)
)

func stateKey(playerID string, seasonID uint64) string {
	return fmt.Sprintf("%s:%d", playerID, seasonID)
}

func cloneSeason(s *model.Season) *model.Season {
	out := *s
	out.DistributionLimits = s.DistributionLimits.Clone()
	out.ItemWeights = s.ItemWeights.Clone()
	return &out
}

func cloneLedger(l *model.GlobalSupplyLedger) *model.GlobalSupplyLedger {
	out := *l
	out.DistributionByItemType = l.DistributionByItemType.Clone()
	out.DistributionBySource = l.DistributionBySource.Clone()
	return &out
}

func cloneState(s *model.PlayerAllocationState) *model.PlayerAllocationState {
	out := *s
	out.FragmentsByItemType = s.FragmentsByItemType.Clone()
	out.SourceBreakdown = s.SourceBreakdown.Clone()
	if s.LastEarnedAt != nil {
		t := *s.LastEarnedAt
		out.LastEarnedAt = &t
	}
	return &out
}

// ---- SeasonRepository ----

func (m *MemoryStore) CreateSeason(_ context.Context, season *model.Season) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seasonSeq++
	season.ID = m.seasonSeq
	m.seasons[season.ID] = cloneSeason(season)
	return nil
}

func (m *MemoryStore) GetSeasonByID(_ context.Context, seasonID uint64) (*model.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seasons[seasonID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneSeason(s), nil
}

func (m *MemoryStore) GetActiveSeason(_ context.Context, now time.Time) (*model.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *model.Season
	for _, s := range m.seasons {
		if s.IsActive && s.InWindow(now) {
			if best == nil || s.StartTime.After(best.StartTime) {
				best = s
			}
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneSeason(best), nil
}

func (m *MemoryStore) ListOverlappingActive(_ context.Context, start, end time.Time) ([]*model.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Season
	for _, s := range m.seasons {
		if s.IsActive && s.StartTime.Before(end) && s.EndTime.After(start) {
			out = append(out, cloneSeason(s))
		}
	}
	return out, nil
}

func (m *MemoryStore) ListExpiredActive(_ context.Context, now time.Time) ([]*model.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Season
	for _, s := range m.seasons {
		if s.IsActive && !s.EndTime.After(now) {
			out = append(out, cloneSeason(s))
		}
	}
	return out, nil
}

func (m *MemoryStore) ListSeasons(_ context.Context) ([]*model.Season, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Season, 0, len(m.seasons))
	for _, s := range m.seasons {
		out = append(out, cloneSeason(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

func (m *MemoryStore) SetSeasonInactive(_ context.Context, seasonID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seasons[seasonID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	s.IsActive = false
	s.UpdatedAt = time.Now()
	return nil
}

// ---- LedgerRepository ----

func (m *MemoryStore) CreateLedger(_ context.Context, ledger *model.GlobalSupplyLedger) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ledgers[ledger.SeasonID]; ok {
		return gorm.ErrDuplicatedKey
	}
	if ledger.DistributionByItemType == nil {
		ledger.DistributionByItemType = model.CountMap{}
	}
	if ledger.DistributionBySource == nil {
		ledger.DistributionBySource = model.CountMap{}
	}
	ledger.ID = ledger.SeasonID
	m.ledgers[ledger.SeasonID] = cloneLedger(ledger)
	return nil
}

func (m *MemoryStore) GetLedgerBySeason(_ context.Context, seasonID uint64) (*model.GlobalSupplyLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[seasonID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneLedger(l), nil
}

// Reserve 与 Postgres 实现同语义：检查与扣减在同一临界区内完成
func (m *MemoryStore) Reserve(_ context.Context, seasonID uint64, source model.DropSource, itemType model.ItemType, qty, sourceLimit int64) (*model.GlobalSupplyLedger, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("预扣数量必须为正: %d", qty)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[seasonID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	if l.Remaining < qty {
		return nil, ErrInsufficientSupply
	}
	if l.DistributionBySource[string(source)]+qty > sourceLimit {
		return nil, ErrSourceLimitExceeded
	}
	l.TotalDropped += qty
	l.Remaining -= qty
	l.DistributionBySource[string(source)] += qty
	l.DistributionByItemType[string(itemType)] += qty
	l.LastUpdated = time.Now()
	return cloneLedger(l), nil
}

func (m *MemoryStore) Release(_ context.Context, seasonID uint64, source model.DropSource, itemType model.ItemType, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("归还数量必须为正: %d", qty)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[seasonID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	l.TotalDropped -= qty
	l.Remaining += qty
	l.DistributionBySource[string(source)] -= qty
	l.DistributionByItemType[string(itemType)] -= qty
	l.LastUpdated = time.Now()
	return nil
}

func (m *MemoryStore) RecordMint(_ context.Context, seasonID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.ledgers[seasonID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	var mints, pieces int64
	for _, r := range m.mints {
		if r.SeasonID == seasonID {
			mints++
			pieces += r.PiecesSpent
		}
	}
	l.TotalMintsCompleted = mints
	l.TotalUsed = pieces
	l.LastUpdated = time.Now()
	return nil
}

// ---- PlayerRepository ----

func (m *MemoryStore) LoadOrCreateState(_ context.Context, playerID string, seasonID uint64, now time.Time) (*model.PlayerAllocationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stateKey(playerID, seasonID)
	if s, ok := m.states[key]; ok {
		return cloneState(s), nil
	}
	m.stateSeq++
	fresh := &model.PlayerAllocationState{
		ID:                  m.stateSeq,
		PlayerID:            playerID,
		SeasonID:            seasonID,
		FragmentsByItemType: model.CountMap{},
		SourceBreakdown:     model.CountMap{},
		LastDailyReset:      now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	m.states[key] = cloneState(fresh)
	return fresh, nil
}

func (m *MemoryStore) GetState(_ context.Context, playerID string, seasonID uint64) (*model.PlayerAllocationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[stateKey(playerID, seasonID)]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return cloneState(s), nil
}

func (m *MemoryStore) SaveState(_ context.Context, state *model.PlayerAllocationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stateKey(state.PlayerID, state.SeasonID)
	cur, ok := m.states[key]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if cur.Version != state.Version {
		return ErrVersionConflict
	}
	state.Version++
	state.UpdatedAt = time.Now()
	m.states[key] = cloneState(state)
	return nil
}

func (m *MemoryStore) ListStatesBySeason(_ context.Context, seasonID uint64, includeArchived bool) ([]*model.PlayerAllocationState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.PlayerAllocationState
	for _, s := range m.states {
		if s.SeasonID != seasonID {
			continue
		}
		if !includeArchived && s.Archived {
			continue
		}
		out = append(out, cloneState(s))
	}
	return out, nil
}

// ---- HistoryRepository ----

func (m *MemoryStore) AppendDropHistory(_ context.Context, rec *model.DropHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropSeq++
	rec.ID = m.dropSeq
	cp := *rec
	m.drops = append(m.drops, &cp)
	return nil
}

func (m *MemoryStore) ListDropsByPlayer(_ context.Context, playerID string, seasonID uint64, page, pageSize int) ([]*model.DropHistory, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.DropHistory
	for _, d := range m.drops {
		if d.PlayerID == playerID && d.SeasonID == seasonID {
			cp := *d
			all = append(all, &cp)
		}
	}
	// 新的在前
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

func (m *MemoryStore) CreateMintRecord(_ context.Context, rec *model.MintRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.mints[rec.TxID]; ok {
		return gorm.ErrDuplicatedKey
	}
	m.mintSeq++
	rec.ID = m.mintSeq
	cp := *rec
	m.mints[rec.TxID] = &cp
	return nil
}

func (m *MemoryStore) GetMintByTxID(_ context.Context, txID string) (*model.MintRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.mints[txID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) ListMintsByPlayer(_ context.Context, playerID string, seasonID uint64, page, pageSize int) ([]*model.MintRecord, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*model.MintRecord
	for _, r := range m.mints {
		if r.PlayerID == playerID && r.SeasonID == seasonID {
			cp := *r
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}
