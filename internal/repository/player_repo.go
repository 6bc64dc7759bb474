package repository

import (
	"context"
	"errors"
	"time"

	"BlueprintLedger/internal/model"

	"gorm.io/gorm"
)

// PlayerRepository 玩家分配状态持久化。
// 单玩家内的并发更新依赖 version 乐观锁：Save 时版本不匹配返回 ErrVersionConflict，
// 服务层重读后有限次重试
type PlayerRepository interface {
	// LoadOrCreateState 读取玩家赛季状态，不存在时懒创建（并发创建时回退为读取已有行）
	LoadOrCreateState(ctx context.Context, playerID string, seasonID uint64, now time.Time) (*model.PlayerAllocationState, error)
	GetState(ctx context.Context, playerID string, seasonID uint64) (*model.PlayerAllocationState, error)
	// SaveState 带版本校验的整行更新，成功后把内存对象的版本号推进一位
	SaveState(ctx context.Context, state *model.PlayerAllocationState) error
	// ListStatesBySeason 赛季内全部未归档状态（结算任务用）
	ListStatesBySeason(ctx context.Context, seasonID uint64, includeArchived bool) ([]*model.PlayerAllocationState, error)
}

type playerRepository struct {
	db *gorm.DB
}

// NewPlayerRepository 创建玩家状态仓储
func NewPlayerRepository(db *gorm.DB) PlayerRepository {
	return &playerRepository{db: db}
}

func (r *playerRepository) LoadOrCreateState(ctx context.Context, playerID string, seasonID uint64, now time.Time) (*model.PlayerAllocationState, error) {
	state, err := r.GetState(ctx, playerID, seasonID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	fresh := &model.PlayerAllocationState{
		PlayerID:            playerID,
		SeasonID:            seasonID,
		FragmentsByItemType: model.CountMap{},
		SourceBreakdown:     model.CountMap{},
		LastDailyReset:      now,
	}
	if err := r.db.WithContext(ctx).Create(fresh).Error; err != nil {
		// 并发首次发放会撞唯一索引，回退为读已有行
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.GetState(ctx, playerID, seasonID)
		}
		return nil, err
	}
	return fresh, nil
}

func (r *playerRepository) GetState(ctx context.Context, playerID string, seasonID uint64) (*model.PlayerAllocationState, error) {
	var s model.PlayerAllocationState
	if err := r.db.WithContext(ctx).
		Where("player_id = ? AND season_id = ?", playerID, seasonID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *playerRepository) SaveState(ctx context.Context, state *model.PlayerAllocationState) error {
	res := r.db.WithContext(ctx).Model(&model.PlayerAllocationState{}).
		Where("id = ? AND version = ?", state.ID, state.Version).
		Updates(map[string]interface{}{
			"fragments_by_item_type": state.FragmentsByItemType,
			"total_earned":           state.TotalEarned,
			"total_used":             state.TotalUsed,
			"daily_earned":           state.DailyEarned,
			"last_daily_reset":       state.LastDailyReset,
			"mint_catalysts":         state.MintCatalysts,
			"legacy_chips":           state.LegacyChips,
			"last_earned_at":         state.LastEarnedAt,
			"source_breakdown":       state.SourceBreakdown,
			"archived":               state.Archived,
			"version":                state.Version + 1,
			"updated_at":             time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	state.Version++
	return nil
}

func (r *playerRepository) ListStatesBySeason(ctx context.Context, seasonID uint64, includeArchived bool) ([]*model.PlayerAllocationState, error) {
	db := r.db.WithContext(ctx).Where("season_id = ?", seasonID)
	if !includeArchived {
		db = db.Where("archived = ?", false)
	}
	var list []*model.PlayerAllocationState
	if err := db.Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
