package repository

import (
	"context"
	"time"

	"BlueprintLedger/internal/model"

	"gorm.io/gorm"
)

// SeasonRepository 赛季配置持久化
type SeasonRepository interface {
	CreateSeason(ctx context.Context, season *model.Season) error
	GetSeasonByID(ctx context.Context, seasonID uint64) (*model.Season, error)
	// GetActiveSeason 返回 now 落在窗口内且 is_active 的赛季，没有则 gorm.ErrRecordNotFound
	GetActiveSeason(ctx context.Context, now time.Time) (*model.Season, error)
	// ListOverlappingActive 查询与 [start,end) 窗口重叠且仍活跃的赛季（创建时的互斥校验）
	ListOverlappingActive(ctx context.Context, start, end time.Time) ([]*model.Season, error)
	// ListExpiredActive 查询已过 end_time 但尚未翻转 is_active 的赛季（结算任务扫描用）
	ListExpiredActive(ctx context.Context, now time.Time) ([]*model.Season, error)
	ListSeasons(ctx context.Context) ([]*model.Season, error)
	SetSeasonInactive(ctx context.Context, seasonID uint64) error
}

type seasonRepository struct {
	db *gorm.DB
}

// NewSeasonRepository 创建赛季仓储
func NewSeasonRepository(db *gorm.DB) SeasonRepository {
	return &seasonRepository{db: db}
}

func (r *seasonRepository) CreateSeason(ctx context.Context, season *model.Season) error {
	return r.db.WithContext(ctx).Create(season).Error
}

func (r *seasonRepository) GetSeasonByID(ctx context.Context, seasonID uint64) (*model.Season, error) {
	var s model.Season
	if err := r.db.WithContext(ctx).Where("id = ?", seasonID).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *seasonRepository) GetActiveSeason(ctx context.Context, now time.Time) (*model.Season, error) {
	var s model.Season
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND start_time <= ? AND end_time > ?", true, now, now).
		Order("start_time DESC").
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *seasonRepository) ListOverlappingActive(ctx context.Context, start, end time.Time) ([]*model.Season, error) {
	var list []*model.Season
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND start_time < ? AND end_time > ?", true, end, start).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *seasonRepository) ListExpiredActive(ctx context.Context, now time.Time) ([]*model.Season, error) {
	var list []*model.Season
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND end_time <= ?", true, now).
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *seasonRepository) ListSeasons(ctx context.Context) ([]*model.Season, error) {
	var list []*model.Season
	if err := r.db.WithContext(ctx).Order("start_time DESC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *seasonRepository) SetSeasonInactive(ctx context.Context, seasonID uint64) error {
	return r.db.WithContext(ctx).Model(&model.Season{}).
		Where("id = ?", seasonID).
		Updates(map[string]interface{}{"is_active": false, "updated_at": time.Now()}).Error
}
