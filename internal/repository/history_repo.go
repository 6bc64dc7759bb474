package repository

import (
	"context"

	"BlueprintLedger/internal/model"

	"gorm.io/gorm"
)

// HistoryRepository 发放流水与铸造流水持久化
type HistoryRepository interface {
	AppendDropHistory(ctx context.Context, rec *model.DropHistory) error
	ListDropsByPlayer(ctx context.Context, playerID string, seasonID uint64, page, pageSize int) ([]*model.DropHistory, int64, error)
	// CreateMintRecord 插入铸造流水，tx_id 重复时返回 gorm.ErrDuplicatedKey
	CreateMintRecord(ctx context.Context, rec *model.MintRecord) error
	GetMintByTxID(ctx context.Context, txID string) (*model.MintRecord, error)
	ListMintsByPlayer(ctx context.Context, playerID string, seasonID uint64, page, pageSize int) ([]*model.MintRecord, int64, error)
}

type historyRepository struct {
	db *gorm.DB
}

// NewHistoryRepository 创建流水仓储
func NewHistoryRepository(db *gorm.DB) HistoryRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) AppendDropHistory(ctx context.Context, rec *model.DropHistory) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *historyRepository) ListDropsByPlayer(ctx context.Context, playerID string, seasonID uint64, page, pageSize int) ([]*model.DropHistory, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	db := r.db.WithContext(ctx).Model(&model.DropHistory{}).
		Where("player_id = ? AND season_id = ?", playerID, seasonID)
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []*model.DropHistory
	if err := db.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *historyRepository) CreateMintRecord(ctx context.Context, rec *model.MintRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *historyRepository) GetMintByTxID(ctx context.Context, txID string) (*model.MintRecord, error) {
	var rec model.MintRecord
	if err := r.db.WithContext(ctx).Where("tx_id = ?", txID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *historyRepository) ListMintsByPlayer(ctx context.Context, playerID string, seasonID uint64, page, pageSize int) ([]*model.MintRecord, int64, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	db := r.db.WithContext(ctx).Model(&model.MintRecord{}).
		Where("player_id = ? AND season_id = ?", playerID, seasonID)
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []*model.MintRecord
	if err := db.Order("created_at DESC").Offset((page - 1) * pageSize).Limit(pageSize).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}
