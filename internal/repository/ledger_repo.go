package repository

import (
	"context"
	"fmt"
	"time"

	"BlueprintLedger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerRepository 全局供应台账持久化。
// Reserve 是全局预算唯一的扣减入口：行锁事务内条件更新，
// 余量/配额不够直接返回类型化错误，绝不先缓存读数再独立回写
type LedgerRepository interface {
	CreateLedger(ctx context.Context, ledger *model.GlobalSupplyLedger) error
	GetLedgerBySeason(ctx context.Context, seasonID uint64) (*model.GlobalSupplyLedger, error)
	// Reserve 原子预扣 qty 个碎片：校验全局余量与来源配额，成功则落账并返回更新后的台账。
	// 失败返回 ErrInsufficientSupply / ErrSourceLimitExceeded，不产生任何变更
	Reserve(ctx context.Context, seasonID uint64, source model.DropSource, itemType model.ItemType, qty, sourceLimit int64) (*model.GlobalSupplyLedger, error)
	// Release 归还一笔已预扣但最终未记入玩家的数量（补偿动作，方向与 Reserve 相反）
	Release(ctx context.Context, seasonID uint64, source model.DropSource, itemType model.ItemType, qty int64) error
	// RecordMint 将台账的铸造计数与已消耗碎片数对齐到铸造流水的聚合值。
	// 流水以 tx_id 唯一，聚合推导天然幂等，重复调用不会多计
	RecordMint(ctx context.Context, seasonID uint64) error
}

type ledgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository 创建台账仓储
func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) CreateLedger(ctx context.Context, ledger *model.GlobalSupplyLedger) error {
	if ledger.DistributionByItemType == nil {
		ledger.DistributionByItemType = model.CountMap{}
	}
	if ledger.DistributionBySource == nil {
		ledger.DistributionBySource = model.CountMap{}
	}
	return r.db.WithContext(ctx).Create(ledger).Error
}

func (r *ledgerRepository) GetLedgerBySeason(ctx context.Context, seasonID uint64) (*model.GlobalSupplyLedger, error) {
	var led model.GlobalSupplyLedger
	if err := r.db.WithContext(ctx).Where("season_id = ?", seasonID).First(&led).Error; err != nil {
		return nil, err
	}
	return &led, nil
}

func (r *ledgerRepository) Reserve(ctx context.Context, seasonID uint64, source model.DropSource, itemType model.ItemType, qty, sourceLimit int64) (*model.GlobalSupplyLedger, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("预扣数量必须为正: %d", qty)
	}

	var result *model.GlobalSupplyLedger
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var led model.GlobalSupplyLedger
		// SELECT ... FOR UPDATE：锁住赛季行，使检查与扣减成为一个原子步骤
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("season_id = ?", seasonID).
			First(&led).Error; err != nil {
			return err
		}

		if led.Remaining < qty {
			return ErrInsufficientSupply
		}
		if led.DistributionBySource == nil {
			led.DistributionBySource = model.CountMap{}
		}
		if led.DistributionByItemType == nil {
			led.DistributionByItemType = model.CountMap{}
		}
		if led.DistributionBySource[string(source)]+qty > sourceLimit {
			return ErrSourceLimitExceeded
		}

		led.TotalDropped += qty
		led.Remaining -= qty
		led.DistributionBySource[string(source)] += qty
		led.DistributionByItemType[string(itemType)] += qty
		led.LastUpdated = time.Now()

		if err := tx.Model(&model.GlobalSupplyLedger{}).
			Where("season_id = ?", seasonID).
			Updates(map[string]interface{}{
				"total_dropped":             led.TotalDropped,
				"remaining":                 led.Remaining,
				"distribution_by_source":    led.DistributionBySource,
				"distribution_by_item_type": led.DistributionByItemType,
				"last_updated":              led.LastUpdated,
			}).Error; err != nil {
			return err
		}
		result = &led
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *ledgerRepository) Release(ctx context.Context, seasonID uint64, source model.DropSource, itemType model.ItemType, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("归还数量必须为正: %d", qty)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var led model.GlobalSupplyLedger
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("season_id = ?", seasonID).
			First(&led).Error; err != nil {
			return err
		}
		led.TotalDropped -= qty
		led.Remaining += qty
		led.DistributionBySource[string(source)] -= qty
		led.DistributionByItemType[string(itemType)] -= qty
		led.LastUpdated = time.Now()
		return tx.Model(&model.GlobalSupplyLedger{}).
			Where("season_id = ?", seasonID).
			Updates(map[string]interface{}{
				"total_dropped":             led.TotalDropped,
				"remaining":                 led.Remaining,
				"distribution_by_source":    led.DistributionBySource,
				"distribution_by_item_type": led.DistributionByItemType,
				"last_updated":              led.LastUpdated,
			}).Error
	})
}

func (r *ledgerRepository) RecordMint(ctx context.Context, seasonID uint64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agg struct {
			Mints  int64
			Pieces int64
		}
		if err := tx.Model(&model.MintRecord{}).
			Where("season_id = ?", seasonID).
			Select("COUNT(*) AS mints, COALESCE(SUM(pieces_spent), 0) AS pieces").
			Scan(&agg).Error; err != nil {
			return err
		}
		return tx.Model(&model.GlobalSupplyLedger{}).
			Where("season_id = ?", seasonID).
			Updates(map[string]interface{}{
				"total_mints_completed": agg.Mints,
				"total_used":            agg.Pieces,
				"last_updated":          time.Now(),
			}).Error
	})
}
