package model

import (
	"time"

	"gorm.io/datatypes"
)

// GlobalSupplyLedger 对应 global_supply_ledgers 表，每个赛季一行。
// 这是全局预算的唯一序列化点：remaining 的扣减必须在行锁事务里做条件更新，
// 读缓存再回写会在并发下超卖。
// 不变量：remaining = max_pieces - total_dropped >= 0；
// sum(distribution_by_source) == sum(distribution_by_item_type) == total_dropped
type GlobalSupplyLedger struct {
	ID                     uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	SeasonID               uint64    `gorm:"column:season_id;type:bigint;uniqueIndex;not null"`
	TotalDropped           int64     `gorm:"column:total_dropped;type:bigint;default:0"`
	TotalUsed              int64     `gorm:"column:total_used;type:bigint;default:0"` // 已被铸造消耗的碎片数
	Remaining              int64     `gorm:"column:remaining;type:bigint;not null"`
	DistributionByItemType CountMap  `gorm:"column:distribution_by_item_type;type:jsonb;not null"`
	DistributionBySource   CountMap  `gorm:"column:distribution_by_source;type:jsonb;not null"`
	TotalMintsCompleted    int64     `gorm:"column:total_mints_completed;type:bigint;default:0"`
	LastUpdated            time.Time `gorm:"column:last_updated;type:timestamp;default:now()"`
}

func (GlobalSupplyLedger) TableName() string { return "global_supply_ledgers" }

// DropHistory 对应 drop_histories 表，发放审计流水。
// 每次发放请求无论成败都追加一条（对账依据），RequestData 保留原始请求快照
type DropHistory struct {
	ID             uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	DropUUID       string         `gorm:"column:drop_uuid;type:varchar(64);uniqueIndex;not null"`
	SeasonID       uint64         `gorm:"column:season_id;type:bigint;index;not null"`
	PlayerID       string         `gorm:"column:player_id;type:varchar(64);index;not null"`
	Source         string         `gorm:"column:source;type:varchar(32);not null"`
	ItemType       string         `gorm:"column:item_type;type:varchar(32)"` // 失败时可为空
	Quantity       int64          `gorm:"column:quantity;type:bigint;default:0"`
	Success        bool           `gorm:"column:success;type:boolean;not null"`
	Reason         string         `gorm:"column:reason;type:varchar(64);not null"` // 成功为 ok，失败为错误种类
	RarityBonus    bool           `gorm:"column:rarity_bonus;type:boolean;default:false"`
	RemainingAfter int64          `gorm:"column:remaining_after;type:bigint;default:0"` // 落账后的全局余量
	DailyRemaining int64          `gorm:"column:daily_remaining;type:bigint;default:0"` // 该玩家当日剩余额度
	RequestData    datatypes.JSON `gorm:"column:request_data;type:jsonb;not null"`
	CreatedAt      time.Time      `gorm:"column:created_at;type:timestamp;default:now()"`
}

func (DropHistory) TableName() string { return "drop_histories" }

// MintRecord 对应 mint_records 表，铸造流水。
// TxID 唯一索引承担重放幂等：同一铸造事务号只会扣一次碎片
type MintRecord struct {
	ID            uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	TxID          string    `gorm:"column:tx_id;type:varchar(64);uniqueIndex;not null"`
	SeasonID      uint64    `gorm:"column:season_id;type:bigint;index;not null"`
	PlayerID      string    `gorm:"column:player_id;type:varchar(64);index;not null"`
	ItemType      string    `gorm:"column:item_type;type:varchar(32);not null"`
	Tier          string    `gorm:"column:tier;type:varchar(16);not null"`
	PiecesSpent   int64     `gorm:"column:pieces_spent;type:bigint;not null"`
	CatalystSpent int64     `gorm:"column:catalyst_spent;type:bigint;default:0"`
	CreatedAt     time.Time `gorm:"column:created_at;type:timestamp;default:now()"`
}

func (MintRecord) TableName() string { return "mint_records" }
