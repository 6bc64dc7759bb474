package model

import (
	"time"
)

// PlayerAllocationState 对应 player_allocation_states 表，每个玩家每个赛季一行。
// 首次发放时懒创建；赛季结算时剩余碎片按兑换率转为 legacy_chips 并标记 archived。
// Version 是乐观锁版本号：同一玩家的并发更新靠它避免互相覆盖计数
type PlayerAllocationState struct {
	ID                  uint64     `gorm:"column:id;primaryKey;autoIncrement"`
	PlayerID            string     `gorm:"column:player_id;type:varchar(64);not null;uniqueIndex:uniq_player_season,priority:1"`
	SeasonID            uint64     `gorm:"column:season_id;type:bigint;not null;uniqueIndex:uniq_player_season,priority:2"`
	FragmentsByItemType CountMap   `gorm:"column:fragments_by_item_type;type:jsonb;not null"`
	TotalEarned         int64      `gorm:"column:total_earned;type:bigint;default:0"`
	TotalUsed           int64      `gorm:"column:total_used;type:bigint;default:0"`
	DailyEarned         int64      `gorm:"column:daily_earned;type:bigint;default:0"`
	LastDailyReset      time.Time  `gorm:"column:last_daily_reset;type:timestamp;not null"`
	MintCatalysts       int64      `gorm:"column:mint_catalysts;type:bigint;default:0"`
	LegacyChips         int64      `gorm:"column:legacy_chips;type:bigint;default:0"`
	LastEarnedAt        *time.Time `gorm:"column:last_earned_at;type:timestamp"` // 冷却锚点，从未获得过为空
	SourceBreakdown     CountMap   `gorm:"column:source_breakdown;type:jsonb;not null"`
	Archived            bool       `gorm:"column:archived;type:boolean;default:false"`
	Version             int64      `gorm:"column:version;type:bigint;default:0"` // 乐观锁
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (PlayerAllocationState) TableName() string { return "player_allocation_states" }

// FragmentTotal 当前持有碎片总数（跨道具类型）
func (s *PlayerAllocationState) FragmentTotal() int64 {
	return s.FragmentsByItemType.Sum()
}

// ApplyDailyResetIfDue 懒惰日重置：last_daily_reset 之后的本地零点一过，
// daily_earned 归零。每次读写日计数前都先调用，不落库（由调用方持久化）。
// 返回是否发生了重置
func (s *PlayerAllocationState) ApplyDailyResetIfDue(now time.Time) bool {
	last := s.LastDailyReset.In(time.Local)
	nowLocal := now.In(time.Local)
	lastDay := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.Local)
	nowDay := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), 0, 0, 0, 0, time.Local)
	if !nowDay.After(lastDay) {
		return false
	}
	s.DailyEarned = 0
	s.LastDailyReset = now
	return true
}

// Credit 记入一笔发放：按类型累加碎片并更新各项计数。调用方负责先做日重置与持久化
func (s *PlayerAllocationState) Credit(itemType ItemType, quantity int64, source DropSource, now time.Time) {
	if s.FragmentsByItemType == nil {
		s.FragmentsByItemType = CountMap{}
	}
	if s.SourceBreakdown == nil {
		s.SourceBreakdown = CountMap{}
	}
	s.FragmentsByItemType[string(itemType)] += quantity
	s.SourceBreakdown[string(source)] += quantity
	s.TotalEarned += quantity
	s.DailyEarned += quantity
	t := now
	s.LastEarnedAt = &t
}

// Debit 扣减指定类型碎片，余额不足返回 false（不产生部分扣减）
func (s *PlayerAllocationState) Debit(itemType ItemType, quantity int64) bool {
	if s.FragmentsByItemType == nil {
		return false
	}
	have := s.FragmentsByItemType[string(itemType)]
	if have < quantity {
		return false
	}
	s.FragmentsByItemType[string(itemType)] = have - quantity
	s.TotalUsed += quantity
	return true
}
