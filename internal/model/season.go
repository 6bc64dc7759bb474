package model

import (
	"time"
)

// Season 对应 seasons 表，一个赛季即一个限量发放周期。
// 全局不变量：任一时刻最多一个赛季 is_active = true（创建入口拒绝活跃窗口重叠）。
// 生命周期：运营后台在开赛前创建 -> 窗口内可查询/发放 -> 到期由结算任务翻转 is_active 并转换剩余碎片
type Season struct {
	ID                   uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Name                 string    `gorm:"column:name;type:varchar(128);not null"`
	StartTime            time.Time `gorm:"column:start_time;type:timestamp;not null"`
	EndTime              time.Time `gorm:"column:end_time;type:timestamp;not null"`
	MaxPieces            int64     `gorm:"column:max_pieces;type:bigint;not null"`           // 全局碎片预算
	IsActive             bool      `gorm:"column:is_active;type:boolean;default:true;index"` // 活跃标记，结算后翻转
	DistributionLimits   CountMap  `gorm:"column:distribution_limits;type:jsonb;not null"`   // 来源 -> 该来源最多可发放数
	ItemWeights          WeightMap `gorm:"column:item_weights;type:jsonb;not null"`          // 道具类型 -> 基础权重
	DailyCapEnabled      bool      `gorm:"column:daily_cap_enabled;type:boolean;default:false"`
	DailyCapAmount       int64     `gorm:"column:daily_cap_amount;type:bigint;default:0"`             // 赛季级单日上限
	LegacyConversionRate float64   `gorm:"column:legacy_conversion_rate;type:numeric(6,4);default:0"` // 结算兑换率（0-1）
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Season) TableName() string { return "seasons" }

// InWindow 判断给定时刻是否落在赛季窗口内
func (s *Season) InWindow(now time.Time) bool {
	return !now.Before(s.StartTime) && now.Before(s.EndTime)
}

// Progress 赛季已进行比例，钳制在 [0,1]
func (s *Season) Progress(now time.Time) float64 {
	total := s.EndTime.Sub(s.StartTime)
	if total <= 0 {
		return 1
	}
	p := float64(now.Sub(s.StartTime)) / float64(total)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// SourceLimit 某来源的发放上限，未配置视为不限（返回 MaxPieces）
func (s *Season) SourceLimit(source DropSource) int64 {
	if limit, ok := s.DistributionLimits[string(source)]; ok {
		return limit
	}
	return s.MaxPieces
}
