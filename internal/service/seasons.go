package service

import (
	"context"
	"fmt"
	"time"

	"BlueprintLedger/internal/model"
	"BlueprintLedger/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SeasonService 赛季管理：运营侧创建与查询。
// 创建时一并初始化该赛季的全局供应台账，并保证活跃窗口互斥
type SeasonService struct {
	seasonRepo repository.SeasonRepository
	ledgerRepo repository.LedgerRepository
	registry   *SeasonRegistry
	logger     *logrus.Logger
	now        func() time.Time
}

// NewSeasonService 创建赛季管理服务
func NewSeasonService(db *gorm.DB, logger *logrus.Logger, registry *SeasonRegistry) *SeasonService {
	return NewSeasonServiceWithDeps(
		repository.NewSeasonRepository(db),
		repository.NewLedgerRepository(db),
		registry, logger, time.Now,
	)
}

// NewSeasonServiceWithDeps 注入仓储与时钟（测试用）
func NewSeasonServiceWithDeps(seasonRepo repository.SeasonRepository, ledgerRepo repository.LedgerRepository, registry *SeasonRegistry, logger *logrus.Logger, now func() time.Time) *SeasonService {
	return &SeasonService{
		seasonRepo: seasonRepo,
		ledgerRepo: ledgerRepo,
		registry:   registry,
		logger:     logger,
		now:        now,
	}
}

// CreateSeasonInput 创建赛季的入参
type CreateSeasonInput struct {
	Name                 string             `json:"name"`
	StartTime            time.Time          `json:"start_time"`
	EndTime              time.Time          `json:"end_time"`
	MaxPieces            int64              `json:"max_pieces"`
	DistributionLimits   map[string]int64   `json:"distribution_limits"` // 来源 -> 上限
	ItemWeights          map[string]float64 `json:"item_weights"`        // 道具类型 -> 基础权重
	DailyCapEnabled      bool               `json:"daily_cap_enabled"`
	DailyCapAmount       int64              `json:"daily_cap_amount"`
	LegacyConversionRate float64            `json:"legacy_conversion_rate"`
}

// CreateSeason 创建赛季并初始化台账。
// 边界校验：权重表与配额表的键必须在目录内，未知键直接拒绝；
// 活跃窗口与已有活跃赛季重叠时拒绝（任一时刻最多一个活跃赛季）
func (s *SeasonService) CreateSeason(ctx context.Context, in *CreateSeasonInput) (*model.Season, error) {
	if in == nil || in.Name == "" {
		return nil, fmt.Errorf("%w: name 必填", ErrInvalidRequest)
	}
	if !in.EndTime.After(in.StartTime) {
		return nil, fmt.Errorf("%w: end_time 必须晚于 start_time", ErrInvalidRequest)
	}
	if in.MaxPieces <= 0 {
		return nil, fmt.Errorf("%w: max_pieces 必须为正", ErrInvalidRequest)
	}
	if in.LegacyConversionRate < 0 || in.LegacyConversionRate > 1 {
		return nil, fmt.Errorf("%w: legacy_conversion_rate 必须在 [0,1]", ErrInvalidRequest)
	}
	if len(in.ItemWeights) == 0 {
		return nil, fmt.Errorf("%w: item_weights 不能为空", ErrInvalidRequest)
	}
	for k, v := range in.ItemWeights {
		if !model.ValidItemType(k) {
			return nil, fmt.Errorf("%w: 未知道具类型 %q", ErrInvalidRequest, k)
		}
		if v <= 0 {
			return nil, fmt.Errorf("%w: 道具 %q 权重必须为正", ErrInvalidRequest, k)
		}
	}
	for k, v := range in.DistributionLimits {
		if !model.ValidDropSource(k) {
			return nil, fmt.Errorf("%w: 未知来源 %q", ErrInvalidRequest, k)
		}
		if v < 0 {
			return nil, fmt.Errorf("%w: 来源 %q 配额不能为负", ErrInvalidRequest, k)
		}
	}

	ctx, cancel := boundedCtx(ctx, 0)
	defer cancel()

	overlapping, err := s.seasonRepo.ListOverlappingActive(ctx, in.StartTime, in.EndTime)
	if err != nil {
		return nil, classifyStorageErr(err)
	}
	if len(overlapping) > 0 {
		return nil, fmt.Errorf("%w: 窗口与活跃赛季 %q 重叠", ErrInvalidRequest, overlapping[0].Name)
	}

	season := &model.Season{
		Name:                 in.Name,
		StartTime:            in.StartTime,
		EndTime:              in.EndTime,
		MaxPieces:            in.MaxPieces,
		IsActive:             true,
		DistributionLimits:   model.CountMap(in.DistributionLimits),
		ItemWeights:          model.WeightMap(in.ItemWeights),
		DailyCapEnabled:      in.DailyCapEnabled,
		DailyCapAmount:       in.DailyCapAmount,
		LegacyConversionRate: in.LegacyConversionRate,
	}
	if season.DistributionLimits == nil {
		season.DistributionLimits = model.CountMap{}
	}
	if err := s.seasonRepo.CreateSeason(ctx, season); err != nil {
		return nil, classifyStorageErr(err)
	}

	ledger := &model.GlobalSupplyLedger{
		SeasonID:               season.ID,
		Remaining:              season.MaxPieces,
		DistributionByItemType: model.CountMap{},
		DistributionBySource:   model.CountMap{},
		LastUpdated:            s.now(),
	}
	if err := s.ledgerRepo.CreateLedger(ctx, ledger); err != nil {
		return nil, fmt.Errorf("初始化赛季台账失败: %w", classifyStorageErr(err))
	}

	if s.registry != nil {
		s.registry.Invalidate()
	}
	s.logger.WithFields(logrus.Fields{
		"season_id":  season.ID,
		"name":       season.Name,
		"max_pieces": season.MaxPieces,
	}).Info("赛季已创建")
	return season, nil
}

// ListSeasons 全部赛季（按开始时间倒序）
func (s *SeasonService) ListSeasons(ctx context.Context) ([]*model.Season, error) {
	ctx, cancel := boundedCtx(ctx, 0)
	defer cancel()
	list, err := s.seasonRepo.ListSeasons(ctx)
	if err != nil {
		return nil, classifyStorageErr(err)
	}
	return list, nil
}
