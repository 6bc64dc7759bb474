package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"BlueprintLedger/internal/model"
	"BlueprintLedger/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RolloverService 赛季结算：到期赛季的剩余碎片按兑换率转为传承币，
// 玩家状态归档，赛季翻转为不活跃。整个过程可重复执行
// （归档标记与活跃标记挡住重复结算），以便部分失败后重试
type RolloverService struct {
	seasonRepo repository.SeasonRepository
	playerRepo repository.PlayerRepository
	registry   *SeasonRegistry
	logger     *logrus.Logger
	now        func() time.Time
}

// NewRolloverService 创建结算服务
func NewRolloverService(db *gorm.DB, logger *logrus.Logger, registry *SeasonRegistry) *RolloverService {
	return NewRolloverServiceWithDeps(
		repository.NewSeasonRepository(db),
		repository.NewPlayerRepository(db),
		registry, logger, time.Now,
	)
}

// NewRolloverServiceWithDeps 注入仓储与时钟（测试用）
func NewRolloverServiceWithDeps(seasonRepo repository.SeasonRepository, playerRepo repository.PlayerRepository, registry *SeasonRegistry, logger *logrus.Logger, now func() time.Time) *RolloverService {
	return &RolloverService{
		seasonRepo: seasonRepo,
		playerRepo: playerRepo,
		registry:   registry,
		logger:     logger,
		now:        now,
	}
}

// RolloverSeason 结算一个赛季。幂等：已归档的玩家状态被跳过，
// 已翻转的赛季再次调用不产生任何变更。返回本次实际转换的玩家数
func (s *RolloverService) RolloverSeason(ctx context.Context, seasonID uint64) (int, error) {
	readCtx, cancelRead := boundedCtx(ctx, 0)
	defer cancelRead()
	season, err := s.seasonRepo.GetSeasonByID(readCtx, seasonID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: 赛季 %d 不存在", ErrInvalidRequest, seasonID)
		}
		return 0, classifyStorageErr(err)
	}
	if season.EndTime.After(s.now()) {
		return 0, fmt.Errorf("%w: 赛季 %d 尚未结束", ErrInvalidRequest, seasonID)
	}

	states, err := s.playerRepo.ListStatesBySeason(readCtx, seasonID, false)
	if err != nil {
		return 0, classifyStorageErr(err)
	}

	converted := 0
	for _, state := range states {
		total := state.FragmentTotal()
		chips := int64(math.Floor(float64(total) * season.LegacyConversionRate))
		state.LegacyChips += chips
		state.FragmentsByItemType = model.CountMap{}
		state.Archived = true
		// 每个玩家的写入单独计时：整批结算耗时与单次存储超时解耦
		saveCtx, cancelSave := boundedCtx(ctx, 0)
		err := s.playerRepo.SaveState(saveCtx, state)
		cancelSave()
		if err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				// 结算窗口内极少数并发写：留给下一轮重试
				s.logger.WithField("player_id", state.PlayerID).Warn("结算遇到版本冲突，跳过待重试")
				continue
			}
			return converted, classifyStorageErr(err)
		}
		converted++
	}

	if season.IsActive {
		flipCtx, cancelFlip := boundedCtx(ctx, 0)
		err := s.seasonRepo.SetSeasonInactive(flipCtx, seasonID)
		cancelFlip()
		if err != nil {
			return converted, classifyStorageErr(err)
		}
		if s.registry != nil {
			s.registry.Invalidate()
		}
		rolloversCompleted.Inc()
	}

	s.logger.WithFields(logrus.Fields{
		"season_id": seasonID,
		"players":   converted,
		"rate":      season.LegacyConversionRate,
	}).Info("赛季结算完成")
	return converted, nil
}

// RunLoop 后台循环：按固定间隔扫描已到期但仍活跃的赛季并结算。
// ctx 取消即退出
func (s *RolloverService) RunLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.seasonRepo.ListExpiredActive(ctx, s.now())
			if err != nil {
				s.logger.WithError(err).Warn("扫描到期赛季失败")
				continue
			}
			for _, season := range expired {
				if _, err := s.RolloverSeason(ctx, season.ID); err != nil {
					s.logger.WithError(err).WithField("season_id", season.ID).Error("赛季结算失败，下一轮重试")
				}
			}
		}
	}
}
