package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BlueprintLedger/internal/model"
	"BlueprintLedger/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// StatsService 只读查询：全局台账快照、玩家状态、流水列表（看板与前端用）
type StatsService struct {
	seasonRepo  repository.SeasonRepository
	ledgerRepo  repository.LedgerRepository
	playerRepo  repository.PlayerRepository
	historyRepo repository.HistoryRepository
	logger      *logrus.Logger
}

// NewStatsService 创建查询服务
func NewStatsService(db *gorm.DB, logger *logrus.Logger) *StatsService {
	return NewStatsServiceWithDeps(
		repository.NewSeasonRepository(db),
		repository.NewLedgerRepository(db),
		repository.NewPlayerRepository(db),
		repository.NewHistoryRepository(db),
		logger,
	)
}

// NewStatsServiceWithDeps 注入仓储（测试用）
func NewStatsServiceWithDeps(seasonRepo repository.SeasonRepository, ledgerRepo repository.LedgerRepository, playerRepo repository.PlayerRepository, historyRepo repository.HistoryRepository, logger *logrus.Logger) *StatsService {
	return &StatsService{
		seasonRepo:  seasonRepo,
		ledgerRepo:  ledgerRepo,
		playerRepo:  playerRepo,
		historyRepo: historyRepo,
		logger:      logger,
	}
}

// GlobalStats 赛季全局台账快照
type GlobalStats struct {
	SeasonID               uint64           `json:"season_id"`
	SeasonName             string           `json:"season_name"`
	MaxPieces              int64            `json:"max_pieces"`
	TotalDropped           int64            `json:"total_dropped"`
	TotalUsed              int64            `json:"total_used"`
	Remaining              int64            `json:"remaining"`
	DistributionByItemType map[string]int64 `json:"distribution_by_item_type"`
	DistributionBySource   map[string]int64 `json:"distribution_by_source"`
	TotalMintsCompleted    int64            `json:"total_mints_completed"`
	LastUpdated            time.Time        `json:"last_updated"`
}

// GetGlobalStats 读取赛季台账（实时值，不走缓存）
func (s *StatsService) GetGlobalStats(ctx context.Context, seasonID uint64) (*GlobalStats, error) {
	ctx, cancel := boundedCtx(ctx, 0)
	defer cancel()
	season, err := s.seasonRepo.GetSeasonByID(ctx, seasonID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 赛季 %d 不存在", ErrInvalidRequest, seasonID)
		}
		return nil, classifyStorageErr(err)
	}
	ledger, err := s.ledgerRepo.GetLedgerBySeason(ctx, seasonID)
	if err != nil {
		return nil, classifyStorageErr(err)
	}
	return &GlobalStats{
		SeasonID:               seasonID,
		SeasonName:             season.Name,
		MaxPieces:              season.MaxPieces,
		TotalDropped:           ledger.TotalDropped,
		TotalUsed:              ledger.TotalUsed,
		Remaining:              ledger.Remaining,
		DistributionByItemType: ledger.DistributionByItemType,
		DistributionBySource:   ledger.DistributionBySource,
		TotalMintsCompleted:    ledger.TotalMintsCompleted,
		LastUpdated:            ledger.LastUpdated,
	}, nil
}

// GetPlayerState 玩家赛季状态（只读）
func (s *StatsService) GetPlayerState(ctx context.Context, playerID string, seasonID uint64) (*model.PlayerAllocationState, error) {
	ctx, cancel := boundedCtx(ctx, 0)
	defer cancel()
	state, err := s.playerRepo.GetState(ctx, playerID, seasonID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: 玩家 %s 在赛季 %d 无状态记录", ErrInvalidRequest, playerID, seasonID)
		}
		return nil, classifyStorageErr(err)
	}
	return state, nil
}

// ListPlayerDrops 玩家发放流水（分页，新的在前）
func (s *StatsService) ListPlayerDrops(ctx context.Context, playerID string, seasonID uint64, page, pageSize int) ([]*model.DropHistory, int64, error) {
	ctx, cancel := boundedCtx(ctx, 0)
	defer cancel()
	list, total, err := s.historyRepo.ListDropsByPlayer(ctx, playerID, seasonID, page, pageSize)
	if err != nil {
		return nil, 0, classifyStorageErr(err)
	}
	return list, total, nil
}

// ListPlayerMints 玩家铸造流水（分页，新的在前）
func (s *StatsService) ListPlayerMints(ctx context.Context, playerID string, seasonID uint64, page, pageSize int) ([]*model.MintRecord, int64, error) {
	ctx, cancel := boundedCtx(ctx, 0)
	defer cancel()
	list, total, err := s.historyRepo.ListMintsByPlayer(ctx, playerID, seasonID, page, pageSize)
	if err != nil {
		return nil, 0, classifyStorageErr(err)
	}
	return list, total, nil
}
