package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"BlueprintLedger/internal/config"
	"BlueprintLedger/internal/model"
	"BlueprintLedger/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// MintEligibility 铸造资格查询结果
type MintEligibility struct {
	Allowed           bool   `json:"allowed"`
	ItemType          string `json:"item_type"`
	Tier              string `json:"tier"`
	PiecesRequired    int64  `json:"pieces_required"`
	PiecesAvailable   int64  `json:"pieces_available"`
	CatalystRequired  int64  `json:"catalyst_required"`
	CatalystAvailable int64  `json:"catalyst_available"`
	Reason            string `json:"reason,omitempty"` // 不允许时的原因
}

// MintResult 铸造结果
type MintResult struct {
	TxID          string `json:"tx_id"`
	ItemType      string `json:"item_type"`
	Tier          string `json:"tier"`
	PiecesSpent   int64  `json:"pieces_spent"`
	CatalystSpent int64  `json:"catalyst_spent"`
	Replayed      bool   `json:"replayed"` // 同事务号重放，未重复扣减
}

// MintService 铸造引擎：碎片(+催化剂) -> 成品。
// 同一事务号重放只扣一次；完成后把台账铸造计数对齐到流水聚合值
type MintService struct {
	registry   *SeasonRegistry
	ledgerRepo repository.LedgerRepository
	playerRepo repository.PlayerRepository
	history    repository.HistoryRepository
	logger     *logrus.Logger
	cfg        *config.EconomyConfig
	now        func() time.Time
	locks      playerLocks
}

// NewMintService 创建铸造引擎
func NewMintService(db *gorm.DB, logger *logrus.Logger, cfg *config.EconomyConfig, registry *SeasonRegistry) *MintService {
	return NewMintServiceWithDeps(
		registry,
		repository.NewLedgerRepository(db),
		repository.NewPlayerRepository(db),
		repository.NewHistoryRepository(db),
		logger, cfg, time.Now,
	)
}

// NewMintServiceWithDeps 注入仓储与时钟（测试用）
func NewMintServiceWithDeps(registry *SeasonRegistry, ledgerRepo repository.LedgerRepository, playerRepo repository.PlayerRepository, history repository.HistoryRepository, logger *logrus.Logger, cfg *config.EconomyConfig, now func() time.Time) *MintService {
	return &MintService{
		registry:   registry,
		ledgerRepo: ledgerRepo,
		playerRepo: playerRepo,
		history:    history,
		logger:     logger,
		cfg:        cfg,
		now:        now,
	}
}

// Eligibility 查询铸造资格：返回所需/可用数量，调用方据此渲染界面
func (s *MintService) Eligibility(ctx context.Context, playerID, itemType, tier string) (*MintEligibility, error) {
	if playerID == "" || !model.ValidItemType(itemType) || !model.ValidMintTier(tier) {
		return nil, fmt.Errorf("%w: player_id/item_type/tier 不合法", ErrInvalidRequest)
	}
	ctx, cancel := boundedCtx(ctx, s.cfg.StorageTimeout)
	defer cancel()
	season, err := s.registry.ActiveSeason(ctx)
	if err != nil {
		return nil, err
	}
	cost := model.TierCosts[model.MintTier(tier)]

	el := &MintEligibility{
		ItemType:         itemType,
		Tier:             tier,
		PiecesRequired:   cost.Pieces,
		CatalystRequired: cost.Catalysts,
	}

	state, err := s.playerRepo.GetState(ctx, playerID, season.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 从未获得过碎片的玩家：资格为否，余额为0
			el.Reason = ReasonInsufficientFragments
			return el, nil
		}
		return nil, classifyStorageErr(err)
	}

	el.PiecesAvailable = state.FragmentsByItemType[itemType]
	el.CatalystAvailable = state.MintCatalysts
	switch {
	case el.PiecesAvailable < cost.Pieces:
		el.Reason = ReasonInsufficientFragments
	case el.CatalystAvailable < cost.Catalysts:
		el.Reason = ReasonInsufficientCatalyst
	default:
		el.Allowed = true
	}
	return el, nil
}

// Mint 执行铸造。txID 为空时生成新事务号；已存在的事务号直接返回历史流水（重放，不重复扣减）。
// 扣减顺序：先改玩家状态（乐观锁重试），再插入唯一事务号流水，最后对齐台账计数。
// 流水插入撞唯一索引说明并发重放已经赢了，这里把刚扣的补回去并返回已有流水
func (s *MintService) Mint(ctx context.Context, playerID, itemType, tier, txID string) (*MintResult, error) {
	if playerID == "" || !model.ValidItemType(itemType) || !model.ValidMintTier(tier) {
		return nil, fmt.Errorf("%w: player_id/item_type/tier 不合法", ErrInvalidRequest)
	}
	if txID == "" {
		txID = uuid.NewString()
	}
	ctx, cancel := boundedCtx(ctx, s.cfg.StorageTimeout)
	defer cancel()

	// 重放快速路径。重放时也对齐一次台账聚合，弥补首次提交时丢失的计数
	if existing, err := s.history.GetMintByTxID(ctx, txID); err == nil {
		if recErr := s.ledgerRepo.RecordMint(ctx, existing.SeasonID); recErr != nil {
			s.logger.WithError(recErr).WithField("tx_id", txID).Warn("台账铸造计数对齐失败")
		}
		return replayResult(existing), nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, classifyStorageErr(err)
	}

	season, err := s.registry.ActiveSeason(ctx)
	if err != nil {
		return nil, err
	}
	cost := model.TierCosts[model.MintTier(tier)]

	mu := s.locks.lock(playerID)
	mu.Lock()
	defer mu.Unlock()

	// 扣减玩家状态（乐观锁重试）
	attempts := s.cfg.VersionConflicts
	if attempts <= 0 {
		attempts = 3
	}
	var debited bool
	for i := 0; i < attempts; i++ {
		state, err := s.playerRepo.GetState(ctx, playerID, season.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrInsufficientFragments
			}
			return nil, classifyStorageErr(err)
		}
		if state.FragmentsByItemType[itemType] < cost.Pieces {
			return nil, ErrInsufficientFragments
		}
		if state.MintCatalysts < cost.Catalysts {
			return nil, ErrInsufficientCatalyst
		}
		state.Debit(model.ItemType(itemType), cost.Pieces)
		state.MintCatalysts -= cost.Catalysts
		if err := s.playerRepo.SaveState(ctx, state); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				continue
			}
			return nil, classifyStorageErr(err)
		}
		debited = true
		break
	}
	if !debited {
		return nil, ErrUnavailable
	}

	rec := &model.MintRecord{
		TxID:          txID,
		SeasonID:      season.ID,
		PlayerID:      playerID,
		ItemType:      itemType,
		Tier:          tier,
		PiecesSpent:   cost.Pieces,
		CatalystSpent: cost.Catalysts,
		CreatedAt:     s.now(),
	}
	if err := s.history.CreateMintRecord(ctx, rec); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// 并发重放：补回扣减，返回已有流水
			s.refund(ctx, playerID, season.ID, itemType, cost)
			if existing, getErr := s.history.GetMintByTxID(ctx, txID); getErr == nil {
				return replayResult(existing), nil
			}
			return nil, ErrUnavailable
		}
		s.refund(ctx, playerID, season.ID, itemType, cost)
		return nil, classifyStorageErr(err)
	}

	// 铸造完成事件：把台账计数对齐到流水聚合值。聚合推导天然幂等，
	// 此处失败不回滚铸造，下一次同事务号重放会再对齐
	if err := s.ledgerRepo.RecordMint(ctx, season.ID); err != nil {
		s.logger.WithError(err).WithField("tx_id", txID).Warn("台账铸造计数对齐失败")
	}

	mintsCompleted.WithLabelValues(tier).Inc()
	s.logger.WithFields(logrus.Fields{
		"player_id": playerID,
		"season_id": season.ID,
		"item_type": itemType,
		"tier":      tier,
		"tx_id":     txID,
	}).Info("铸造完成")
	return &MintResult{
		TxID:          txID,
		ItemType:      itemType,
		Tier:          tier,
		PiecesSpent:   cost.Pieces,
		CatalystSpent: cost.Catalysts,
	}, nil
}

// refund 流水插入失败后的补偿：把已扣的碎片/催化剂加回去
func (s *MintService) refund(ctx context.Context, playerID string, seasonID uint64, itemType string, cost model.MintCost) {
	attempts := s.cfg.VersionConflicts
	if attempts <= 0 {
		attempts = 3
	}
	for i := 0; i < attempts; i++ {
		state, err := s.playerRepo.GetState(ctx, playerID, seasonID)
		if err != nil {
			break
		}
		state.FragmentsByItemType[itemType] += cost.Pieces
		state.TotalUsed -= cost.Pieces
		state.MintCatalysts += cost.Catalysts
		if err := s.playerRepo.SaveState(ctx, state); err == nil {
			return
		} else if !errors.Is(err, repository.ErrVersionConflict) {
			break
		}
	}
	s.logger.WithFields(logrus.Fields{
		"player_id": playerID,
		"season_id": seasonID,
		"item_type": itemType,
	}).Error("铸造补偿失败，需人工对账")
}

func replayResult(rec *model.MintRecord) *MintResult {
	return &MintResult{
		TxID:          rec.TxID,
		ItemType:      rec.ItemType,
		Tier:          rec.Tier,
		PiecesSpent:   rec.PiecesSpent,
		CatalystSpent: rec.CatalystSpent,
		Replayed:      true,
	}
}
