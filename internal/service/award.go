package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"BlueprintLedger/internal/config"
	"BlueprintLedger/internal/model"
	"BlueprintLedger/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DropRequest 一次发放请求（玩法模块调用，不落库，快照进审计流水）
type DropRequest struct {
	Source                 string  `json:"source"`                             // 来源玩法，见目录
	BasePieces             int64   `json:"base_pieces"`                        // 基础数量
	RarityModifier         float64 `json:"rarity_modifier,omitempty"`          // 稀有度系数，缺省1.0
	PlayerLevelModifier    float64 `json:"player_level_modifier,omitempty"`    // 玩家等级系数，缺省1.0
	SeasonProgressModifier float64 `json:"season_progress_modifier,omitempty"` // 赛季进度系数，缺省1.0
	AllowDuplicates        bool    `json:"allow_duplicates,omitempty"`         // false 时优先发放未持有的类型
	CooldownMinutes        int     `json:"cooldown_minutes,omitempty"`         // >0 时覆盖全局冷却配置
	GuaranteedItemType     string  `json:"guaranteed_item_type,omitempty"`     // 指定类型则跳过选型
}

// DropResult 发放结果
type DropResult struct {
	Success         bool   `json:"success"`
	Quantity        int64  `json:"quantity"`
	ItemType        string `json:"item_type,omitempty"`
	RemainingSupply int64  `json:"remaining_supply"`
	DailyRemaining  int64  `json:"daily_remaining"` // 当日剩余额度，-1表示无上限
	RarityBonus     bool   `json:"rarity_bonus"`
	Reason          string `json:"reason"`  // 错误种类标识，成功为 ok
	Message         string `json:"message"` // 人类可读说明
}

// playerLocks 按玩家分段的进程内互斥：同一玩家的提交段串行，
// 不同玩家互不争用。跨进程的并发仍由乐观锁版本号兜底
type playerLocks struct {
	shards [64]sync.Mutex
}

func (p *playerLocks) lock(playerID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(playerID))
	return &p.shards[h.Sum32()%uint32(len(p.shards))]
}

// AwardService 发放引擎：准入检查 -> 数量计算 -> 选型 -> 预扣落账。
// 全局预算的扣减走台账的原子预扣，玩家计数走乐观锁，两者都不经过缓存
type AwardService struct {
	registry   *SeasonRegistry
	ledgerRepo repository.LedgerRepository
	playerRepo repository.PlayerRepository
	history    repository.HistoryRepository
	logger     *logrus.Logger
	cfg        *config.EconomyConfig
	now        func() time.Time
	rng        RandomSource
	locks      playerLocks
}

// NewAwardService 创建发放引擎
func NewAwardService(db *gorm.DB, logger *logrus.Logger, cfg *config.EconomyConfig, registry *SeasonRegistry) *AwardService {
	return NewAwardServiceWithDeps(
		registry,
		repository.NewLedgerRepository(db),
		repository.NewPlayerRepository(db),
		repository.NewHistoryRepository(db),
		logger, cfg, time.Now, DefaultRand(),
	)
}

// NewAwardServiceWithDeps 注入仓储、时钟与随机源（测试用）
func NewAwardServiceWithDeps(registry *SeasonRegistry, ledgerRepo repository.LedgerRepository, playerRepo repository.PlayerRepository, history repository.HistoryRepository, logger *logrus.Logger, cfg *config.EconomyConfig, now func() time.Time, rng RandomSource) *AwardService {
	return &AwardService{
		registry:   registry,
		ledgerRepo: ledgerRepo,
		playerRepo: playerRepo,
		history:    history,
		logger:     logger,
		cfg:        cfg,
		now:        now,
		rng:        rng,
	}
}

// Award 处理一次发放请求。
// 准入检查只读，任何一项失败立即返回且不产生台账/玩家状态变更（审计流水除外）。
// 提交段：先台账预扣，再玩家记账；预扣因并发竞速失败时按最新余量重算一次再失败
func (s *AwardService) Award(ctx context.Context, playerID string, req *DropRequest) (*DropResult, error) {
	ctx, cancel := boundedCtx(ctx, s.cfg.StorageTimeout)
	defer cancel()
	now := s.now()

	if err := validateDropRequest(playerID, req); err != nil {
		res := failResult(err)
		s.audit(ctx, 0, playerID, req, res)
		return res, nil
	}
	normalizeModifiers(req)
	source := model.DropSource(req.Source)

	// 准入 a：赛季活跃
	season, err := s.registry.ActiveSeason(ctx)
	if err != nil {
		res := failResult(err)
		s.audit(ctx, 0, playerID, req, res)
		return res, nil
	}

	// 准入 b/c：全局余量与来源配额（读最新台账，不走缓存）
	ledger, err := s.ledgerRepo.GetLedgerBySeason(ctx, season.ID)
	if err != nil {
		return nil, classifyStorageErr(err)
	}
	if ledger.Remaining <= 0 {
		res := failResult(ErrInsufficientSupply)
		s.audit(ctx, season.ID, playerID, req, res)
		return res, nil
	}
	sourceLimit := season.SourceLimit(source)
	if ledger.DistributionBySource[req.Source] >= sourceLimit {
		res := failResult(ErrSourceLimitExceeded)
		s.audit(ctx, season.ID, playerID, req, res)
		return res, nil
	}

	// 准入 d/e：单日上限与冷却（日计数先做懒惰重置再比较）
	state, err := s.playerRepo.LoadOrCreateState(ctx, playerID, season.ID, now)
	if err != nil {
		return nil, classifyStorageErr(err)
	}
	state.ApplyDailyResetIfDue(now)

	if season.DailyCapEnabled && state.DailyEarned >= season.DailyCapAmount {
		res := failResult(ErrDailyCapReached)
		res.DailyRemaining = 0
		s.audit(ctx, season.ID, playerID, req, res)
		return res, nil
	}
	if s.cfg.AntiWhale.DailyCapPerPlayer > 0 && state.DailyEarned >= int64(s.cfg.AntiWhale.DailyCapPerPlayer) {
		res := failResult(ErrDailyCapReached)
		res.DailyRemaining = 0
		s.audit(ctx, season.ID, playerID, req, res)
		return res, nil
	}
	cooldown := s.cfg.AntiWhale.CooldownBetween
	if req.CooldownMinutes > 0 {
		cooldown = time.Duration(req.CooldownMinutes) * time.Minute
	}
	if cooldown > 0 && state.LastEarnedAt != nil && now.Sub(*state.LastEarnedAt) < cooldown {
		res := failResult(ErrCooldownActive)
		s.audit(ctx, season.ID, playerID, req, res)
		return res, nil
	}

	// 数量计算
	qty, bonus := s.computeQuantity(req, season, state, ledger.Remaining, now)
	if qty <= 0 {
		res := failResult(fmt.Errorf("%w: 计算数量为0", ErrInvalidRequest))
		s.audit(ctx, season.ID, playerID, req, res)
		return res, nil
	}

	// 选型：指定类型优先；allow_duplicates=false 时只在玩家未持有的类型里轮盘，
	// 全部类型都持有过则回退到完整权重表
	itemType := model.ItemType(req.GuaranteedItemType)
	if itemType == "" {
		weights := season.ItemWeights
		if !req.AllowDuplicates {
			if unowned := excludeOwned(weights, state.FragmentsByItemType); len(unowned) > 0 {
				weights = unowned
			}
		}
		itemType, err = SelectItemType(weights, ledger.DistributionByItemType, season.MaxPieces, s.rng)
		if err != nil {
			return nil, fmt.Errorf("选型失败: %w", err)
		}
	}

	// 提交段：同一玩家串行
	mu := s.locks.lock(playerID)
	mu.Lock()
	defer mu.Unlock()

	reserved, err := s.ledgerRepo.Reserve(ctx, season.ID, source, itemType, qty, sourceLimit)
	if err != nil {
		// 与并发请求竞速失败：按最新余量/配额重算后重试，次数由配置限定
		qty, reserved, err = s.retryReserve(ctx, season.ID, source, itemType, qty, sourceLimit)
		if err != nil {
			res := failResult(err)
			s.audit(ctx, season.ID, playerID, req, res)
			if ReasonOf(err) == ReasonUnavailable {
				return nil, err
			}
			return res, nil
		}
	}

	// 玩家记账：乐观锁冲突时重读重试，超限则归还预扣
	if err := s.creditPlayer(ctx, playerID, season.ID, itemType, qty, source, now); err != nil {
		if relErr := s.ledgerRepo.Release(ctx, season.ID, source, itemType, qty); relErr != nil {
			s.logger.WithError(relErr).WithFields(logrus.Fields{
				"season_id": season.ID,
				"player_id": playerID,
				"quantity":  qty,
			}).Error("预扣归还失败，需人工对账")
		}
		res := failResult(ErrUnavailable)
		s.audit(ctx, season.ID, playerID, req, res)
		return nil, ErrUnavailable
	}

	finalState, err := s.playerRepo.GetState(ctx, playerID, season.ID)
	if err != nil {
		finalState = state
	}

	res := &DropResult{
		Success:         true,
		Quantity:        qty,
		ItemType:        string(itemType),
		RemainingSupply: reserved.Remaining,
		DailyRemaining:  s.dailyRemaining(season, finalState),
		RarityBonus:     bonus,
		Reason:          ReasonOK,
		Message:         fmt.Sprintf("发放 %d 个 %s 碎片", qty, itemType),
	}
	s.audit(ctx, season.ID, playerID, req, res)

	awardAttempts.WithLabelValues(req.Source, ReasonOK).Inc()
	piecesDropped.WithLabelValues(req.Source, string(itemType)).Add(float64(qty))
	s.logger.WithFields(logrus.Fields{
		"player_id": playerID,
		"season_id": season.ID,
		"source":    req.Source,
		"item_type": itemType,
		"quantity":  qty,
		"remaining": reserved.Remaining,
		"bonus":     bonus,
	}).Info("碎片发放成功")
	return res, nil
}

// validateDropRequest 边界校验：目录外的来源/类型一律拒绝
func validateDropRequest(playerID string, req *DropRequest) error {
	if playerID == "" {
		return fmt.Errorf("%w: player_id 必填", ErrInvalidRequest)
	}
	if req == nil {
		return fmt.Errorf("%w: 请求体为空", ErrInvalidRequest)
	}
	if !model.ValidDropSource(req.Source) {
		return fmt.Errorf("%w: 未知来源 %q", ErrInvalidRequest, req.Source)
	}
	if req.BasePieces <= 0 {
		return fmt.Errorf("%w: base_pieces 必须为正", ErrInvalidRequest)
	}
	if req.GuaranteedItemType != "" && !model.ValidItemType(req.GuaranteedItemType) {
		return fmt.Errorf("%w: 未知道具类型 %q", ErrInvalidRequest, req.GuaranteedItemType)
	}
	if req.RarityModifier < 0 || req.PlayerLevelModifier < 0 || req.SeasonProgressModifier < 0 {
		return fmt.Errorf("%w: 修正系数不能为负", ErrInvalidRequest)
	}
	return nil
}

func normalizeModifiers(req *DropRequest) {
	if req.RarityModifier == 0 {
		req.RarityModifier = 1.0
	}
	if req.PlayerLevelModifier == 0 {
		req.PlayerLevelModifier = 1.0
	}
	if req.SeasonProgressModifier == 0 {
		req.SeasonProgressModifier = 1.0
	}
}

// excludeOwned 过滤掉玩家已持有碎片的类型，allow_duplicates=false 时用于优先发新类型
func excludeOwned(weights model.WeightMap, owned model.CountMap) model.WeightMap {
	out := model.WeightMap{}
	for t, w := range weights {
		if owned[t] <= 0 {
			out[t] = w
		}
	}
	return out
}

// computeQuantity 数量计算：
// qty = floor(base × 稀有度 × 等级 × (1 + 进度 × (进度系数-1)))，
// 当日超过递减阈值后乘递减系数，钳制到全局余量；
// 之后掷稀有加成（双倍），加成后再次钳制——加成可能被余量截断
func (s *AwardService) computeQuantity(req *DropRequest, season *model.Season, state *model.PlayerAllocationState, remaining int64, now time.Time) (int64, bool) {
	progress := season.Progress(now)
	raw := float64(req.BasePieces) * req.RarityModifier * req.PlayerLevelModifier *
		(1 + progress*(req.SeasonProgressModifier-1))
	qty := int64(math.Floor(raw))

	if s.cfg.AntiWhale.DiminishAfter > 0 && state.DailyEarned >= int64(s.cfg.AntiWhale.DiminishAfter) {
		qty = int64(math.Floor(float64(qty) * s.cfg.AntiWhale.DiminishFactor))
	}
	if qty > remaining {
		qty = remaining
	}

	bonus := false
	if qty > 0 && s.rng.Float64() < s.cfg.RarityBonusOdds {
		bonus = true
		qty *= 2
		if qty > remaining {
			qty = remaining
		}
	}
	return qty, bonus
}

// retryReserve 预扣竞速失败后的重算重试：每轮按最新余量与来源配额钳制数量再预扣，
// 轮数由 reserve_retries 限定。余量/配额已经为零时不再空转，直接失败
func (s *AwardService) retryReserve(ctx context.Context, seasonID uint64, source model.DropSource, itemType model.ItemType, qty, sourceLimit int64) (int64, *model.GlobalSupplyLedger, error) {
	attempts := s.cfg.ReserveRetries
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		fresh, err := s.ledgerRepo.GetLedgerBySeason(ctx, seasonID)
		if err != nil {
			return 0, nil, classifyStorageErr(err)
		}
		headroom := sourceLimit - fresh.DistributionBySource[string(source)]
		if headroom <= 0 {
			return 0, nil, ErrSourceLimitExceeded
		}
		if fresh.Remaining <= 0 {
			return 0, nil, ErrInsufficientSupply
		}
		if qty > fresh.Remaining {
			qty = fresh.Remaining
		}
		if qty > headroom {
			qty = headroom
		}
		reserved, err := s.ledgerRepo.Reserve(ctx, seasonID, source, itemType, qty, sourceLimit)
		if err == nil {
			return qty, reserved, nil
		}
		if errors.Is(err, repository.ErrInsufficientSupply) || errors.Is(err, repository.ErrSourceLimitExceeded) {
			// 又被并发请求抢先，下一轮按更新后的读数重算
			lastErr = err
			continue
		}
		return 0, nil, classifyStorageErr(err)
	}
	if errors.Is(lastErr, repository.ErrSourceLimitExceeded) {
		return 0, nil, ErrSourceLimitExceeded
	}
	return 0, nil, ErrInsufficientSupply
}

// creditPlayer 把发放记入玩家状态，乐观锁冲突时重读重试
func (s *AwardService) creditPlayer(ctx context.Context, playerID string, seasonID uint64, itemType model.ItemType, qty int64, source model.DropSource, now time.Time) error {
	attempts := s.cfg.VersionConflicts
	if attempts <= 0 {
		attempts = 3
	}
	for i := 0; i < attempts; i++ {
		state, err := s.playerRepo.LoadOrCreateState(ctx, playerID, seasonID, now)
		if err != nil {
			return classifyStorageErr(err)
		}
		state.ApplyDailyResetIfDue(now)
		state.Credit(itemType, qty, source, now)
		err = s.playerRepo.SaveState(ctx, state)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return classifyStorageErr(err)
		}
	}
	return repository.ErrVersionConflict
}

// dailyRemaining 当日剩余额度：取赛季上限与防刷上限中更紧的那个，无上限返回-1
func (s *AwardService) dailyRemaining(season *model.Season, state *model.PlayerAllocationState) int64 {
	var limit int64 = -1
	if season.DailyCapEnabled {
		limit = season.DailyCapAmount
	}
	if s.cfg.AntiWhale.DailyCapPerPlayer > 0 {
		aw := int64(s.cfg.AntiWhale.DailyCapPerPlayer)
		if limit < 0 || aw < limit {
			limit = aw
		}
	}
	if limit < 0 {
		return -1
	}
	left := limit - state.DailyEarned
	if left < 0 {
		left = 0
	}
	return left
}

// failResult 从错误构造失败结果
func failResult(err error) *DropResult {
	return &DropResult{
		Success:        false,
		Reason:         ReasonOf(err),
		Message:        err.Error(),
		DailyRemaining: -1,
	}
}

// audit 追加审计流水。流水是对账依据，写失败只告警不影响主流程
func (s *AwardService) audit(ctx context.Context, seasonID uint64, playerID string, req *DropRequest, res *DropResult) {
	if !res.Success {
		awardAttempts.WithLabelValues(auditSource(req), res.Reason).Inc()
	}
	raw, err := json.Marshal(req)
	if err != nil || raw == nil {
		raw = []byte("{}")
	}
	rec := &model.DropHistory{
		DropUUID:       uuid.NewString(),
		SeasonID:       seasonID,
		PlayerID:       playerID,
		Source:         auditSource(req),
		ItemType:       res.ItemType,
		Quantity:       res.Quantity,
		Success:        res.Success,
		Reason:         res.Reason,
		RarityBonus:    res.RarityBonus,
		RemainingAfter: res.RemainingSupply,
		DailyRemaining: res.DailyRemaining,
		RequestData:    raw,
		CreatedAt:      s.now(),
	}
	if err := s.history.AppendDropHistory(ctx, rec); err != nil {
		s.logger.WithError(err).WithField("player_id", playerID).Warn("审计流水写入失败")
	}
}

func auditSource(req *DropRequest) string {
	if req == nil {
		return ""
	}
	return req.Source
}
