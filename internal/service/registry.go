package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"BlueprintLedger/internal/model"
	"BlueprintLedger/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SeasonRegistry 活跃赛季注册表：带TTL缓存的只读入口。
// 只缓存赛季配置这类慢变数据，台账计数永远不从这里走——
// 拿缓存读数去做扣减是超卖的根源
type SeasonRegistry struct {
	repo   repository.SeasonRepository
	logger *logrus.Logger
	ttl    time.Duration
	now    func() time.Time

	mu        sync.Mutex
	cached    *model.Season
	fetchedAt time.Time
}

// NewSeasonRegistry 创建赛季注册表。ttl 超过60秒会被压回60秒
func NewSeasonRegistry(repo repository.SeasonRepository, logger *logrus.Logger, ttl time.Duration) *SeasonRegistry {
	return NewSeasonRegistryWithClock(repo, logger, ttl, time.Now)
}

// NewSeasonRegistryWithClock 注入时钟（测试用）
func NewSeasonRegistryWithClock(repo repository.SeasonRepository, logger *logrus.Logger, ttl time.Duration, now func() time.Time) *SeasonRegistry {
	if ttl <= 0 || ttl > 60*time.Second {
		ttl = 60 * time.Second
	}
	return &SeasonRegistry{repo: repo, logger: logger, ttl: ttl, now: now}
}

// ActiveSeason 返回当前活跃赛季。缓存命中期内容忍至多 ttl 的配置陈旧；
// 没有活跃赛季返回 ErrNoActiveSeason（所有发放/铸造操作据此快速失败）
func (r *SeasonRegistry) ActiveSeason(ctx context.Context) (*model.Season, error) {
	now := r.now()

	r.mu.Lock()
	if r.cached != nil && now.Sub(r.fetchedAt) < r.ttl && r.cached.InWindow(now) {
		s := *r.cached
		r.mu.Unlock()
		return &s, nil
	}
	r.mu.Unlock()

	fetchCtx, cancel := boundedCtx(ctx, 0)
	defer cancel()
	season, err := r.repo.GetActiveSeason(fetchCtx, now)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveSeason
		}
		return nil, classifyStorageErr(err)
	}

	r.mu.Lock()
	r.cached = season
	r.fetchedAt = now
	r.mu.Unlock()

	s := *season
	return &s, nil
}

// Invalidate 主动失效缓存（创建赛季、结算翻转后调用）
func (r *SeasonRegistry) Invalidate() {
	r.mu.Lock()
	r.cached = nil
	r.mu.Unlock()
}
