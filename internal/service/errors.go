package service

import (
	"context"
	"errors"
	"time"

	"BlueprintLedger/internal/repository"
)

// 对外错误种类（DropResult.Reason / API error kind 用的稳定标识）
const (
	ReasonOK                    = "ok"
	ReasonNoActiveSeason        = "no_active_season"
	ReasonInsufficientSupply    = "insufficient_supply"
	ReasonSourceLimitExceeded   = "source_limit_exceeded"
	ReasonDailyCapReached       = "daily_cap_reached"
	ReasonCooldownActive        = "cooldown_active"
	ReasonInsufficientFragments = "insufficient_fragments"
	ReasonInsufficientCatalyst  = "insufficient_catalyst"
	ReasonInvalidRequest        = "invalid_request"
	ReasonUnavailable           = "unavailable"
)

// 服务层哨兵错误，一一对应错误种类
var (
	ErrNoActiveSeason        = errors.New("当前没有活跃赛季")
	ErrInsufficientSupply    = errors.New("全局碎片余量不足")
	ErrSourceLimitExceeded   = errors.New("该来源的发放配额已满")
	ErrDailyCapReached       = errors.New("已达到当日获取上限")
	ErrCooldownActive        = errors.New("发放冷却中")
	ErrInsufficientFragments = errors.New("碎片不足")
	ErrInsufficientCatalyst  = errors.New("催化剂不足")
	ErrInvalidRequest        = errors.New("请求参数不合法")
	ErrUnavailable           = errors.New("存储暂时不可用")
)

// ReasonOf 把错误映射为稳定的种类标识，未识别的归为 unavailable
func ReasonOf(err error) string {
	switch {
	case err == nil:
		return ReasonOK
	case errors.Is(err, ErrNoActiveSeason):
		return ReasonNoActiveSeason
	case errors.Is(err, ErrInsufficientSupply), errors.Is(err, repository.ErrInsufficientSupply):
		return ReasonInsufficientSupply
	case errors.Is(err, ErrSourceLimitExceeded), errors.Is(err, repository.ErrSourceLimitExceeded):
		return ReasonSourceLimitExceeded
	case errors.Is(err, ErrDailyCapReached):
		return ReasonDailyCapReached
	case errors.Is(err, ErrCooldownActive):
		return ReasonCooldownActive
	case errors.Is(err, ErrInsufficientFragments):
		return ReasonInsufficientFragments
	case errors.Is(err, ErrInsufficientCatalyst):
		return ReasonInsufficientCatalyst
	case errors.Is(err, ErrInvalidRequest):
		return ReasonInvalidRequest
	default:
		return ReasonUnavailable
	}
}

// IsClientFault 判断错误是否由请求方造成（API层据此选 4xx/5xx）
func IsClientFault(err error) bool {
	switch ReasonOf(err) {
	case ReasonUnavailable:
		return false
	default:
		return true
	}
}

// boundedCtx 给存储访问加统一的超时上限：gin 的请求上下文不带截止时间，
// 存储卡死时必须由这里兜底，让调用方拿到 unavailable 而不是无限等待
func boundedCtx(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// classifyStorageErr 存储调用的错误归一化：超时/取消归为 ErrUnavailable
func classifyStorageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrUnavailable
	}
	return err
}
