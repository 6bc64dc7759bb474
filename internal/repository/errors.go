package repository

import "errors"

// 存储层语义错误。服务层据此映射为对外的错误种类
var (
	// ErrInsufficientSupply 全局余量不足，预扣被拒
	ErrInsufficientSupply = errors.New("全局碎片余量不足")
	// ErrSourceLimitExceeded 来源配额不足，预扣被拒
	ErrSourceLimitExceeded = errors.New("来源发放配额已满")
	// ErrVersionConflict 玩家状态乐观锁版本冲突，调用方可重读后重试
	ErrVersionConflict = errors.New("玩家状态版本冲突")
)
