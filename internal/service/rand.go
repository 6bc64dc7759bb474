package service

import (
	"math/rand"
	"sync"
	"time"
)

// RandomSource 随机源抽象：选型轮盘和稀有加成都只消费 [0,1) 均匀分布。
// 测试注入固定种子即可让选择过程完全确定
type RandomSource interface {
	Float64() float64
}

// lockedRand math/rand 的并发安全包装（发放引擎会被多goroutine调用）
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewSeededRand 指定种子的随机源（测试用）
func NewSeededRand(seed int64) RandomSource {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// DefaultRand 以当前时间为种子的随机源
func DefaultRand() RandomSource {
	return &lockedRand{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Float64()
}
