package service

import (
	"fmt"
	"sort"

	"BlueprintLedger/internal/model"
)

// 供给偏差对权重的调节系数：份额超标的类型被压低，供给不足的被抬高。
// 这是一个负反馈控制器，长期把各类型的实际分布拉回均匀目标
const (
	overSuppliedHardRatio  = 1.2
	overSuppliedSoftRatio  = 1.0
	underSuppliedHardRatio = 0.6
	underSuppliedSoftRatio = 0.8

	overSuppliedHardFactor  = 0.5
	overSuppliedSoftFactor  = 0.8
	underSuppliedHardFactor = 1.5
	underSuppliedSoftFactor = 1.2
)

// adjustmentFactor 按"当前份额 / 均匀目标份额"的比值给出调节系数
func adjustmentFactor(ratio float64) float64 {
	switch {
	case ratio > overSuppliedHardRatio:
		return overSuppliedHardFactor
	case ratio > overSuppliedSoftRatio:
		return overSuppliedSoftFactor
	case ratio < underSuppliedHardRatio:
		return underSuppliedHardFactor
	case ratio < underSuppliedSoftRatio:
		return underSuppliedSoftFactor
	default:
		return 1.0
	}
}

// SelectItemType 纯函数：按基础权重与当前分布选出本次发放的道具类型。
// 均匀目标 = maxPieces / 类型数；每个类型的有效权重 = 基础权重 × 调节系数，
// 再按累积权重轮盘对一次均匀随机抽样。
// 类型按字典序遍历，固定随机源下结果完全确定
func SelectItemType(weights model.WeightMap, distribution model.CountMap, maxPieces int64, rng RandomSource) (model.ItemType, error) {
	if len(weights) == 0 {
		return "", fmt.Errorf("权重表为空，无法选型")
	}

	types := make([]string, 0, len(weights))
	for t := range weights {
		types = append(types, t)
	}
	sort.Strings(types)

	target := float64(maxPieces) / float64(len(types))

	effective := make([]float64, len(types))
	var total float64
	for i, t := range types {
		factor := 1.0
		if target > 0 {
			ratio := float64(distribution[t]) / target
			factor = adjustmentFactor(ratio)
		}
		w := weights[t] * factor
		if w < 0 {
			w = 0
		}
		effective[i] = w
		total += w
	}
	if total <= 0 {
		return "", fmt.Errorf("有效权重总和为0，无法选型")
	}

	draw := rng.Float64() * total
	var cum float64
	for i, t := range types {
		cum += effective[i]
		if draw < cum {
			return model.ItemType(t), nil
		}
	}
	// 浮点累加误差兜底：落到最后一个类型
	return model.ItemType(types[len(types)-1]), nil
}
