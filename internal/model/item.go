package model

// ItemType 道具类型枚举（碎片按类型累积，铸造也按类型进行）
type ItemType string

const (
	ItemWeapon    ItemType = "weapon"
	ItemArmor     ItemType = "armor"
	ItemAccessory ItemType = "accessory"
	ItemCompanion ItemType = "companion"
	ItemEmblem    ItemType = "emblem"
)

// DropSource 碎片来源枚举（触发发放的玩法）
type DropSource string

const (
	SourceQuestRewards     DropSource = "quest_rewards"
	SourceTrainingSessions DropSource = "training_sessions"
	SourceBattleVictories  DropSource = "battle_victories"
	SourcePackOpenings     DropSource = "pack_openings"
	SourceLiveEvents       DropSource = "live_events"
)

// MintTier 铸造档位
type MintTier string

const (
	TierCommon    MintTier = "common"
	TierLegendary MintTier = "legendary"
)

// MintCost 各档位铸造成本
type MintCost struct {
	Pieces    int64 // 所需碎片数
	Catalysts int64 // 所需催化剂数
}

// TierCosts 档位 -> 成本。common 纯碎片，legendary 额外消耗1个催化剂
var TierCosts = map[MintTier]MintCost{
	TierCommon:    {Pieces: 10, Catalysts: 0},
	TierLegendary: {Pieces: 100, Catalysts: 1},
}

// KnownItemTypes 当前道具目录。发放与铸造入口都会按此校验，
// 未知类型一律拒绝（字符串键的奖励表不允许开放式扩展）。
func KnownItemTypes() []ItemType {
	return []ItemType{ItemWeapon, ItemArmor, ItemAccessory, ItemCompanion, ItemEmblem}
}

// KnownDropSources 当前来源目录
func KnownDropSources() []DropSource {
	return []DropSource{
		SourceQuestRewards,
		SourceTrainingSessions,
		SourceBattleVictories,
		SourcePackOpenings,
		SourceLiveEvents,
	}
}

// ValidItemType 校验道具类型是否在目录内
func ValidItemType(s string) bool {
	for _, t := range KnownItemTypes() {
		if string(t) == s {
			return true
		}
	}
	return false
}

// ValidDropSource 校验来源是否在目录内
func ValidDropSource(s string) bool {
	for _, src := range KnownDropSources() {
		if string(src) == s {
			return true
		}
	}
	return false
}

// ValidMintTier 校验铸造档位
func ValidMintTier(s string) bool {
	_, ok := TierCosts[MintTier(s)]
	return ok
}
