package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// CountMap 字符串键 -> 整数计数，落库为 jsonb。
// 用于碎片分布、来源分布等计数表；避免 map[string]interface{} 反序列化成 float64
type CountMap map[string]int64

// Value 实现 driver.Valuer
func (m CountMap) Value() (driver.Value, error) {
	if m == nil {
		m = CountMap{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (m *CountMap) Scan(src interface{}) error {
	if src == nil {
		*m = CountMap{}
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("CountMap 不支持的扫描类型 %T", src)
	}
	return json.Unmarshal(b, m)
}

// GormDataType 指定gorm列类型
func (CountMap) GormDataType() string { return "jsonb" }

// Clone 深拷贝（缓存/快照用，避免共享底层map）
func (m CountMap) Clone() CountMap {
	out := make(CountMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Sum 所有计数之和
func (m CountMap) Sum() int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

// WeightMap 字符串键 -> 浮点权重，落库为 jsonb（赛季道具权重表）
type WeightMap map[string]float64

// Value 实现 driver.Valuer
func (m WeightMap) Value() (driver.Value, error) {
	if m == nil {
		m = WeightMap{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan 实现 sql.Scanner
func (m *WeightMap) Scan(src interface{}) error {
	if src == nil {
		*m = WeightMap{}
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("WeightMap 不支持的扫描类型 %T", src)
	}
	return json.Unmarshal(b, m)
}

// GormDataType 指定gorm列类型
func (WeightMap) GormDataType() string { return "jsonb" }

// Clone 深拷贝
func (m WeightMap) Clone() WeightMap {
	out := make(WeightMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
