// Package idgen 提供业务 ID（雪花算法）与事件 ID（UUID）生成
package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// Generator 业务 ID 生成器
type Generator interface {
	Next(prefix string) string
}

// SnowflakeGenerator 雪花算法实现，ID 形如 LAP-1790000000000000000
type SnowflakeGenerator struct {
	node *snowflake.Node
}

// NewSnowflake 创建雪花生成器，nodeID 取值 0-1023
func NewSnowflake(nodeID int64) (*SnowflakeGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeGenerator{node: node}, nil
}

// Next 生成带前缀的 ID
func (g *SnowflakeGenerator) Next(prefix string) string {
	return prefix + "-" + g.node.Generate().String()
}

var (
	defaultOnce sync.Once
	defaultGen  *SnowflakeGenerator
)

// Default 返回节点 0 的全局生成器
func Default() *SnowflakeGenerator {
	defaultOnce.Do(func() {
		defaultGen, _ = NewSnowflake(0)
	})
	return defaultGen
}

// EventID 生成事件 ID
func EventID() string {
	return uuid.NewString()
}
