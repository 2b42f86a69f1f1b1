package idgen

import (
	"fmt"
	"sync"
	"time"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 流水号、转账参考号、消息 key 都来自这里：
//   1. 全局唯一
//   2. 趋势递增，便于索引
//
// 【雪花算法结构】64位
//
//   0 - 41位时间戳 - 10位机器ID - 12位序列号
//   |   |            |            |
//   |   |            |            +-- 同一毫秒内的序列号（0-4095）
//   |   |            +-- 机器ID（0-1023）
//   |   +-- 毫秒级时间戳（可用约69年）
//   +-- 符号位，始终为0
//
// ============================================================================

const (
	epoch          = int64(1704067200000) // 起始时间戳（2024-01-01 00:00:00 UTC）
	workerIDBits   = 10                   // 机器ID位数
	sequenceBits   = 12                   // 序列号位数
	maxWorkerID    = -1 ^ (-1 << workerIDBits)
	maxSequence    = -1 ^ (-1 << sequenceBits)
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

// Snowflake 雪花算法ID生成器
type Snowflake struct {
	mu        sync.Mutex
	timestamp int64
	workerID  int64
	sequence  int64
	clock     func() int64 // 毫秒时钟，测试中替换
}

var (
	defaultGenerator *Snowflake
	once             sync.Once
)

// ErrInvalidWorkerID workerID 超出范围
var ErrInvalidWorkerID = fmt.Errorf("workerID 必须在 0-%d 之间", maxWorkerID)

// NewSnowflake 创建独立的生成器
func NewSnowflake(workerID int64) (*Snowflake, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return nil, ErrInvalidWorkerID
	}
	return &Snowflake{workerID: workerID}, nil
}

// Init 初始化默认ID生成器，只有第一次调用生效
func Init(workerID int64) error {
	gen, err := NewSnowflake(workerID)
	if err != nil {
		return err
	}
	once.Do(func() {
		defaultGenerator = gen
	})
	return nil
}

// NextID 生成下一个ID
func NextID() int64 {
	once.Do(func() {
		defaultGenerator, _ = NewSnowflake(1) // 默认使用 workerID = 1
	})
	return defaultGenerator.Generate()
}

// Generate 生成ID，结果严格递增
// 时钟回拨时沿用上一次的毫秒数继续分配序列号，不会产生重复的流水号
func (s *Snowflake) Generate() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now()
	if ms < s.timestamp {
		ms = s.timestamp
	}

	switch {
	case ms > s.timestamp:
		s.sequence = 0
	case s.sequence < maxSequence:
		s.sequence++
	default:
		// 本毫秒序列号用完，借用下一毫秒
		ms = s.timestamp + 1
		s.sequence = 0
	}
	s.timestamp = ms

	return (ms-epoch)<<timestampShift | s.workerID<<workerIDShift | s.sequence
}

func (s *Snowflake) now() int64 {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now().UnixMilli()
}

// 业务编号前缀
const (
	PrefixMovement = "MOV" // 单条流水
	PrefixCharge   = "CHG" // 刷卡消费
	PrefixTransfer = "TRF" // 转账（两条流水共享）
	PrefixRecharge = "RCG" // 充值
)

// GenerateNo 生成业务编号：前缀 + 完整雪花ID
// 例如：MOV178163042463715328
func GenerateNo(prefix string) string {
	return fmt.Sprintf("%s%d", prefix, NextID())
}

// GenerateMovementNo 生成流水号
func GenerateMovementNo() string {
	return GenerateNo(PrefixMovement)
}
