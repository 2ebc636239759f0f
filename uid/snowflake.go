package uid

import (
	"context"
	"net"
	"strconv"
	"sync/atomic"
	"time"
)

type SnowflakeOptions struct {
	// MachineID 机器 id，为空时取本机 IPv4 地址的低 16 位
	MachineID *int64 `cfg:"machineId"`
}

// SnowflakeGenerator 64 位结构：1 位符号位 + 41 位时间戳 + 10 位机器 id + 12 位序列号
// 生成的 id 以十进制字符串保存，按生成时间递增
type SnowflakeGenerator struct {
	state     atomic.Int64 // 高 52 位时间戳，低 12 位序列号
	machineID int64
	epoch     int64
}

const (
	sequenceBits  = 12
	machineIDBits = 10

	maxSequence  = (1 << sequenceBits) - 1
	maxMachineID = (1 << machineIDBits) - 1

	machineIDShift = sequenceBits
	timestampShift = sequenceBits + machineIDBits
)

func NewSnowflakeGeneratorWithOptions(options *SnowflakeOptions) *SnowflakeGenerator {
	var machineID int64
	if options != nil && options.MachineID != nil {
		machineID = *options.MachineID
	} else {
		machineID = machineIDFromIP()
	}

	// 2020-01-01 00:00:00 UTC
	epoch := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	g := &SnowflakeGenerator{
		machineID: machineID & maxMachineID,
		epoch:     epoch,
	}
	g.state.Store((time.Now().UnixMilli() - epoch) << sequenceBits)
	return g
}

func machineIDFromIP() int64 {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return 0
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipv4 := ipnet.IP.To4(); ipv4 != nil {
				return int64(ipv4[2])<<8 | int64(ipv4[3])
			}
		}
	}
	return 0
}

func (g *SnowflakeGenerator) Generate(ctx context.Context) (string, error) {
	return strconv.FormatInt(g.next(), 10), nil
}

func (g *SnowflakeGenerator) next() int64 {
	for {
		oldState := g.state.Load()
		oldTimestamp := oldState >> sequenceBits
		oldSequence := oldState & maxSequence

		currentTimestamp := time.Now().UnixMilli() - g.epoch

		var newTimestamp, newSequence int64
		if currentTimestamp <= oldTimestamp {
			// 同一毫秒或时钟回拨，沿用旧时间戳递增序列号
			newSequence = (oldSequence + 1) & maxSequence
			newTimestamp = oldTimestamp
			if newSequence == 0 {
				for currentTimestamp <= oldTimestamp {
					currentTimestamp = time.Now().UnixMilli() - g.epoch
				}
				newTimestamp = currentTimestamp
			}
		} else {
			newTimestamp = currentTimestamp
		}

		if g.state.CompareAndSwap(oldState, (newTimestamp<<sequenceBits)|newSequence) {
			return (newTimestamp << timestampShift) | (g.machineID << machineIDShift) | newSequence
		}
	}
}
