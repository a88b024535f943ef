package capture

import "time"

// Decision 停止策略的判定结果
type Decision int

const (
	Continue Decision = iota
	Found
	TimedOut
)

func (d Decision) String() string {
	switch d {
	case Found:
		return "found"
	case TimedOut:
		return "timed_out"
	default:
		return "continue"
	}
}

// Decide 每批事件处理后判定是否继续
//
// 启用 earlyStop 且已有结果时返回 Found，即使同时已到截止时间；
// 否则到达截止时间返回 TimedOut，不论是否已有结果。
func Decide(size int, elapsed, maxWait time.Duration, earlyStop bool) Decision {
	if earlyStop && size > 0 {
		return Found
	}
	if elapsed >= maxWait {
		return TimedOut
	}
	return Continue
}
