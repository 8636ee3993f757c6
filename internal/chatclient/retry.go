package chatclient

import "time"

// RetryPolicy 控制未确认消息的自动重发。
// 第 n 次重发前等待 Initial * 2^(n-1)，上限为 Max；共发送 MaxAttempts 次仍未确认则标记为 failed。
type RetryPolicy struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultRetryPolicy 返回默认的重发策略。
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Initial: 2 * time.Second, Max: 30 * time.Second, MaxAttempts: 4}
}

// Delay 返回第 attempt 次发送之后的等待时间，attempt 从 1 开始。
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.Initial
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.Max > 0 && d >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Timer 是可取消的定时器，*time.Timer 满足该接口。
type Timer interface {
	Stop() bool
}

// Clock 提供当前时间和定时回调，测试中可替换。
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock 返回基于 time 包的时钟。
func SystemClock() Clock { return systemClock{} }
