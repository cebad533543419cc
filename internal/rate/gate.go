package rate

import (
	"context"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"luarename/pkg/contract"
)

// LimitKey: 限流分组键（client + key 摘要）。
type LimitKey string

// Limits: 每分组的限额配置。0 表示该维度不启用。
type Limits struct {
	RPM             int // requests per minute
	TPM             int // tokens per minute
	MaxTokensPerReq int // 单次请求 token 上限，0 表示不限制
}

// Ask: 一次放行申请。
type Ask struct {
	Key      LimitKey
	Requests int // 必须 >=1
	Tokens   int // 预计 token（>=0）
}

// Gate: 限流闸门（并发安全）。
type Gate interface {
	// Wait: 阻塞直到额度可用或 ctx 取消；违反单请求上限时快速失败。
	Wait(ctx context.Context, a Ask) error
	// Try: 非阻塞尝试；不足时返回 false 且不消耗额度。
	Try(a Ask) bool
}

// Snapshoter: 可选诊断接口。
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, tpmAvail int)
}

// NewGate: 从静态配置构造闸门；clk 为空则使用 time.Now。
// 每个维度是一个容量为每分钟额度、按秒匀速回填的令牌桶。
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	for k, lim := range m {
		g.m[k] = newEntry(lim, clk())
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	lim Limits
	req *xrate.Limiter // nil 表示该维度关闭
	tok *xrate.Limiter
}

func newEntry(lim Limits, now time.Time) *entry {
	e := &entry{lim: lim}
	if lim.RPM > 0 {
		e.req = newLimiter(lim.RPM, now)
	}
	if lim.TPM > 0 {
		e.tok = newLimiter(lim.TPM, now)
	}
	return e
}

func newLimiter(perMinute int, now time.Time) *xrate.Limiter {
	l := xrate.NewLimiter(xrate.Limit(float64(perMinute)/60.0), perMinute)
	// 以注入时钟为起点，保证桶初始满额
	l.SetBurstAt(now, perMinute)
	return l
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// 未配置的 key 视为不限额
		e = newEntry(Limits{}, g.clk())
		g.m[key] = e
	}
	return e
}

// reserve 同时向两个维度预约；超过桶容量的申请按容量截断（等满一个窗口）。
func reserve(l *xrate.Limiter, now time.Time, n int) *xrate.Reservation {
	if l == nil || n <= 0 {
		return nil
	}
	if b := l.Burst(); n > b {
		n = b
	}
	return l.ReserveN(now, n)
}

func delayOf(r *xrate.Reservation, now time.Time) time.Duration {
	if r == nil {
		return 0
	}
	if !r.OK() {
		return xrate.InfDuration
	}
	return r.DelayFrom(now)
}

func cancelAt(now time.Time, rs ...*xrate.Reservation) {
	for _, r := range rs {
		if r != nil {
			r.CancelAt(now)
		}
	}
}

func (g *gate) check(a Ask) (*entry, bool) {
	if a.Requests <= 0 || a.Tokens < 0 {
		return nil, false
	}
	e := g.get(a.Key)
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return nil, false
	}
	return e, true
}

func (g *gate) Try(a Ask) bool {
	e, ok := g.check(a)
	if !ok {
		return false
	}
	now := g.clk()
	rr := reserve(e.req, now, a.Requests)
	rt := reserve(e.tok, now, a.Tokens)
	if delayOf(rr, now) > 0 || delayOf(rt, now) > 0 {
		cancelAt(now, rr, rt)
		return false
	}
	return true
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e, ok := g.check(a)
	if !ok {
		return contract.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := g.clk()
	rr := reserve(e.req, now, a.Requests)
	rt := reserve(e.tok, now, a.Tokens)
	d := delayOf(rr, now)
	if dt := delayOf(rt, now); dt > d {
		d = dt
	}
	if d == xrate.InfDuration {
		cancelAt(now, rr, rt)
		return contract.ErrBudgetExceeded
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		cancelAt(g.clk(), rr, rt)
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot: 返回当前可用请求/令牌的向下取整估值（仅诊断）。
func (g *gate) Snapshot(key LimitKey) (rpmAvail, tpmAvail int) {
	e := g.get(key)
	now := g.clk()
	avail := func(l *xrate.Limiter) int {
		if l == nil {
			return 0
		}
		v := l.TokensAt(now)
		if v < 0 {
			return 0
		}
		return int(v)
	}
	return avail(e.req), avail(e.tok)
}

var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
