// Package queue 维护有界的处理单元集合：提交 → 处理 → 完成/失败，满额时淘汰最早结束的单元。
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"luarename/internal/diag"
	"luarename/internal/pipeline"
	"luarename/pkg/contract"
)

// DefaultCapacity: 同时保留的处理单元上限。
const DefaultCapacity = 5

var (
	// ErrQueueFull: 槽位已满且全部处于 pending/processing，无可淘汰单元。
	ErrQueueFull = errors.New("queue: full")
	// ErrNotFound: 指定 ID 不存在（已删除或已被淘汰）。
	ErrNotFound = errors.New("queue: unit not found")
	// ErrNotPending: 仅 pending 单元可以进入处理。
	ErrNotPending = errors.New("queue: unit not pending")
)

// State 处理单元状态。
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateError      State = "error"
)

// Finished 报告状态是否为终态。
func (s State) Finished() bool { return s == StateCompleted || s == StateError }

// Unit: 一个待重命名的脚本及其处理进度。
type Unit struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name"`
	State            State                   `json:"state"`
	VariablesTotal   int                     `json:"variables_total"`
	VariablesRenamed int                     `json:"variables_renamed"`
	Fallbacks        int                     `json:"fallbacks"`
	Error            string                  `json:"error,omitempty"`
	CreatedAt        time.Time               `json:"created_at"`
	StartedAt        *time.Time              `json:"started_at,omitempty"`
	FinishedAt       *time.Time              `json:"finished_at,omitempty"`
	Source           string                  `json:"-"`
	ProcessedCode    string                  `json:"processed_code,omitempty"`
	Results          []contract.RenameResult `json:"results,omitempty"`
}

// Renamer: 队列所需的最小重命名能力（*pipeline.Renamer 满足）。
type Renamer interface {
	RenameFile(ctx context.Context, fileID contract.FileID, ids []contract.Identifier, source string, onProgress pipeline.ProgressFunc) pipeline.Outcome
}

// Queue 并发安全；单元只在队列内部被修改，对外返回副本。
type Queue struct {
	mu      sync.Mutex
	units   map[string]*Unit
	order   []string // 提交顺序
	cap     int
	scanner contract.Scanner
	renamer Renamer
	logger  *diag.Logger
	now     func() time.Time
}

// New 创建队列。capacity<=0 时取 DefaultCapacity。
func New(scanner contract.Scanner, renamer Renamer, capacity int, logger *diag.Logger) (*Queue, error) {
	if scanner == nil || renamer == nil {
		return nil, fmt.Errorf("queue: %w: scanner and renamer required", contract.ErrInvalidInput)
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		units:   make(map[string]*Unit, capacity),
		cap:     capacity,
		scanner: scanner,
		renamer: renamer,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Submit 登记一个 pending 单元。满额时淘汰最早结束的单元；无可淘汰则返回 ErrQueueFull。
func (q *Queue) Submit(name, source string) (Unit, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) >= q.cap {
		if !q.evictLocked() {
			return Unit{}, ErrQueueFull
		}
	}
	u := &Unit{
		ID:        uuid.NewString(),
		Name:      name,
		State:     StatePending,
		Source:    source,
		CreatedAt: q.now(),
	}
	q.units[u.ID] = u
	q.order = append(q.order, u.ID)
	q.logger.DebugStart("queue", "submit", u.ID, "", map[string]string{"name": name})
	return q.copyLocked(u), nil
}

// evictLocked 删除 FinishedAt 最早的终态单元。
func (q *Queue) evictLocked() bool {
	victim := -1
	for i, id := range q.order {
		u := q.units[id]
		if !u.State.Finished() {
			continue
		}
		if victim < 0 || u.FinishedAt.Before(*q.units[q.order[victim]].FinishedAt) {
			victim = i
		}
	}
	if victim < 0 {
		return false
	}
	id := q.order[victim]
	delete(q.units, id)
	q.order = append(q.order[:victim], q.order[victim+1:]...)
	q.logger.DebugStart("queue", "evict", id, "", nil)
	return true
}

// Process 同步处理一个 pending 单元：扫描 → 重命名 → 完成。
// ctx 取消时单元记为 error（已得到的兜底结果仍保留）。
func (q *Queue) Process(ctx context.Context, id string) (Unit, error) {
	q.mu.Lock()
	u, ok := q.units[id]
	if !ok {
		q.mu.Unlock()
		return Unit{}, ErrNotFound
	}
	if u.State != StatePending {
		q.mu.Unlock()
		return Unit{}, ErrNotPending
	}
	started := q.now()
	u.State = StateProcessing
	u.StartedAt = &started
	source := u.Source
	name := u.Name
	q.mu.Unlock()

	tm := q.logger.StartWith("queue", "process", id, "")
	res, err := q.run(ctx, id, name, source)
	tm.Finish("process done", int64(len(res.Results)))

	q.mu.Lock()
	defer q.mu.Unlock()
	u, ok = q.units[id]
	if !ok {
		// 处理期间被删除
		return Unit{}, ErrNotFound
	}
	finished := q.now()
	u.FinishedAt = &finished
	u.ProcessedCode = res.ProcessedCode
	u.Results = res.Results
	u.Fallbacks = res.Fallbacks
	if err != nil {
		u.State = StateError
		u.Error = err.Error()
	} else {
		u.State = StateCompleted
	}
	return q.copyLocked(u), nil
}

func (q *Queue) run(ctx context.Context, id, name, source string) (out pipeline.Outcome, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("queue: panic: %v", rec)
			q.logger.ErrorWithKV("queue", string(diag.CodeUnknown), "process panic", nil, id, "", map[string]string{"panic": fmt.Sprint(rec)})
		}
	}()
	sc := q.scanner.Scan(source)
	q.mu.Lock()
	if u, ok := q.units[id]; ok {
		u.VariablesTotal = len(sc.Identifiers)
	}
	q.mu.Unlock()

	fid := contract.FileID(name)
	if fid == "" {
		fid = contract.FileID(id)
	}
	out = q.renamer.RenameFile(ctx, fid, sc.Identifiers, source, func(current, total int, _ contract.RenameResult) {
		q.mu.Lock()
		if u, ok := q.units[id]; ok {
			u.VariablesRenamed = current
		}
		q.mu.Unlock()
	})
	if cerr := ctx.Err(); cerr != nil {
		return out, fmt.Errorf("queue: %w", cerr)
	}
	return out, nil
}

// Remove 删除单元（任意状态）。
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.units[id]; !ok {
		return ErrNotFound
	}
	delete(q.units, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return nil
}

// Get 返回单元副本。
func (q *Queue) Get(id string) (Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	u, ok := q.units[id]
	if !ok {
		return Unit{}, false
	}
	return q.copyLocked(u), true
}

// List 按提交顺序返回全部单元副本（不含结果明细）。
func (q *Queue) List() []Unit {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Unit, 0, len(q.order))
	for _, id := range q.order {
		c := q.copyLocked(q.units[id])
		c.ProcessedCode = ""
		c.Results = nil
		out = append(out, c)
	}
	return out
}

func (q *Queue) copyLocked(u *Unit) Unit {
	c := *u
	if u.Results != nil {
		c.Results = append([]contract.RenameResult(nil), u.Results...)
	}
	return c
}
