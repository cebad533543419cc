package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"luarename/internal/diag"
	"luarename/internal/prompt"
	"luarename/internal/rate"
	"luarename/pkg/contract"
)

// - 默认串行：逐批构造提示词 → 限流 → 调用 → 解析 → 定名，再进入下一批。
// - 并行模式：errgroup 限并发；唯一性由共享 registry 保证，avoid 列表仅作提示。
// - 容错：任一批调用失败、超时、解析失败或 panic，都按空映射处理，整批走兜底名。
// - 改写只在全部批次结束后对全文执行一次。

const (
	DefaultBatchSize     = 20
	DefaultBatchTimeout  = 15 * time.Second
	DefaultSingleTimeout = 20 * time.Second
	defaultRetryBackoff  = 200 * time.Millisecond
)

// ProgressFunc: 每定名一个标识符同步回调一次；current 从 1 计数。
type ProgressFunc func(current, total int, latest contract.RenameResult)

// Outcome: 一次重命名的产物。Results 与输入一一对应、保持顺序。
type Outcome struct {
	Results       []contract.RenameResult
	ProcessedCode string
	Mapping       contract.NameMapping
	Fallbacks     int
}

// Renamer 持有解析链路所需组件；自身无跨调用状态，可并发复用。
type Renamer struct {
	stripper contract.CommentStripper
	batcher  contract.Batcher
	pb       contract.PromptBuilder
	llm      contract.LLMClient
	decoder  contract.Decoder
	rewriter contract.Rewriter
	set      Settings
	logger   *diag.Logger
}

// NewRenamer 校验组件并补齐默认设置。Stripper 可为空。
func NewRenamer(comp Components, set Settings, logger *diag.Logger) (*Renamer, error) {
	if comp.Batcher == nil || comp.PromptBuilder == nil || comp.LLM == nil || comp.Decoder == nil || comp.Rewriter == nil {
		return nil, errors.New("pipeline: missing renamer components")
	}
	if set.BatchSize <= 0 {
		set.BatchSize = DefaultBatchSize
	}
	if set.Concurrency < 1 {
		set.Concurrency = 1
	}
	if set.MaxRetries < 0 {
		set.MaxRetries = 0
	}
	if set.BatchTimeout <= 0 {
		set.BatchTimeout = DefaultBatchTimeout
	}
	if set.SingleTimeout <= 0 {
		set.SingleTimeout = DefaultSingleTimeout
	}
	if set.RetryBackoff <= 0 {
		set.RetryBackoff = defaultRetryBackoff
	}
	if logger == nil {
		logger = diag.Nop()
	}
	return &Renamer{
		stripper: comp.Stripper,
		batcher:  comp.Batcher,
		pb:       comp.PromptBuilder,
		llm:      comp.LLM,
		decoder:  comp.Decoder,
		rewriter: comp.Rewriter,
		set:      set,
		logger:   logger,
	}, nil
}

// RenameAll 为全部标识符定名并改写源码。从不返回错误。
func (r *Renamer) RenameAll(ctx context.Context, ids []contract.Identifier, source string, onProgress ProgressFunc) Outcome {
	return r.RenameFile(ctx, "", ids, source, onProgress)
}

// RenameFile 同 RenameAll，fileID 仅用于日志关联。
func (r *Renamer) RenameFile(ctx context.Context, fileID contract.FileID, ids []contract.Identifier, source string, onProgress ProgressFunc) Outcome {
	out := Outcome{Results: []contract.RenameResult{}, ProcessedCode: source, Mapping: contract.NameMapping{}}
	if len(ids) == 0 {
		return out
	}
	fid := string(fileID)
	t0 := r.logger.StartWithKV("renamer", "rename_all", fid, "", map[string]string{
		"identifiers": strconv.Itoa(len(ids)),
		"concurrency": strconv.Itoa(r.set.Concurrency),
	})

	batches, err := r.batcher.Make(ctx, fileID, ids, contract.BatchLimit{Size: r.set.BatchSize})
	if err != nil {
		r.fail("batcher", err, fid, "")
		batches = chunk(fileID, ids, r.set.BatchSize)
	}

	// 上下文取自去注释文本，注释行不作为提示
	ctxSource := source
	if r.stripper != nil {
		ctxSource = r.stripper.Strip(source)
	}

	reg := newRegistry()
	results := make([]contract.RenameResult, len(ids))
	var (
		mu        sync.Mutex // 串行化定名与进度回调
		done      int
		fallbacks int
	)
	assign := func(b contract.Batch, m contract.NameMapping) {
		mu.Lock()
		defer mu.Unlock()
		for i, id := range b.Identifiers {
			gi := b.Offset + i
			res := contract.RenameResult{Original: id.Name}
			if proposed, ok := contract.UsableName(m[id.Name]); ok {
				res.Renamed = reg.claim(id.Name, proposed, "")
				res.Success = true
			} else {
				res.Renamed = reg.claim(id.Name, fallbackName(gi), "_")
				fallbacks++
			}
			if gi >= 0 && gi < len(results) {
				results[gi] = res
			}
			done++
			if onProgress != nil {
				onProgress(done, len(ids), res)
			}
		}
	}

	if r.set.Concurrency <= 1 || len(batches) <= 1 {
		for _, b := range batches {
			m := r.resolve(ctx, b, ctxSource, reg.avoid())
			assign(b, m)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.set.Concurrency)
		for _, b := range batches {
			b := b
			g.Go(func() error {
				assign(b, r.resolve(gctx, b, ctxSource, reg.avoid()))
				return nil
			})
		}
		_ = g.Wait()
	}

	out.Results = results
	out.Mapping = reg.snapshot()
	out.Fallbacks = fallbacks
	out.ProcessedCode = r.rewriter.Apply(source, out.Mapping)

	diag.IncIdentifiers("model", len(ids)-fallbacks)
	diag.IncIdentifiers("fallback", fallbacks)
	t0.Finish("rename_all", int64(len(ids)))
	diag.IncOp("renamer", "finish", "success")
	return out
}

// SuggestOne 单发请求一个标识符的新名（不保证全局唯一，由调用方登记）。
func (r *Renamer) SuggestOne(ctx context.Context, id contract.Identifier, source string, avoid []string) (name string, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorWithKV("renamer", string(diag.CodeUnknown), "suggest panic", nil, "", "", map[string]string{"panic": fmt.Sprint(rec)})
			name, ok = "", false
		}
	}()
	if r.stripper != nil {
		source = r.stripper.Strip(source)
	}
	p, err := r.pb.BuildSingle(id, source, avoid)
	if err != nil {
		r.fail("prompt_builder", err, "", "single")
		return "", false
	}
	b := contract.Batch{Identifiers: []contract.Identifier{id}}
	raw, err := r.invoke(ctx, b, p, r.set.SingleTimeout, "single")
	if err != nil {
		return "", false
	}
	m, decoded := r.decoder.Decode(raw)
	if !decoded {
		r.fail("decoder", contract.ErrResponseInvalid, "", "single")
		return "", false
	}
	return contract.UsableName(m[id.Name])
}

// resolve 完成一批的 提示词 → 调用 → 解析；任何失败返回 nil 映射。
func (r *Renamer) resolve(ctx context.Context, b contract.Batch, source string, avoid []string) (m contract.NameMapping) {
	fid := string(b.FileID)
	bid := strconv.FormatInt(b.BatchIndex, 10)
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorWithKV("renamer", string(diag.CodeUnknown), "batch panic", nil, fid, bid, map[string]string{"panic": fmt.Sprint(rec)})
			diag.IncOp("renamer", "error", "error")
			m = nil
		}
	}()

	pbt := r.logger.StartWith("prompt_builder", "build", fid, bid)
	p, err := r.pb.Build(b.Identifiers, source, avoid)
	if err != nil {
		r.fail("prompt_builder", err, fid, bid)
		return nil
	}
	pbt.Finish("build", int64(len(b.Identifiers)))
	diag.IncOp("prompt_builder", "finish", "success")

	raw, err := r.invoke(ctx, b, p, r.set.BatchTimeout, bid)
	if err != nil {
		return nil
	}

	dct := r.logger.StartWith("decoder", "decode", fid, bid)
	m, ok := r.decoder.Decode(raw)
	if !ok {
		r.fail("decoder", contract.ErrResponseInvalid, fid, bid)
		return nil
	}
	dct.Finish("decode", int64(len(m)))
	diag.IncOp("decoder", "finish", "success")
	return m
}

// invoke: 限流 + 带超时的单次调用；仅网络/限流类错误按 MaxRetries 重试。
func (r *Renamer) invoke(ctx context.Context, b contract.Batch, p contract.Prompt, timeout time.Duration, bid string) (contract.Raw, error) {
	fid := string(b.FileID)
	tokens := prompt.EstimatePrompt(p, r.set.BytesPerToken)
	attempts := r.set.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if r.set.Gate != nil {
			r.logger.DebugStart("gate", "ask", fid, bid, map[string]string{
				"tokens":  strconv.Itoa(tokens),
				"attempt": strconv.Itoa(attempt + 1),
			})
			if err := r.set.Gate.Wait(ctx, rate.Ask{Key: r.set.GateKey, Requests: 1, Tokens: tokens}); err != nil {
				r.fail("gate", err, fid, bid)
				return contract.Raw{}, err
			}
		}

		lt := r.logger.StartWithKV("llm_client", "invoke", fid, bid, map[string]string{
			"tokens":  strconv.Itoa(tokens),
			"attempt": strconv.Itoa(attempt + 1),
		})
		cctx, cancel := context.WithTimeout(ctx, timeout)
		raw, err := r.llm.Invoke(cctx, b, p)
		cancel()
		if err == nil {
			lt.Finish("invoke", int64(tokens))
			diag.IncOp("llm_client", "finish", "success")
			return raw, nil
		}
		lastErr = err
		r.fail("llm_client", err, fid, bid)
		if attempt+1 < attempts && shouldRetryInvoke(ctx, err) {
			if sleepWithCtx(ctx, r.set.RetryBackoff) != nil {
				break
			}
			continue
		}
		break
	}
	return contract.Raw{}, lastErr
}

// fail 记录错误事件并累加指标；上游 HTTP 错误附带状态码与消息片段。
func (r *Renamer) fail(comp string, err error, fileID, batch string) {
	code := diag.Classify(err)
	var kv map[string]string
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		kv = map[string]string{"http_status": strconv.Itoa(ue.UpstreamStatus())}
		if m := strings.TrimSpace(ue.UpstreamMessage()); m != "" {
			if len(m) > 200 {
				m = m[:200]
			}
			kv["upstream_msg"] = m
		}
	}
	r.logger.ErrorWithKV(comp, string(code), err.Error(), nil, fileID, batch, kv)
	diag.IncOp(comp, "error", "error")
	if code != diag.CodeUnknown {
		diag.IncError(comp, string(code))
	}
}

// shouldRetryInvoke: 限流与网络类错误可重试；外层已取消时不再重试。
// 单次调用超时会被归为 cancel，这里按网络错误对待。
func shouldRetryInvoke(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	switch diag.Classify(err) {
	case diag.CodeBudget, diag.CodeNetwork:
		return true
	case diag.CodeCancel:
		return errors.Is(err, context.DeadlineExceeded)
	default:
		return false
	}
}

// chunk: Batcher 失败时的本地定长切分。
func chunk(fileID contract.FileID, ids []contract.Identifier, size int) []contract.Batch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	var out []contract.Batch
	for off := 0; off < len(ids); off += size {
		end := off + size
		if end > len(ids) {
			end = len(ids)
		}
		out = append(out, contract.Batch{FileID: fileID, BatchIndex: int64(len(out)), Offset: off, Identifiers: ids[off:end]})
	}
	return out
}

// sleepWithCtx: 可取消的 sleep。
func sleepWithCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
