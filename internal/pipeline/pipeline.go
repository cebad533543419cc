package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"luarename/internal/diag"
	"luarename/internal/prompt"
	"luarename/internal/rate"
	"luarename/pkg/contract"
)

// - 文件串行：Reader 逐文件回调；单文件内的并发只发生在 Renamer 的批次层。
// - 首错返回：读取/写出等 I/O 错误终止整个运行；模型侧失败只降级为兜底名。
// - 产物：<id> 为改写后的源码，<id>.jsonl 为逐标识符的 RenameResult 边车。

// Components 聚合运行所需的原子组件。Stripper 可选。
type Components struct {
	Reader        contract.Reader
	Scanner       contract.Scanner
	Stripper      contract.CommentStripper
	Batcher       contract.Batcher
	PromptBuilder contract.PromptBuilder
	LLM           contract.LLMClient
	Decoder       contract.Decoder
	Rewriter      contract.Rewriter
	Writer        contract.Writer
}

// Settings 运行期配置。
type Settings struct {
	Inputs []string
	// BatchSize: 每批标识符数，默认 20。
	BatchSize int
	// Concurrency: 同时在途的批次数；1 为严格串行。
	Concurrency int
	// MaxTokens/BytesPerToken: 单请求 token 预算；<=0 关闭预算检查。
	MaxTokens     int
	BytesPerToken int
	// MaxRetries: 网络/限流错误的最大重试次数（>=0）。
	MaxRetries int
	// BatchTimeout/SingleTimeout: 单次调用超时，默认 15s/20s。
	BatchTimeout  time.Duration
	SingleTimeout time.Duration
	RetryBackoff  time.Duration
	// 限流闸门（可选）：若非空，则在调用 LLM 前调用 Gate.Wait
	Gate    rate.Gate
	GateKey rate.LimitKey
	// SkipSidecar: 不写 <id>.jsonl。
	SkipSidecar bool
}

// sidecarRow: JSONL 边车的一行。
type sidecarRow struct {
	FileID   string `json:"file_id"`
	Original string `json:"original"`
	Renamed  string `json:"renamed"`
	Success  bool   `json:"success"`
}

// Run 执行完整流水线：Reader → Scanner → Renamer(Prompt → Gate → LLM → Decoder) → Rewriter → Writer。
func Run(ctx context.Context, comp Components, set Settings, logger *diag.Logger) error {
	if err := sanity(comp, set); err != nil {
		return fmt.Errorf("sanity: %w", err)
	}
	if logger == nil {
		logger = diag.Nop()
	}
	// 预估固定提示词开销；预算被开销吃光时直接失败
	if set.MaxTokens > 0 {
		eff, _ := prompt.EffectiveMaxTokens(comp.PromptBuilder, set.BytesPerToken, set.MaxTokens)
		if eff <= 0 {
			return fmt.Errorf("%w: effective token budget <= 0 after overhead", contract.ErrBudgetExceeded)
		}
	}
	rn, err := NewRenamer(comp, set, logger)
	if err != nil {
		return fmt.Errorf("sanity: %w", err)
	}

	rtimer := logger.Start("reader", "iterate")
	files := 0
	err = comp.Reader.Iterate(ctx, set.Inputs, func(fid contract.FileID, rc io.ReadCloser) error {
		defer rc.Close()
		if err := ctx.Err(); err != nil {
			return err
		}
		files++
		return processFile(ctx, comp, set, rn, logger, fid, rc)
	})
	if err != nil {
		code := diag.Classify(err)
		logger.Error("reader", string(code), "iterate failed", nil)
		diag.IncOp("reader", "error", "error")
		if code != diag.CodeUnknown {
			diag.IncError("reader", string(code))
		}
		return fmt.Errorf("reader iterate: %w", err)
	}
	rtimer.Finish("iterate", int64(files))
	diag.IncOp("reader", "finish", "success")
	return nil
}

func processFile(ctx context.Context, comp Components, set Settings, rn *Renamer, logger *diag.Logger, fid contract.FileID, rc io.Reader) error {
	b, err := io.ReadAll(rc)
	if err != nil {
		rn.fail("reader", err, string(fid), "")
		return fmt.Errorf("read %s: %w", fid, err)
	}
	source := string(b)

	stimer := logger.StartWith("scanner", "scan", string(fid), "")
	scan := comp.Scanner.Scan(source)
	stimer.Finish("scan", int64(len(scan.Identifiers)))
	diag.IncOp("scanner", "finish", "success")

	// 终端提示：文件开始（即使 total=0 也要发）
	term := diag.GetTerminal()
	term.FileStart(string(fid), len(scan.Identifiers))
	fileStart := time.Now()
	ok := false
	fallbacks := 0
	defer func() { term.FileFinish(ok, fallbacks, time.Since(fileStart)) }()

	out := rn.RenameFile(ctx, fid, scan.Identifiers, source, func(cur, total int, latest contract.RenameResult) {
		term.Progress(cur, total, latest.Renamed)
	})
	fallbacks = out.Fallbacks

	wtimer := logger.StartWith("writer", "write", string(fid), "")
	if err := comp.Writer.Write(ctx, contract.ArtifactID(fid), strings.NewReader(out.ProcessedCode)); err != nil {
		rn.fail("writer", err, string(fid), "")
		return fmt.Errorf("writer write: %w", err)
	}
	if !set.SkipSidecar {
		if err := writeSidecar(ctx, comp.Writer, fid, out.Results); err != nil {
			rn.fail("writer", err, string(fid), "")
			return fmt.Errorf("writer write(jsonl): %w", err)
		}
	}
	wtimer.Finish("write", int64(len(out.Results)))
	diag.IncOp("writer", "finish", "success")
	ok = true
	return nil
}

// writeSidecar 通过管道流式写出 <id>.jsonl。
func writeSidecar(ctx context.Context, w contract.Writer, fid contract.FileID, results []contract.RenameResult) error {
	pr, pw := io.Pipe()
	go func() {
		enc := json.NewEncoder(pw)
		enc.SetEscapeHTML(false)
		for _, r := range results {
			if err := enc.Encode(sidecarRow{FileID: string(fid), Original: r.Original, Renamed: r.Renamed, Success: r.Success}); err != nil {
				_ = pw.CloseWithError(err)
				return
			}
		}
		_ = pw.Close()
	}()
	err := w.Write(ctx, contract.ArtifactID(string(fid)+".jsonl"), pr)
	// Writer 提前返回时解除编码协程阻塞
	_ = pr.CloseWithError(io.ErrClosedPipe)
	return err
}

func sanity(c Components, s Settings) error {
	if c.Reader == nil || c.Scanner == nil || c.Writer == nil {
		return errors.New("pipeline: missing components")
	}
	if len(s.Inputs) == 0 {
		return errors.New("pipeline: empty inputs")
	}
	return nil
}
