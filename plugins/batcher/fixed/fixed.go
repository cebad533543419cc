package fixed

import (
	"context"
	"errors"

	"luarename/pkg/contract"
)

// Options 为定长 Batcher 的可选配置。
type Options struct {
	// MaxTokens: 单批估算 token 上限（0 表示不限，仅按条数切分）。
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	// BytesPerToken: 估算系数，tokens ≈ ceil(bytes / BytesPerToken)。<=0 时取 4。
	BytesPerToken int `json:"bytes_per_token" yaml:"bytes_per_token"`
	// ExtraBytesPerIdentifier: 每个标识符在 Prompt 中附带上下文的字节估算（默认 104：100 字节上下文 + 分隔）。
	ExtraBytesPerIdentifier int `json:"extra_bytes_per_identifier" yaml:"extra_bytes_per_identifier"`
}

// Batcher 按输入顺序切分为至多 Size 条的批。
type Batcher struct {
	maxTokens     int
	bytesPerToken int
	extraPerID    int
}

// New 创建定长 Batcher。
func New(opts *Options) *Batcher {
	b := &Batcher{bytesPerToken: 4, extraPerID: 104}
	if opts != nil {
		if opts.MaxTokens > 0 {
			b.maxTokens = opts.MaxTokens
		}
		if opts.BytesPerToken > 0 {
			b.bytesPerToken = opts.BytesPerToken
		}
		if opts.ExtraBytesPerIdentifier > 0 {
			b.extraPerID = opts.ExtraBytesPerIdentifier
		}
	}
	return b
}

// Make 切分：不重排、不丢失；BatchIndex 自 0 递增；Offset 为批首全局下标。
// 设置了 MaxTokens 时，批在条数或估算 token 任一触顶时提前截断（至少 1 条）。
func (b *Batcher) Make(ctx context.Context, fileID contract.FileID, ids []contract.Identifier, limit contract.BatchLimit) ([]contract.Batch, error) {
	if limit.Size <= 0 {
		return nil, errors.New("batcher: batch size must be > 0")
	}
	n := len(ids)
	if n == 0 {
		return nil, nil
	}
	var batches []contract.Batch
	var batchIdx int64
	l := 0
	for l < n {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		r := l
		used := 0
		for r < n && r-l < limit.Size {
			t := b.estimateTokens(ids[r].Name)
			if b.maxTokens > 0 && r > l && used+t > b.maxTokens {
				break
			}
			used += t
			r++
		}
		batches = append(batches, contract.Batch{
			FileID:      fileID,
			BatchIndex:  batchIdx,
			Offset:      l,
			Identifiers: ids[l:r:r],
		})
		batchIdx++
		l = r
	}
	return batches, nil
}

// estimateTokens: 近似估算 tokens ≈ ceil((名称字节 + 上下文字节) / bytesPerToken)。
func (b *Batcher) estimateTokens(name string) int {
	bytes := len(name) + b.extraPerID
	d := b.bytesPerToken
	if d <= 0 {
		d = 4
	}
	return (bytes + d - 1) / d
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

var _ contract.Batcher = (*Batcher)(nil)
