package contract

import "context"

// BatchLimit: 最小必要限制集合。
type BatchLimit struct {
	// Size: 每批最多标识符数。必须为正数。
	Size int
}

// Batcher: 将有序 Identifier 切分为若干 Batch。
// 约束：
//  1. 不重排、不丢失；
//  2. 每批不超过 limit.Size；
//  3. BatchIndex 自 0 单调递增，Offset 为批首元素的全局下标。
type Batcher interface {
	Make(ctx context.Context, fileID FileID, ids []Identifier, limit BatchLimit) ([]Batch, error)
}
