package contract

import (
	"context"
	"io"
)

// Reader 枚举待重命名的脚本源：单文件、目录递归（按扩展名过滤）或 "-" 表示 STDIN。
// 每个文件回调一次，顺序确定；rc 由回调方关闭。yield 返回错误即终止遍历。
type Reader interface {
	Iterate(ctx context.Context, roots []string, yield func(fileID FileID, rc io.ReadCloser) error) error
}
