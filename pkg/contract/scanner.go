package contract

// Scanner: 从原始源码提取候选标识符与行视图。
// 约束：
// 1) 在未去注释的原文上扫描；
// 2) 同一输入输出完全一致（不依赖 map 遍历顺序）；
// 3) 按名称内嵌的数字后缀升序（无数字后缀视为 0），并列时保持首次出现顺序；
// 4) 纯计算、无内部并发。
type Scanner interface {
	Scan(source string) ScanResult
}

// CommentStripper: 去除行注释与块注释。尽力而为的词法处理，不保证识别字符串字面量。
type CommentStripper interface {
	Strip(source string) string
}
