package contract

// Rewriter: 将最终 NameMapping 应用到源码。
// 约束：
//  1. 按原名长度降序匹配（长名优先，避免 v1 破坏 v10）；
//  2. 仅整词替换（两侧为非标识符字符或边界）；
//  3. 纯函数：同输入同输出，不修改入参；
//  4. 空映射返回原文。
type Rewriter interface {
	Apply(source string, m NameMapping) string
}

// Decoder: 从不可信的自由文本中恢复 NameMapping。
// 解析失败或空文本返回 (nil, false)；不得 panic。
type Decoder interface {
	Decode(raw Raw) (NameMapping, bool)
}
