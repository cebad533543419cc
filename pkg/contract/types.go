package contract

// FileID: 逻辑文档ID（通常为路径，需规范化，跨平台一致）。
type FileID string

// Meta: 可选的轻量元信息；核心流程不读取其键值。
type Meta map[string]string

// Identifier: 候选标识符（从源码按模式提取）。
// 约束：
// - Name 在单个文档内唯一（同名多处出现合并计数）；
// - Occurrences >= 1。
type Identifier struct {
	Name        string `json:"name"`
	Occurrences int    `json:"occurrences"`
}

// RenameResult: 单个标识符的重命名结果，与输入 Identifier 一一对应。
// Success=false 表示使用了兜底名（无可用的模型建议）。
type RenameResult struct {
	Original string `json:"original"`
	Renamed  string `json:"renamed"`
	Success  bool   `json:"success"`
}

// NameMapping: 原名 → 最终名。
// 不变量：同一次运行内所有值全局唯一。
type NameMapping map[string]string

// Clone 返回独立副本（nil 保持 nil）。
func (m NameMapping) Clone() NameMapping {
	if m == nil {
		return nil
	}
	out := make(NameMapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ScanResult: 扫描产物。Lines 供上下文检索使用（按 \n 切分，去除行尾 \r）。
type ScanResult struct {
	Identifiers []Identifier `json:"identifiers"`
	Lines       []string     `json:"lines"`
}

// Batch: 一次模型请求覆盖的标识符分组。
// Offset 为 Identifiers[0] 在整次运行输入中的全局下标，用于兜底命名 var_<index>。
type Batch struct {
	FileID FileID
	// BatchIndex: 同一运行内的批序（0..n-1，严格递增）。
	BatchIndex  int64
	Offset      int
	Identifiers []Identifier
}

// Names 返回批内标识符名（保持顺序）。
func (b Batch) Names() []string {
	out := make([]string, len(b.Identifiers))
	for i, id := range b.Identifiers {
		out[i] = id.Name
	}
	return out
}
