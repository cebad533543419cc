package contract

import "strings"

// luaKeywords: Lua 5.1–5.4 保留字。替换名不得落入该集合。
var luaKeywords = map[string]struct{}{
	"and": {}, "break": {}, "do": {}, "else": {}, "elseif": {}, "end": {},
	"false": {}, "for": {}, "function": {}, "goto": {}, "if": {}, "in": {},
	"local": {}, "nil": {}, "not": {}, "or": {}, "repeat": {}, "return": {},
	"then": {}, "true": {}, "until": {}, "while": {},
}

// luaGlobals: 标准库全局名（5.1–5.4 并集，含 LuaJIT/5.1 的 unpack、setfenv 等）。
// 替换名若与之同名会遮蔽内建函数或库表。
var luaGlobals = []string{
	"_G", "_ENV", "_VERSION", "arg", "self",
	"assert", "collectgarbage", "dofile", "error", "getfenv", "getmetatable",
	"ipairs", "load", "loadfile", "loadstring", "module", "next", "pairs",
	"pcall", "print", "rawequal", "rawget", "rawlen", "rawset", "require",
	"select", "setfenv", "setmetatable", "tonumber", "tostring", "type",
	"unpack", "warn", "xpcall",
	"bit", "bit32", "coroutine", "debug", "io", "jit", "math", "os",
	"package", "string", "table", "utf8",
}

// LuaGlobals 返回标准全局名副本。
func LuaGlobals() []string { return append([]string(nil), luaGlobals...) }

// IsKeyword 判断 s 是否为 Lua 保留字（区分大小写）。
func IsKeyword(s string) bool {
	_, ok := luaKeywords[s]
	return ok
}

// IsIdentChar: 标识符字符集合 [A-Za-z0-9_]（整词边界判定的依据）。
func IsIdentChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsIdentifier 判断 s 是否为合法 Lua 标识符：非空、首字符非数字、全部为 [A-Za-z0-9_]。
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	if s[0] >= '0' && s[0] <= '9' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !IsIdentChar(s[i]) {
			return false
		}
	}
	return true
}

// UsableName 校验模型给出的候选名：去首尾空白后须为合法标识符且不是保留字。
// 不可用时返回 ("", false)，由调用方走兜底命名。
func UsableName(s string) (string, bool) {
	t := strings.TrimSpace(s)
	if !IsIdentifier(t) || IsKeyword(t) {
		return "", false
	}
	return t, true
}

// TrailingNumber 返回名称末尾连续数字构成的整数；无数字后缀返回 0。
// 超长数字按前 18 位截断，避免溢出。
func TrailingNumber(name string) int64 {
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	digits := name[i:]
	if len(digits) > 18 {
		digits = digits[:18]
	}
	var n int64
	for j := 0; j < len(digits); j++ {
		n = n*10 + int64(digits[j]-'0')
	}
	return n
}
