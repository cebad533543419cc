package pipeline

import (
	"fmt"
	"sync"

	"luarename/pkg/contract"
)

// registry: 单次运行内的已用名集合与累计映射，冲突检查的唯一依据。
// used 预置 Lua 标准全局名，替换名不会遮蔽 print、string 等内建；
// order 只记录本次运行实际占用的名字。
// 并行模式下各批共享同一实例，由互斥锁保护。
type registry struct {
	mu      sync.Mutex
	used    map[string]struct{}
	order   []string // 已用名按占用先后
	mapping contract.NameMapping
}

func newRegistry() *registry {
	globals := contract.LuaGlobals()
	used := make(map[string]struct{}, len(globals))
	for _, g := range globals {
		used[g] = struct{}{}
	}
	return &registry{used: used, mapping: make(contract.NameMapping)}
}

// claim 为 original 占用一个全局唯一的名字：
// 先试 base，冲突时依次试 base+sep+1、base+sep+2…
func (r *registry) claim(original, base, sep string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := base
	for n := 1; ; n++ {
		if _, taken := r.used[name]; !taken {
			break
		}
		name = fmt.Sprintf("%s%s%d", base, sep, n)
	}
	r.used[name] = struct{}{}
	r.order = append(r.order, name)
	r.mapping[original] = name
	return name
}

// avoid 返回已用名快照（占用顺序）。
func (r *registry) avoid() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// snapshot 返回累计映射副本。
func (r *registry) snapshot() contract.NameMapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mapping.Clone()
}

// fallbackName: 兜底名 var_<全局下标>。
func fallbackName(index int) string { return fmt.Sprintf("var_%d", index) }
