package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"

	"luarename/pkg/contract"
	"luarename/plugins/scanner/pattern"
)

// delayLLM 模拟 LLM 调用，可设置固定延迟。
type delayLLM struct{ delay time.Duration }

func (m delayLLM) Invoke(ctx context.Context, b contract.Batch, p contract.Prompt) (contract.Raw, error) {
	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return contract.Raw{}, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	var sb strings.Builder
	sb.WriteString(`{"mappings":{`)
	for i, id := range b.Identifiers {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%q:%q", id.Name, "n_"+id.Name)
	}
	sb.WriteString("}}")
	return contract.Raw{Text: sb.String()}, nil
}

func benchSource(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "local v%d = u_%d_1 + %d\n", i, i, i)
	}
	return sb.String()
}

// BenchmarkRenameAll 比较串行与并行批次在固定调用延迟下的吞吐。
func BenchmarkRenameAll(b *testing.B) {
	src := benchSource(400)
	ids := pattern.Default().Scan(src).Identifiers
	for _, conc := range []int{1, runtime.NumCPU()} {
		b.Run(fmt.Sprintf("conc=%d", conc), func(b *testing.B) {
			comp := newComp(b, delayLLM{delay: time.Millisecond})
			rn, err := NewRenamer(comp, Settings{Concurrency: conc}, nil)
			if err != nil {
				b.Fatal(err)
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				out := rn.RenameAll(context.Background(), ids, src, nil)
				if out.Fallbacks != 0 {
					b.Fatalf("unexpected fallbacks: %d", out.Fallbacks)
				}
			}
		})
	}
}
