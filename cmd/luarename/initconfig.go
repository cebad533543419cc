package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	cfgpkg "luarename/internal/config"
)

func newInitConfigCmd(c *cli) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "init-config [dir]",
		Short: "在目录中生成默认配置与 .env 模板（已存在则跳过，不覆盖）",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			ext := strings.ToLower(strings.TrimSpace(format))
			if ext == "yml" {
				ext = "yaml"
			}
			if ext != "json" && ext != "yaml" {
				return configErr("未知格式 %q（json|yaml）", format)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return configErr("生成默认配置失败: %v", err)
			}
			b, err := cfgpkg.Render(cfgpkg.DefaultTemplateConfig(), ext)
			if err != nil {
				return configErr("生成默认配置失败: %v", err)
			}
			cfgPath := filepath.Join(dir, "config."+ext)
			if err := writeNew(cfgPath, b); err != nil {
				return configErr("生成默认配置失败: %v", err)
			}
			// .env 生成失败不影响配置模板
			if err := writeNew(filepath.Join(dir, ".env"), []byte(dotEnvTemplate())); err != nil {
				c.printf("提示：.env 生成失败（已跳过）：%v\n", err)
			}
			c.printf("已生成 %s\n", cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "配置格式 json|yaml")
	return cmd
}

// writeNew 仅在文件不存在时写入；已存在直接跳过。
func writeNew(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	_, err = f.Write(b)
	return err
}

// dotEnvTemplate 列出支持的覆盖项与常见 Provider 密钥。
func dotEnvTemplate() string {
	p := cfgpkg.EnvPrefix
	var b strings.Builder
	b.WriteString("# luarename .env 模板（由 init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件\n")
	b.WriteString("# 空值表示未设置。\n\n")

	b.WriteString("# 配置来源（可二选一）\n")
	fmt.Fprintf(&b, "%sCONFIG_FILE=\n%sCONFIG_JSON=\n\n", p, p)

	b.WriteString("# 运行参数覆盖\n")
	for _, k := range []string{"INPUTS", "CONCURRENCY", "BATCH_SIZE", "MAX_TOKENS", "MAX_RETRIES",
		"BATCH_TIMEOUT_SECONDS", "SINGLE_TIMEOUT_SECONDS", "CACHE_SIZE", "SKIP_SIDECAR", "LOG_LEVEL", "SERVER_ADDR", "LLM"} {
		fmt.Fprintf(&b, "%s%s=\n", p, k)
	}
	b.WriteString("\n# 组件选择\n")
	for _, k := range []string{"READER", "SCANNER", "STRIPPER", "BATCHER", "PROMPT_BUILDER", "DECODER", "REWRITER", "WRITER"} {
		fmt.Fprintf(&b, "%sCOMPONENTS_%s=\n", p, k)
	}
	for _, name := range []string{"openai", "gemini"} {
		fmt.Fprintf(&b, "\n# Provider 覆盖（%s）\n", name)
		for _, k := range []string{"CLIENT", "LIMITS_RPM", "LIMITS_TPM", "LIMITS_MAX_TOKENS_PER_REQ", "OPTIONS_JSON"} {
			fmt.Fprintf(&b, "%sPROVIDER__%s__%s=\n", p, name, k)
		}
	}
	// 由 Provider 客户端读取，不经前缀
	b.WriteString("\n# 常见供应商 API Key\nOPENAI_API_KEY=\nGOOGLE_API_KEY=\n")
	return b.String()
}
