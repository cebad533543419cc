package main

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	cfgpkg "luarename/internal/config"
	"luarename/internal/diag"
)

const defaultDebounce = 300 * time.Millisecond

func newWatchCmd(c *cli) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "监视目录，新增或修改的 .lua 文件落盘后自动重命名",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// inputs 由事件逐个给出；配置中的 inputs 忽略
			cfg, err := c.validConfig(nil)
			if err != nil {
				return err
			}
			cfg.Inputs = nil
			logger := newLogger(cfg)
			defer logger.Sync()
			if err := preflightCheckOutputDir(cfg); err != nil {
				return configErr("输出目录不可写或无法创建: %v", err)
			}
			comp, set, _, _, err := cfgpkg.Assemble(cfg)
			if err != nil {
				return configErr("装配失败: %v", err)
			}
			term := diag.NewTerminal(c.stderr, c.status)
			diag.SetTerminal(term)
			defer diag.SetTerminal(nil)

			w := &watcher{
				root:     args[0],
				skipDir:  outputDir(cfg),
				debounce: debounce,
				logger:   logger,
				process: func(ctx context.Context, path string) error {
					s := set
					s.Inputs = []string{path}
					return pipelineRun(ctx, comp, s, logger)
				},
			}
			c.printf("watching %s\n", args[0])
			if err := w.Run(cmd.Context()); err != nil {
				return &exitError{code: exitRun, err: err}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", defaultDebounce, "同一文件连续写入的合并窗口")
	return cmd
}

// outputDir 返回 fs writer 的输出目录绝对路径（用于排除自身产物）。
func outputDir(cfg cfgpkg.Config) string {
	var o struct {
		OutputDir string `json:"output_dir"`
	}
	_ = json.Unmarshal(cfg.Options.Writer.JSON(), &o)
	if strings.TrimSpace(o.OutputDir) == "" {
		return ""
	}
	abs, err := filepath.Abs(o.OutputDir)
	if err != nil {
		return ""
	}
	return abs
}

// watcher 递归监视 root；同一路径的事件在 debounce 窗口内合并为一次处理。
type watcher struct {
	root     string
	skipDir  string
	debounce time.Duration
	logger   *diag.Logger
	process  func(ctx context.Context, path string) error
}

// Run 阻塞直到 ctx 取消。单个文件处理失败只记日志。
func (w *watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	if err := w.addTree(fw, w.root); err != nil {
		return err
	}

	pending := map[string]time.Time{}
	tick := time.NewTicker(max(w.debounce/3, 10*time.Millisecond))
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if w.skipped(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					_ = w.addTree(fw, ev.Name)
					continue
				}
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				if isLua(ev.Name) {
					pending[ev.Name] = time.Now()
				}
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch", string(diag.Classify(err)), err.Error(), "", "", nil)
		case now := <-tick.C:
			for p, t := range pending {
				if now.Sub(t) < w.debounce {
					continue
				}
				delete(pending, p)
				if err := w.process(ctx, p); err != nil {
					w.logger.ErrorWith("watch", string(diag.Classify(err)), err.Error(), nil, p, "")
				}
			}
		}
	}
}

func (w *watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.skipped(p) || (p != root && strings.HasPrefix(d.Name(), ".")) {
			return filepath.SkipDir
		}
		return fw.Add(p)
	})
}

func (w *watcher) skipped(p string) bool {
	if w.skipDir == "" {
		return false
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	return abs == w.skipDir || strings.HasPrefix(abs, w.skipDir+string(filepath.Separator))
}

func isLua(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".lua", ".luau":
		return true
	}
	return false
}
