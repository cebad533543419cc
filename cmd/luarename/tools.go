package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	cfgpkg "luarename/internal/config"
	"luarename/pkg/contract"
	dmap "luarename/plugins/decoder/mapping"
)

// readSource 读取文件内容；"-" 表示 STDIN。
func (c *cli) readSource(path string) (string, error) {
	var (
		b   []byte
		err error
	)
	if path == "-" {
		b, err = io.ReadAll(c.stdin)
	} else {
		b, err = os.ReadFile(path)
	}
	if err != nil {
		return "", &exitError{code: exitRun, err: err}
	}
	return string(b), nil
}

func newScanCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "scan <file|->",
		Short: "列出候选标识符及出现次数（按数字后缀排序）",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(nil)
			if err != nil {
				return err
			}
			sc, err := cfgpkg.BuildScanner(cfg)
			if err != nil {
				return configErr("%v", err)
			}
			src, err := c.readSource(args[0])
			if err != nil {
				return err
			}
			ids := sc.Scan(src).Identifiers
			if ids == nil {
				ids = []contract.Identifier{}
			}
			if asJSON {
				type row struct {
					Name        string `json:"name"`
					Occurrences int    `json:"occurrences"`
				}
				rows := make([]row, len(ids))
				for i, id := range ids {
					rows[i] = row{Name: id.Name, Occurrences: id.Occurrences}
				}
				enc := json.NewEncoder(c.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tOCCURRENCES")
			for _, id := range ids {
				fmt.Fprintf(tw, "%s\t%d\n", id.Name, id.Occurrences)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "以 JSON 数组输出")
	return cmd
}

func newStripCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "strip <file|->",
		Short: "输出去除注释后的源码",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(nil)
			if err != nil {
				return err
			}
			st, err := cfgpkg.BuildStripper(cfg)
			if err != nil {
				return configErr("%v", err)
			}
			src, err := c.readSource(args[0])
			if err != nil {
				return err
			}
			if st != nil {
				src = st.Strip(src)
			}
			_, err = io.WriteString(c.stdout, src)
			return err
		},
	}
}

func newApplyCmd(c *cli) *cobra.Command {
	var mappingPath, outPath string
	cmd := &cobra.Command{
		Use:   "apply <file|-> --mapping <file>",
		Short: "按已有映射（JSON 对象或 .jsonl 记录）整词改写源码",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(nil)
			if err != nil {
				return err
			}
			rw, err := cfgpkg.BuildRewriter(cfg)
			if err != nil {
				return configErr("%v", err)
			}
			m, err := loadMapping(mappingPath)
			if err != nil {
				return configErr("映射读取失败: %v", err)
			}
			src, err := c.readSource(args[0])
			if err != nil {
				return err
			}
			out := rw.Apply(src, m)
			if outPath == "" || outPath == "-" {
				_, err = io.WriteString(c.stdout, out)
				return err
			}
			if err := os.WriteFile(outPath, []byte(out), 0o644); err != nil {
				return &exitError{code: exitRun, err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mappingPath, "mapping", "", "映射文件：{\"原名\":\"新名\"} 或 run 输出的 .jsonl")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "输出文件（缺省 stdout）")
	_ = cmd.MarkFlagRequired("mapping")
	return cmd
}

// loadMapping 读取映射文件。.jsonl 按行解析 {original, renamed}；
// 其他格式交给宽松映射解析（支持信封与代码块）。
func loadMapping(path string) (contract.NameMapping, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		m := contract.NameMapping{}
		sc := bufio.NewScanner(bytes.NewReader(b))
		sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
		line := 0
		for sc.Scan() {
			line++
			t := bytes.TrimSpace(sc.Bytes())
			if len(t) == 0 {
				continue
			}
			var row struct {
				Original string `json:"original"`
				Renamed  string `json:"renamed"`
			}
			if err := json.Unmarshal(t, &row); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			if row.Original != "" && row.Renamed != "" {
				m[row.Original] = row.Renamed
			}
		}
		return m, sc.Err()
	}
	m, ok := dmap.Parse(string(b))
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, contract.ErrResponseInvalid)
	}
	return m, nil
}
