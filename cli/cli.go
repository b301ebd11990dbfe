// Package cli 提供 redo 的命令行入口。Worker 进程需要链接任务函数，
// 因此应用通常在自己的 main 中导入注册任务的包，再执行 NewRootCommand。
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/northseadl/redo"
	"github.com/spf13/cobra"
)

// Options 定制根命令。
type Options struct {
	// Registry 非空时直接使用，忽略 --config。
	Registry *redo.Registry
	// Functions 用于 funcs 子命令展示，默认 redo.DefaultFunctions。
	Functions *redo.Functions
}

// NewRootCommand 构建 redo 根命令：listen / serve / publish / funcs。
func NewRootCommand(opts Options) *cobra.Command {
	if opts.Functions == nil {
		opts.Functions = redo.DefaultFunctions
	}
	root := &cobra.Command{
		Use:           "redo",
		Short:         "redo task queue worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", os.Getenv("REDO_CONFIG"), "YAML config file (default: single local redis queue)")
	root.PersistentFlags().Bool("debug", os.Getenv("REDO_DEBUG") != "", "Print every received task")

	// registry 返回使用的 Registry 及其释放函数；外部传入的 Registry 由调用方负责关闭。
	registry := func(cmd *cobra.Command) (*redo.Registry, func(), error) {
		if opts.Registry != nil {
			return opts.Registry, func() {}, nil
		}
		path, _ := cmd.Flags().GetString("config")
		cfg, err := redo.LoadConfig(path)
		if err != nil {
			return nil, nil, err
		}
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			cfg.Logger.Level = "debug"
		}
		r := redo.Configure(cfg)
		return r, func() { _ = r.Close(context.Background()) }, nil
	}

	listenCmd := &cobra.Command{
		Use:   "listen <lane> [queue]",
		Short: "Execute tasks queued on one lane",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			lane, err := strconv.Atoi(args[0])
			if err != nil || lane < 1 {
				return fmt.Errorf("lane must be a positive integer, got %q", args[0])
			}
			name := redo.DefaultQueue
			if len(args) > 1 {
				name = args[1]
			}
			r, release, err := registry(cmd)
			if err != nil {
				return err
			}
			defer release()
			l, err := r.GetInstance(name, lane)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, strings.Repeat("=", 80))
			fmt.Fprintf(out, "  Listening tasks on %s:TH:%d...\n", name, lane)
			return l.Listen(ctx, redo.WithReporter(NewConsoleReporter(out)))
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve [queue]",
		Short: "Execute tasks on every lane of a queue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := redo.DefaultQueue
			if len(args) > 0 {
				name = args[0]
			}
			r, release, err := registry(cmd)
			if err != nil {
				return err
			}
			defer release()
			q, err := r.Queue(name)
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, strings.Repeat("=", 80))
			fmt.Fprintf(out, "  Listening tasks on %s:TH:1..%d...\n", name, q.Lanes())
			return q.Serve(ctx, redo.WithReporter(NewConsoleReporter(out)))
		},
	}

	publishCmd := &cobra.Command{
		Use:   "publish <func-id> [json-arg...]",
		Short: "Schedule a task by function id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := redo.ParseFuncID(args[0])
			if err != nil {
				return err
			}
			pos, err := rawArgs(args[1:])
			if err != nil {
				return err
			}
			kws, _ := cmd.Flags().GetStringArray("kw")
			kw, err := rawKwargs(kws)
			if err != nil {
				return err
			}
			td, err := redo.NewTaskDescriptor(id, pos, kw)
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("queue")
			r, release, err := registry(cmd)
			if err != nil {
				return err
			}
			defer release()
			q, err := r.Queue(name)
			if err != nil {
				return err
			}
			if _, err := q.Schedule(cmd.Context(), td); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled %s\n", td)
			return nil
		},
	}
	publishCmd.Flags().String("queue", redo.DefaultQueue, "Queue name")
	publishCmd.Flags().StringArray("kw", nil, "Keyword argument as name=json (repeatable)")

	funcsCmd := &cobra.Command{
		Use:   "funcs",
		Short: "List functions linked into this worker",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			for _, n := range opts.Functions.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
		},
	}

	root.AddCommand(listenCmd, serveCmd, publishCmd, funcsCmd)
	return root
}

func rawArgs(in []string) ([]any, error) {
	out := make([]any, 0, len(in))
	for i, s := range in {
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("argument %d is not valid JSON: %s", i, s)
		}
		out = append(out, json.RawMessage(s))
	}
	return out, nil
}

func rawKwargs(in []string) (map[string]any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(in))
	for _, kv := range in {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("keyword argument must be name=json, got %q", kv)
		}
		if !json.Valid([]byte(v)) {
			return nil, fmt.Errorf("keyword argument %s is not valid JSON: %s", k, v)
		}
		out[k] = json.RawMessage(v)
	}
	return out, nil
}

// ConsoleReporter 按行输出每条任务结果，失败不会中断监听。
type ConsoleReporter struct{ w io.Writer }

func NewConsoleReporter(w io.Writer) *ConsoleReporter { return &ConsoleReporter{w: w} }

func (r *ConsoleReporter) Rejected(ctx context.Context, lane *redo.Lane, err error) {
	fmt.Fprintf(r.w, "[ERROR] >> %v\n", err)
}

func (r *ConsoleReporter) Succeeded(ctx context.Context, lane *redo.Lane, t *redo.Task, result any) {
	fmt.Fprintf(r.w, "[OK] %s >> %v\n", t, result)
}

func (r *ConsoleReporter) Failed(ctx context.Context, lane *redo.Lane, t *redo.Task, err error) {
	fmt.Fprintf(r.w, "[ERROR] %s >> %v\n", t, err)
}
