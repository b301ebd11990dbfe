package main

import (
	"fmt"
	"os"

	"github.com/northseadl/redo"
	"github.com/northseadl/redo/cli"
	"github.com/spf13/cobra"

	"redo-example/mail"
)

// 用法：
//
//	go run . listen 1                    # Worker：执行 lane 1 上的任务
//	go run . serve                       # Worker：所有 lane
//	go run . send a@b.c --subject hello  # 发布端：入队一封邮件
//
// REDO_CONFIG 指向 YAML 配置；未设置时使用本地 Redis 127.0.0.1:6379。
func main() {
	cfg, err := redo.LoadConfig(os.Getenv("REDO_CONFIG"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "redo-example:", err)
		os.Exit(1)
	}
	r := redo.Configure(cfg)
	if err := mail.Register(r); err != nil {
		fmt.Fprintln(os.Stderr, "redo-example:", err)
		os.Exit(1)
	}

	root := cli.NewRootCommand(cli.Options{Registry: r})
	root.AddCommand(sendCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "redo-example:", err)
		os.Exit(1)
	}
}

func sendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <to>",
		Short: "Queue an email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			if _, err := mail.Send.DelayKw(cmd.Context(), map[string]any{"subject": subject}, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "[send] 已入队:", args[0])
			return nil
		},
	}
	cmd.Flags().String("subject", "hello from redo", "Mail subject")
	return cmd
}
