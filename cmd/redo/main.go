package main

import (
	"fmt"
	"os"

	"github.com/northseadl/redo/cli"
)

// 通用二进制：只链接 redo 本身，适合 publish 与排查；
// 执行业务任务的 Worker 请在应用内导入任务包后复用 cli.NewRootCommand。
func main() {
	if err := cli.NewRootCommand(cli.Options{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "redo:", err)
		os.Exit(1)
	}
}
