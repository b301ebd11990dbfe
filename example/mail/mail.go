// Package mail 演示任务定义：发布端与 Worker 在启动时调用同一个 Register。
package mail

import (
	"context"
	"fmt"

	"github.com/northseadl/redo"
)

// Send 对外暴露的是 Deferred：Send.Delay 入队，Worker 执行 send 本体。
var Send *redo.Deferred

// Register 将本包任务绑定到 r 的 "default" 队列。
func Register(r *redo.Registry) (err error) {
	Send, err = redo.Define("default").On(r).Bind("redo-example/mail.Send", send)
	return err
}

func send(ctx context.Context, a redo.Args) (any, error) {
	var to string
	if err := a.Arg(0, &to); err != nil {
		return nil, err
	}
	subject := "(no subject)"
	if _, err := a.Kwarg("subject", &subject); err != nil {
		return nil, err
	}
	fmt.Printf("[mail] to=%s subject=%s\n", to, subject)
	return "sent to " + to, nil
}
