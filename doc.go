// Package redo 提供轻量的异步任务分发：将普通函数注册为延迟任务，
// 调用时把函数标识与参数序列化后发布到 "<队列名>:<lane>" 频道（轮询分配 lane），
// Worker 订阅各自的 lane，反序列化、解析函数并执行。
// 传输层可插拔（Redis PUBSUB / RabbitMQ / 进程内 memory），语义为非持久化的发布订阅。
package redo
