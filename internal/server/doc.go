// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 核心类型

  - Manager：封装 net/http.Server，管理监听、服务、关闭与错误传播。
  - Config：监听地址、读写超时、空闲超时、请求头大小与关闭超时。

# 主要能力

  - Start 在后台 goroutine 中运行服务；Addr 返回实际监听地址，
    便于以 :0 随机端口启动。
  - Run 阻塞到 ctx 结束或服务出错，随后在 ShutdownTimeout 内优雅关闭，
    适合放进 errgroup 与其他服务器一起运行。
  - 请求 context 派生自 Manager 的根 context，Shutdown 时一并取消，
    长连接（websocket 群聊流）随之退出。
*/
package server
