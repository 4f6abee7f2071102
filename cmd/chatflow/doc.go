// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package main 提供 ChatFlow 服务端与命令行入口。

# 概述

cmd/chatflow 装配群聊调度器、场景注册表、对话存储与 LLM 后端，
对外提供 HTTP/WebSocket API，并可在终端直接运行场景。

# 核心类型

  - App：组件装配：指标、遥测、Redis、数据库、存储、LLM、调度器
  - Server：API 服务、指标服务与场景目录监听，由 errgroup 统一管理
  - Middleware：HTTP 中间件函数签名 func(http.Handler) http.Handler

# 主要能力

  - 子命令：serve、run、validate、tokens、version、health
  - 中间件链：Recovery、RequestID、SecurityHeaders、OTelTracing、
    MetricsMiddleware、RequestLogger、CORS、Auth（API Key / JWT）、
    RateLimiter（按认证主体或 IP）
  - 场景热重载：scenarios 目录变更后重载注册表，失败时保留旧场景集
  - 优雅关闭：信号取消 → 关闭 HTTP 服务 → 排空后台对话 → 关闭存储与遥测
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
