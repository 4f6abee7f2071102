// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package api 定义 ChatFlow HTTP API 的请求、响应与 websocket 帧类型。
//
// # 接口概览
//
//   - POST   /v1/chats         运行一次群聊，返回完整结果
//   - GET    /v1/chats         列出本进程运行过的群聊摘要
//   - GET    /v1/chats/{id}    查询结果（内存未命中时回落到会话存储）
//   - DELETE /v1/chats/{id}    删除结果
//   - GET    /v1/chats/stream  websocket：发送 RunRequest，逐条接收 message 帧，最后接收 result 帧
//   - GET    /v1/scenarios     已加载的场景名称
//
// # 认证
//
// 配置了 auth.api_keys 时，请求需携带 X-API-Key 头；配置了 auth.jwt_secret 时
// 需携带 Authorization: Bearer <token>。
//
// 处理器实现位于 api/handlers。
package api
