// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package handlers 提供 ChatFlow HTTP API 的请求处理器实现。

# 核心类型

  - ChatHandler：群聊运行、查询、列表、删除与 websocket 流式推送
  - HealthHandler：存活与就绪探针；就绪检查并发执行，可选检查失败只降级
  - Response：统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo：结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter：包装 http.ResponseWriter 以捕获状态码
  - HealthCheck：可插拔健康检查接口（PingCheck、ProviderHealthCheck）

# 错误响应

状态码取自 types.Error.Status()：请求错误 400，CHAT_NOT_FOUND 与
SCENARIO_NOT_FOUND 404，发言人选择失败 422，参与者或上游失败 502，
超时 504。信封的 request_id 来自 RequestID 中间件写入的响应头。
*/
package handlers
