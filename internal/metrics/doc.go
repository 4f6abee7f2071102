// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖
HTTP、LLM、群聊调度、缓存与数据库五个维度。

# 概述

Collector 通过 promauto 注册指标，默认注册到全局 Registry，
测试或多实例场景可用 NewCollectorWithRegistry 指定独立 Registry。
指标名为 <namespace>_<subsystem>_<name>，subsystem 取
http、llm、chat、cache、db 之一。

# 主要能力

  - HTTP 指标：请求总数、耗时、请求/响应体大小，状态码归类为 2xx/3xx/4xx/5xx。
  - LLM 指标：请求总数、耗时、Token 用量（prompt/completion），按 provider/model 分组。
  - 对话指标：实现 conversation.Recorder，记录对话结束原因、轮数、
    每次发言耗时、选人失败，以及运行中的对话数。
  - 缓存指标：lookups_total，以 result=hit|miss 区分。
  - 数据库指标：活跃/空闲连接数。
*/
package metrics
