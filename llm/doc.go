// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 提供统一的大语言模型接入层。

# 概述

群聊中的每个 LLM 参与者、自动发言人选择器以及 reflection 摘要都通过
[Provider] 访问模型后端。本包只定义与服务商无关的请求/响应模型与错误语义，
具体的 HTTP 适配位于 llm/providers/openaicompat。

# 核心类型

  - [Provider]：Completion / Stream / HealthCheck / Name
  - [ChatRequest] / [ChatResponse] / [StreamChunk]：统一请求与响应
  - [Error]：带错误码与 Retryable 标记的后端错误
  - [FirstContent]：读取首个候选的文本内容
*/
package llm
