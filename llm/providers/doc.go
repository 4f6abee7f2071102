// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package providers 是 LLM 后端的公共适配层。
//
// 群聊中的 LLM 参与者与自动选人策略都经由 llm.Provider 访问后端。
// 本包提供三样东西：HTTP 错误到 llm.Error 的映射（MapHTTPError，
// 带 Retryable 标记），按 retry.Policy 退避重试的 RetryableProvider，
// 以及把耗时与 token 用量交给 RequestRecorder 的 InstrumentedProvider。
// OpenAI 兼容线协议在子包 openaicompat 中。
package providers
