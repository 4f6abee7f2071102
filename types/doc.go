// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package types 提供 ChatFlow 全局共享的错误类型定义。

types 是最底层的公共包，不依赖任何内部包。conversation、persistence、
api/handlers 等上层模块通过 Error / ErrorCode 表达结构化错误，
HTTP 层据此映射状态码。

  - Error / ErrorCode：结构化错误；每个 ErrorCode 自带默认 HTTP 状态码与 Retryable
  - IsErrorCode / AsError / GetErrorCode / IsRetryable：错误判定工具
*/
package types
