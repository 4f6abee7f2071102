// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package config 提供 ChatFlow 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 CHATFLOW）的顺序加载，
// 环境变量键名由 env 标签拼接，例如 CHATFLOW_CHAT_STORE_TYPE。
// YAML 中的未知键视为错误，避免拼写错误被静默忽略；
// Validate 一次汇总全部问题。
// FileWatcher 基于 fsnotify 监听场景目录，合并短时间内的事件后回调，
// 供服务端在场景变更后重载。
package config
