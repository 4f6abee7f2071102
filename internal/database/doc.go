// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 database 为对话归档（persistence.SQLStore）打开 GORM 连接并管理连接池。

# 驱动

Open 按 postgres / mysql / sqlite 选择 dialector；sqlite 使用纯 Go 的
glebarez 驱动，测试中直接用临时文件或内存库。gorm 的慢查询日志转入 zap。

# 连接池

PoolManager 应用 PoolConfig（最大连接、空闲连接、生命周期）。Watch 定时探活并
回调统计，serve 命令借此把连接数写入 Prometheus 指标。

# 事务

WithTransaction 执行单次事务；WithTransactionRetry 在死锁、序列化失败与
SQLite 锁竞争时借助 llm/retry 指数退避重试（PostgreSQL 与 MySQL 按驱动错误码识别），SQLStore.Save 依赖它保证
对话与消息的整体替换。
*/
package database
