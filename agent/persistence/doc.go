// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 persistence 提供群聊会话状态的持久化存储抽象及多后端实现。

# 概述

所有后端都实现 conversation.Store（Save / Load / Delete），可直接交给
conversation.Manager 作写穿存储。Redis 后端作为会话缓存，按消息条数
裁剪并设置 TTL；SQL 后端（gorm）作为完整记录归档；Tiered 组合二者。

# 核心类型

  - Record: 会话的持久化形式（ID、策略、结束原因、消息列表、时间戳）。
  - MemoryStore: 进程内存储，用于开发与测试。
  - RedisStore: 基于 internal/cache.Manager 的 JSON 会话状态，
    键为 prefix + chatID，支持 MaxMessages 裁剪（先丢最旧）与 TTL；
    Observer 可在对话进行中逐条追加消息。
  - SQLStore: 基于 gorm 与 internal/database.PoolManager 的归档存储，
    支持 postgres / mysql / sqlite。
  - TieredStore: 先写缓存再写归档，读取时缓存未命中回落到归档。

# 使用方式

	store, err := persistence.NewStore(cfg, cacheManager, pool, logger)
	manager := conversation.NewManager(scheduler, store, logger)
*/
package persistence
