// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 封装 go-redis 客户端，作为群聊实时状态的缓存层。

# 概述

persistence.RedisStore 通过 Manager 以 JSON 保存进行中与已结束的对话，
每条新消息由观察者追加写入，超出 MaxMessages 的旧消息被裁剪。
健康检查接口 /ready 复用 Manager.Ping。

# 核心类型

  - Manager：持有 Redis 客户端，提供 Get/Set/GetJSON/SetJSON/Delete/Keys，
    所有键统一加 KeyPrefix。
  - Manager.UpdateJSON：WATCH + MULTI 的读改写，冲突时有限次重试，
    多个实例同时向同一群聊追加消息也不会丢失。
  - Config：地址、密码、连接池、默认 TTL 与 TLS。

# 错误语义

键不存在时返回 ErrCacheMiss，可用 IsCacheMiss 判断；
UpdateJSON 重试耗尽返回 ErrConflict；
Close 之后的调用返回 ErrClosed 而不是 panic。
*/
package cache
