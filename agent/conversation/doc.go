// 版权所有 2024 ChatFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 conversation 提供多智能体群聊的轮次调度与发言人选择能力。

# 概述

conversation 解决一个核心问题：给定一组参与者、一条转移策略和最大轮次，
按严格的顺序轮流发言，直到策略返回停止、终止谓词命中或达到轮次上限，
最终产出有序的对话日志。

# 核心接口

  - Participant：参与者接口，定义 Name / Description / Reply 三个方法
  - Policy：转移策略（封闭的标签变体），由 Kind 区分
    explicit / graph / auto / round_robin 四种实现
  - Store：对话结果的持久化接口，由 agent/persistence 实现
  - Recorder：指标记录接口，由 internal/metrics 实现

# 主要能力

  - 轮次调度：Scheduler.Run 驱动完整的对话循环，日志长度永不超过 MaxRounds
  - 显式策略：FuncPolicy 以确定性函数决定下一位发言人或停止
  - 图约束策略：GraphPolicy 支持 allowed / disallowed 两种邻接语义
  - 自动策略：AutoPolicy 通过 LLM 选人，按整词提及计数解析结果，
    多选/无选时先走 TieBreak 再按模板重问，超过次数报告 AMBIGUOUS_SPEAKER
  - 两方对话与顺序对话：InitiateChat / InitiateChats，支持 carryover 与摘要
  - 对话管理：Manager 统一管理多个对话结果，可写透到 Store
*/
package conversation
