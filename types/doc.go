// Copyright (c) FusionRAG Authors.
// Licensed under the MIT License.

/*
Package types 提供检索引擎的全局共享类型定义。

# 概述

types 是引擎最底层的公共包，不依赖任何内部包，为 retrieval、store、
cache 等上层模块提供统一的类型契约。所有跨包共享的结构体、枚举和
错误码均定义于此，以避免循环依赖。

# 核心类型

  - Chunk             — 索引期产出的不可变文本块（含向量与实体关联）
  - RetrievalResult   — 单路信号的检索结果（信号内排名与分数）
  - SignalHit         — 融合结果中单路信号的贡献记录
  - FusedResult       — 多信号融合后的结果（含完整来源信息）
  - ContextEntry      — 上下文窗口条目（引用编号与拼接标记）
  - ContextWindow     — token 预算内的最终上下文窗口
  - Error / ErrorCode — 结构化错误体系，含信号标记与 Retryable 标记

# 主要能力

  - 错误工具链：NewError / WithCause / WithSignal / WithRetryable / IsCode
  - 来源追溯：FusedResult.HitFor 按信号查询贡献记录
  - 窗口工具：ContextWindow.ChunkIDs 按引用顺序枚举块
*/
package types
