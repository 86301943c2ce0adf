// 版权所有 2024 FusionRAG Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的检索流水线指标采集能力，覆盖
信号、融合、组装、缓存与 HTTP 五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram 等
    Prometheus 向量指标，按流水线阶段分组管理。

# 主要能力

  - 信号指标：每路信号的检索耗时、结果数与超时计数，
    按 signal/status 分组（status 为 ok/error/timeout）。
  - 融合指标：每次查询的融合结果数，按 strategy 分组。
  - 重排序指标：超时回退计数。
  - 组装指标：上下文窗口的 token 数与条目数分布。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
  - HTTP 指标：请求总数与请求耗时，按 method/path/status 分组。
*/
package metrics
