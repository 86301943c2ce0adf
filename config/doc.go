// Package config 提供 FusionRAG 的配置管理功能。
//
// 包含默认配置、YAML 文件加载与环境变量覆盖。
// 配置优先级为 默认值 → YAML 文件 → 环境变量，
// 并通过 ToPipeline 转换为检索管线配置。
package config
