// Package store 提供 ChunkStore 的持久化实现：
// 单机场景用 SQLite，生产场景用 PostgreSQL + pgvector
// （向量近邻搜索下推到数据库）。
//
// 两种实现查询期都是只读的；Seed 属于离线索引任务的写入口。
package store
