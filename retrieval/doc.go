// Package retrieval 实现混合检索融合引擎：
// 稠密向量、稀疏词法（BM25）与知识图谱三路信号并行检索，
// 经可配置策略融合、可选重排序、多样性过滤后，
// 组装为带引用标注的 token 预算内上下文窗口。
//
// 三路检索器对各自的只读索引做纯读操作，可安全并发；
// FusionEngine 是同步屏障。引擎不向 ChunkStore 或知识图写入。
package retrieval
