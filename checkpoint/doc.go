// Package checkpoint 汇集 compose.CheckPointStore 的内置实现：
//
//   - memstore: 进程内存储，适合测试和单实例部署
//   - redisstore: 基于 go-redis，支持过期时间
//   - pgstore: 基于 pgx 的 PostgreSQL 存储
//   - sqlstore: 基于 sqlx 的通用 SQL 存储
//
// 所有实现都按 thread id 串行化读写，写入失败时保留上一个成功写入的检查点。
package checkpoint
