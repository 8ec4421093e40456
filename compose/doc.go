/*
 * compose 包 - 有状态图工作流编排
 *
 * 概述：
 *   以有向图描述工作流：节点读取状态快照并返回部分更新（Delta），
 *   运行器按键策略把更新合并进状态，再沿无条件边和条件分支推进。
 *
 * 两种编排方式：
 *
 *   1. Graph（图式）
 *      - AddLambdaNode / AddHumanNode / AddEdge / AddBranch 自由连接
 *      - 支持环、并行扇出与扇入、条件路由
 *
 *   2. Chain（链式）
 *      - AppendLambda / AppendParallel 依次追加，自动连接 START 与 END
 *
 * 两种触发模式：
 *   - AnyPredecessor：任一前驱选中即在下一个超级步执行，允许环
 *   - AllPredecessor：所有前驱完成或被跳过才执行，要求无环
 *
 * 运行状态：
 *   PENDING → RUNNING → SUSPENDED | COMPLETED | FAILED
 *   SUSPENDED 与 FAILED 的运行可以通过相同 thread id 的 Resume / Invoke 继续。
 *
 * 持久化：
 *   WithCheckPointStore 配置检查点存储后，每个超级步结束都会写入检查点。
 *   内置存储见 checkpoint/memstore、checkpoint/redisstore、checkpoint/pgstore、checkpoint/sqlstore。
 */

package compose
