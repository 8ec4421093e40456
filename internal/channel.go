/*
 * channel.go - 无界队列
 *
 * 核心组件：
 *   - UnboundedChan: 发送永不阻塞的泛型队列，用于把运行器产出的输出转交给慢速消费者
 */

package internal

import "sync"

// UnboundedChan 无界容量的队列。
// 发送操作永不阻塞，接收操作在队列为空时阻塞，直到有数据或队列关闭。
type UnboundedChan[T any] struct {
	buffer   []T
	mutex    sync.Mutex
	notEmpty *sync.Cond
	closed   bool
}

// NewUnboundedChan 创建无界队列。
func NewUnboundedChan[T any]() *UnboundedChan[T] {
	ch := &UnboundedChan[T]{}
	ch.notEmpty = sync.NewCond(&ch.mutex)
	return ch
}

// Send 入队，队列已关闭时丢弃数据并返回 false。
func (ch *UnboundedChan[T]) Send(value T) bool {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if ch.closed {
		return false
	}

	ch.buffer = append(ch.buffer, value)
	ch.notEmpty.Signal()
	return true
}

// Receive 出队。第二个返回值为 false 表示队列已关闭且已取空。
func (ch *UnboundedChan[T]) Receive() (T, bool) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	for len(ch.buffer) == 0 && !ch.closed {
		ch.notEmpty.Wait()
	}

	if len(ch.buffer) == 0 {
		var zero T
		return zero, false
	}

	val := ch.buffer[0]
	var zero T
	ch.buffer[0] = zero
	ch.buffer = ch.buffer[1:]
	return val, true
}

// Len 当前排队的数据量。
func (ch *UnboundedChan[T]) Len() int {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()
	return len(ch.buffer)
}

// Close 关闭队列并唤醒所有等待者，已入队的数据仍可被取出。重复关闭是安全的。
func (ch *UnboundedChan[T]) Close() {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if !ch.closed {
		ch.closed = true
		ch.notEmpty.Broadcast()
	}
}
