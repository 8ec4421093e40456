package schema

import (
	"errors"
	"io"
	"sync"
)

// ========================================
// 公开 API
// ========================================

// Pipe 创建指定容量的流，返回流读取器和流写入器。
// 流式节点通过写入器逐块产出增量，运行器通过读取器消费。
//
// 示例:
//
//	sr, sw := schema.Pipe[string](3)
//	go func() {
//	        defer sw.Close()
//	        for i := 0; i < 10; i++ {
//	                sw.Send(strconv.Itoa(i), nil)
//	        }
//	}()
//
//	defer sr.Close()
//	for {
//	        chunk, err := sr.Recv()
//	        if errors.Is(err, io.EOF) {
//	                break
//	        }
//	        fmt.Println(chunk)
//	}
func Pipe[T any](cap int) (*StreamReader[T], *StreamWriter[T]) {
	stm := newStream[T](cap)
	return stm.asReader(), &StreamWriter[T]{stm: stm}
}

// StreamReaderFromArray 从给定数组创建流读取器。
func StreamReaderFromArray[T any](arr []T) *StreamReader[T] {
	return &StreamReader[T]{ar: &arrayReader[T]{arr: arr}, typ: readerTypeArray}
}

// StreamReaderWithConvert 对流中的每个数据块做类型转换。
// 转换函数返回 ErrNoValue 时该数据块会被丢弃。
func StreamReaderWithConvert[T, D any](sr *StreamReader[T], convert func(T) (D, error)) *StreamReader[D] {
	return &StreamReader[D]{
		typ: readerTypeWithConvert,
		srw: &streamReaderWithConvert[D]{
			recvFn: func() (D, error) {
				for {
					chunk, err := sr.Recv()
					if err != nil {
						var zero D
						return zero, err
					}
					out, err := convert(chunk)
					if errors.Is(err, ErrNoValue) {
						continue
					}
					return out, err
				}
			},
			closeFn: sr.Close,
		},
	}
}

// ErrNoValue 用于 StreamReaderWithConvert 中跳过数据块，请勿在其他场景使用。
var ErrNoValue = errors.New("no value")

// StreamReader 流数据读取器。
//
// 示例:
//
//	for {
//		chunk, err := sr.Recv()
//		if errors.Is(err, io.EOF) {
//			break
//		}
//		if err != nil {
//			// 处理错误
//		}
//		fmt.Println(chunk)
//	}
type StreamReader[T any] struct {
	typ readerType

	st *stream[T]

	ar *arrayReader[T]

	srw *streamReaderWithConvert[T]
}

// StreamWriter 流数据发送器，由 Pipe 创建。
type StreamWriter[T any] struct {
	stm *stream[T]
}

// Recv 从流中接收数据，流结束时返回 io.EOF。
func (sr *StreamReader[T]) Recv() (T, error) {
	switch sr.typ {
	case readerTypeStream:
		return sr.st.recv()
	case readerTypeArray:
		return sr.ar.recv()
	case readerTypeWithConvert:
		return sr.srw.recvFn()
	default:
		panic("impossible")
	}
}

// Close 关闭读取端，通知写入端停止发送。可重复调用。
func (sr *StreamReader[T]) Close() {
	switch sr.typ {
	case readerTypeStream:
		sr.st.closeRecv()
	case readerTypeArray:
	case readerTypeWithConvert:
		sr.srw.closeFn()
	default:
		panic("impossible")
	}
}

// Send 向流中发送数据，返回值表示读取端是否已关闭。
func (sw *StreamWriter[T]) Send(chunk T, err error) (closed bool) {
	return sw.stm.send(chunk, err)
}

// Close 关闭发送端，读取端随后收到 io.EOF。
func (sw *StreamWriter[T]) Close() {
	sw.stm.closeSend()
}

// ========================================
// 内部实现
// ========================================

type readerType int

const (
	readerTypeStream readerType = iota
	readerTypeArray
	readerTypeWithConvert
)

// stream 基于 channel 的底层流，支持 1 个发送者和 1 个接收者。
type stream[T any] struct {
	items chan streamItem[T]

	closed    chan struct{}
	closeOnce sync.Once
}

type streamItem[T any] struct {
	chunk T
	err   error
}

func newStream[T any](cap int) *stream[T] {
	return &stream[T]{
		items:  make(chan streamItem[T], cap),
		closed: make(chan struct{}),
	}
}

func (s *stream[T]) asReader() *StreamReader[T] {
	return &StreamReader[T]{typ: readerTypeStream, st: s}
}

func (s *stream[T]) recv() (chunk T, err error) {
	item, ok := <-s.items
	if !ok {
		item.err = io.EOF
	}
	return item.chunk, item.err
}

func (s *stream[T]) send(chunk T, err error) (closed bool) {
	select {
	case <-s.closed:
		return true
	default:
	}

	select {
	case <-s.closed:
		return true
	case s.items <- streamItem[T]{chunk, err}:
		return false
	}
}

func (s *stream[T]) closeSend() {
	close(s.items)
}

func (s *stream[T]) closeRecv() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// arrayReader 基于数组的读取器。
type arrayReader[T any] struct {
	arr   []T
	index int
}

func (ar *arrayReader[T]) recv() (T, error) {
	if ar.index < len(ar.arr) {
		ret := ar.arr[ar.index]
		ar.index++
		return ret, nil
	}
	var t T
	return t, io.EOF
}

type streamReaderWithConvert[T any] struct {
	recvFn  func() (T, error)
	closeFn func()
}
