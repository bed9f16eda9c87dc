// Package priorityqueue 提供基于堆实现的优先队列.
package priorityqueue

import "cmp"

// LessFunc 比较函数，返回 true 表示 a 优先级高于 b.
type LessFunc[T any] func(a, b T) bool

// PriorityQueue 优先队列.
//
// 基于二叉堆实现，Push/Pop 为 O(log n)，Peek 为 O(1).
// 非并发安全，调用方负责加锁.
//
// 相同优先级元素的出队顺序由 less 决定，需要稳定顺序时
// 请在 less 中比较插入序号.
//
// 示例:
//
//	pq := priorityqueue.New(func(a, b *Item) bool {
//	    if !a.Due.Equal(b.Due) {
//	        return a.Due.Before(b.Due)
//	    }
//	    return a.Seq < b.Seq
//	})
//	pq.Push(item)
//	next, ok := pq.Peek()
type PriorityQueue[T any] struct {
	data []T
	less LessFunc[T]
}

// New 创建优先队列.
// less(a, b) 返回 true 表示 a 应该排在 b 前面.
func New[T any](less LessFunc[T]) *PriorityQueue[T] {
	return &PriorityQueue[T]{less: less}
}

// NewMin 创建最小堆.
func NewMin[T cmp.Ordered]() *PriorityQueue[T] {
	return New(func(a, b T) bool { return a < b })
}

// Push 添加元素.
func (pq *PriorityQueue[T]) Push(items ...T) {
	for _, item := range items {
		pq.data = append(pq.data, item)
		pq.up(len(pq.data) - 1)
	}
}

// Pop 弹出优先级最高的元素.
func (pq *PriorityQueue[T]) Pop() (T, bool) {
	var zero T
	if len(pq.data) == 0 {
		return zero, false
	}

	top := pq.data[0]
	last := len(pq.data) - 1
	pq.data[0] = pq.data[last]
	pq.data[last] = zero // 释放引用
	pq.data = pq.data[:last]

	if len(pq.data) > 0 {
		pq.down(0)
	}
	return top, true
}

// Peek 查看优先级最高的元素（不弹出）.
func (pq *PriorityQueue[T]) Peek() (T, bool) {
	if len(pq.data) == 0 {
		var zero T
		return zero, false
	}
	return pq.data[0], true
}

// Len 返回元素数量.
func (pq *PriorityQueue[T]) Len() int {
	return len(pq.data)
}

// IsEmpty 判断是否为空.
func (pq *PriorityQueue[T]) IsEmpty() bool {
	return len(pq.data) == 0
}

// RemoveFunc 删除所有满足 match 的元素，返回删除数量.
//
// 删除后整体重建堆，复杂度 O(n).
func (pq *PriorityQueue[T]) RemoveFunc(match func(T) bool) int {
	var zero T
	kept := pq.data[:0]
	removed := 0
	for _, item := range pq.data {
		if match(item) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	for i := len(kept); i < len(pq.data); i++ {
		pq.data[i] = zero
	}
	pq.data = kept

	if removed > 0 {
		for i := len(pq.data)/2 - 1; i >= 0; i-- {
			pq.down(i)
		}
	}
	return removed
}

// Drain 按优先级顺序弹出全部元素，队列随之清空.
func (pq *PriorityQueue[T]) Drain() []T {
	result := make([]T, 0, len(pq.data))
	for {
		item, ok := pq.Pop()
		if !ok {
			return result
		}
		result = append(result, item)
	}
}

// up 向上调整堆.
func (pq *PriorityQueue[T]) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !pq.less(pq.data[i], pq.data[parent]) {
			break
		}
		pq.data[i], pq.data[parent] = pq.data[parent], pq.data[i]
		i = parent
	}
}

// down 向下调整堆.
func (pq *PriorityQueue[T]) down(i int) {
	n := len(pq.data)
	for {
		left := 2*i + 1
		if left >= n {
			return
		}

		best := left
		if right := left + 1; right < n && pq.less(pq.data[right], pq.data[left]) {
			best = right
		}

		if !pq.less(pq.data[best], pq.data[i]) {
			return
		}

		pq.data[i], pq.data[best] = pq.data[best], pq.data[i]
		i = best
	}
}
