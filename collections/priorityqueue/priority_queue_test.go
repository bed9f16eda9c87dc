package priorityqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type PriorityQueueTestSuite struct {
	suite.Suite
}

func TestPriorityQueueSuite(t *testing.T) {
	suite.Run(t, new(PriorityQueueTestSuite))
}

type timedItem struct {
	name string
	due  time.Time
	seq  int
}

func byDueThenSeq(a, b timedItem) bool {
	if !a.due.Equal(b.due) {
		return a.due.Before(b.due)
	}
	return a.seq < b.seq
}

func (s *PriorityQueueTestSuite) TestMinHeap() {
	pq := NewMin[int]()
	pq.Push(3, 1, 4, 1, 5, 9, 2, 6)

	s.Equal(8, pq.Len())
	for _, exp := range []int{1, 1, 2, 3, 4, 5, 6, 9} {
		val, ok := pq.Pop()
		s.True(ok)
		s.Equal(exp, val)
	}
	s.True(pq.IsEmpty())
}

func (s *PriorityQueueTestSuite) TestPeek() {
	pq := NewMin[int]()

	_, ok := pq.Peek()
	s.False(ok)

	pq.Push(3, 1, 2)

	val, ok := pq.Peek()
	s.True(ok)
	s.Equal(1, val)
	s.Equal(3, pq.Len()) // Peek 不移除元素
}

func (s *PriorityQueueTestSuite) TestPopEmpty() {
	pq := NewMin[int]()

	_, ok := pq.Pop()
	s.False(ok)
}

func (s *PriorityQueueTestSuite) TestStableOrderForEqualDue() {
	base := time.Now()
	pq := New(byDueThenSeq)

	pq.Push(
		timedItem{name: "late", due: base.Add(time.Second), seq: 0},
		timedItem{name: "first", due: base, seq: 1},
		timedItem{name: "second", due: base, seq: 2},
		timedItem{name: "third", due: base, seq: 3},
	)

	var names []string
	for _, item := range pq.Drain() {
		names = append(names, item.name)
	}
	s.Equal([]string{"first", "second", "third", "late"}, names)
	s.True(pq.IsEmpty())
}

func (s *PriorityQueueTestSuite) TestRemoveFunc() {
	pq := NewMin[int]()
	pq.Push(8, 3, 5, 1, 9, 2, 7)

	removed := pq.RemoveFunc(func(v int) bool { return v%2 == 1 })
	s.Equal(5, removed)
	s.Equal([]int{2, 8}, pq.Drain())
}

func (s *PriorityQueueTestSuite) TestRemoveFuncKeepsHeapOrder() {
	pq := NewMin[int]()
	for i := 100; i > 0; i-- {
		pq.Push(i)
	}

	s.Equal(50, pq.RemoveFunc(func(v int) bool { return v > 50 }))

	for i := 1; i <= 50; i++ {
		val, ok := pq.Pop()
		s.True(ok)
		s.Equal(i, val)
	}
}

func (s *PriorityQueueTestSuite) TestRemoveFuncNoMatch() {
	pq := NewMin[int]()
	pq.Push(2, 1)

	s.Zero(pq.RemoveFunc(func(int) bool { return false }))
	s.Equal(2, pq.Len())
}

func (s *PriorityQueueTestSuite) TestLargeDataset() {
	pq := NewMin[int]()
	n := 10000

	for i := n; i > 0; i-- {
		pq.Push(i)
	}
	for i := 1; i <= n; i++ {
		val, ok := pq.Pop()
		s.True(ok)
		s.Equal(i, val)
	}
}
