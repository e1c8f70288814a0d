package status

import (
	"fmt"
	"sync"
	"testing"
)

func TestAppendAssignsIncreasingSeq(t *testing.T) {
	s := NewStore()
	for i := 1; i <= 3; i++ {
		ev := s.Append(fmt.Sprintf("第 %d 条", i))
		if ev.Seq != i {
			t.Fatalf("序号应为 %d, 实际 %d", i, ev.Seq)
		}
		if ev.Time.IsZero() {
			t.Fatal("事件应带时间戳")
		}
	}
	if s.Len() != 3 {
		t.Fatalf("应有3条事件, 实际 %d", s.Len())
	}
}

func TestSinceReturnsOnlyNewerEvents(t *testing.T) {
	s := NewStore()
	s.Append("a")
	s.Append("b")
	s.Append("c")

	got := s.Since(1)
	if len(got) != 2 || got[0].Message != "b" || got[1].Message != "c" {
		t.Fatalf("Since(1) 结果不符: %+v", got)
	}
	if len(s.Since(3)) != 0 {
		t.Error("Since(最新序号) 应为空")
	}
	if len(s.Since(-5)) != 3 {
		t.Error("负数起点应返回全部事件")
	}
}

func TestConcurrentAppendKeepsOrderConsistent(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Append("并发事件")
		}()
	}
	wg.Wait()

	events := s.Since(0)
	if len(events) != 50 {
		t.Fatalf("应有50条事件, 实际 %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != i+1 {
			t.Fatalf("第 %d 条事件序号应为 %d, 实际 %d", i, i+1, ev.Seq)
		}
	}
}
