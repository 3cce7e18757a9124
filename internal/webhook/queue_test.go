package webhook_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/backbone/internal/webhook"
)

var _ = Describe("Queue", func() {
	item := func(i int) webhook.QueueItem {
		return webhook.QueueItem{ID: fmt.Sprintf("item-%d", i)}
	}

	ids := func(items []webhook.QueueItem) []string {
		out := make([]string, 0, len(items))
		for _, it := range items {
			out = append(out, it.ID)
		}
		return out
	}

	It("should pop in FIFO order", func() {
		q := webhook.NewQueue(3)
		q.Push(item(1))
		q.Push(item(2))

		first, ok := q.Pop()
		Expect(ok).To(BeTrue())
		Expect(first.ID).To(Equal("item-1"))

		second, _ := q.Pop()
		Expect(second.ID).To(Equal("item-2"))

		_, ok = q.Pop()
		Expect(ok).To(BeFalse())
	})

	It("should evict exactly the first item when 1001 are pushed into 1000 slots", func() {
		q := webhook.NewQueue(1000)

		var evictions []webhook.QueueItem
		for i := 1; i <= 1001; i++ {
			if evicted, dropped := q.Push(item(i)); dropped {
				evictions = append(evictions, evicted)
			}
		}

		Expect(evictions).To(HaveLen(1))
		Expect(evictions[0].ID).To(Equal("item-1"))
		Expect(q.Len()).To(Equal(1000))

		expected := make([]string, 0, 1000)
		for i := 2; i <= 1001; i++ {
			expected = append(expected, fmt.Sprintf("item-%d", i))
		}
		Expect(ids(q.Items())).To(Equal(expected))
	})

	It("should keep order across wrap-around", func() {
		q := webhook.NewQueue(3)
		for i := 1; i <= 3; i++ {
			q.Push(item(i))
		}
		q.Pop()
		q.Push(item(4))
		q.Push(item(5))

		Expect(ids(q.Items())).To(Equal([]string{"item-3", "item-4", "item-5"}))
	})

	It("should track capacity and peak depth", func() {
		q := webhook.NewQueue(5)
		q.Push(item(1))
		q.Push(item(2))
		q.Pop()

		Expect(q.Cap()).To(Equal(5))
		Expect(q.Len()).To(Equal(1))
		Expect(q.MaxDepth()).To(Equal(2))
	})

	It("should clamp a non-positive capacity to one", func() {
		q := webhook.NewQueue(0)
		q.Push(item(1))
		evicted, dropped := q.Push(item(2))

		Expect(dropped).To(BeTrue())
		Expect(evicted.ID).To(Equal("item-1"))
	})

	It("should put an item back at the head", func() {
		q := webhook.NewQueue(3)
		q.Push(item(1))
		q.Push(item(2))
		first, _ := q.Pop()
		q.Push(item(3))

		_, dropped := q.PushFront(first)
		Expect(dropped).To(BeFalse())
		Expect(ids(q.Items())).To(Equal([]string{"item-1", "item-2", "item-3"}))

		next, _ := q.Pop()
		Expect(next.ID).To(Equal("item-1"))
	})

	It("should evict the returning item itself when full", func() {
		q := webhook.NewQueue(2)
		q.Push(item(1))
		first, _ := q.Pop()
		q.Push(item(2))
		q.Push(item(3))

		evicted, dropped := q.PushFront(first)
		Expect(dropped).To(BeTrue())
		Expect(evicted.ID).To(Equal("item-1"))
		Expect(ids(q.Items())).To(Equal([]string{"item-2", "item-3"}))
	})
})
