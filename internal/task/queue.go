package task

// Queue is the FIFO of pending tasks for one model.
type Queue struct {
	items []*Task
}

func NewQueue() *Queue {
	return &Queue{items: make([]*Task, 0, 16)}
}

func (q *Queue) Push(t *Task) {
	q.items = append(q.items, t)
}

func (q *Queue) Len() int {
	return len(q.items)
}

// PopPending removes and returns the first task that is still pending.
// Entries that left the pending state while queued are dropped.
func (q *Queue) PopPending() (*Task, bool) {
	for len(q.items) > 0 {
		t := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]

		if t == nil || t.State() != Pending {
			continue
		}
		return t, true
	}
	return nil, false
}

// Pending counts queued tasks that are still pending.
func (q *Queue) Pending() int {
	n := 0
	for _, t := range q.items {
		if t != nil && t.State() == Pending {
			n++
		}
	}
	return n
}

// PushFront puts t back at the head, used when an assignment attempt fails
// after the task was popped.
func (q *Queue) PushFront(t *Task) {
	q.items = append([]*Task{t}, q.items...)
}

// Remove drops the entry for id, reporting whether one was queued.
func (q *Queue) Remove(id uint32) bool {
	for i, t := range q.items {
		if t != nil && t.ID == id {
			copy(q.items[i:], q.items[i+1:])
			q.items[len(q.items)-1] = nil
			q.items = q.items[:len(q.items)-1]
			return true
		}
	}
	return false
}
