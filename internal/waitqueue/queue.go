// Package waitqueue implements an in-process FIFO of waiters that are woken
// one at a time.
package waitqueue

import (
	"fmt"
	"sync"
)

// Queue holds registered waiters in arrival order. The zero value is ready
// to use.
type Queue struct {
	mu sync.Mutex

	order   []string
	waiters map[string]chan struct{}
}

// Register adds a waiter with the given id at the back of the queue and
// returns the channel that NotifyOne signals.
func (q *Queue) Register(id string) (<-chan struct{}, error) {
	return q.register(id, false)
}

// RegisterFront is like Register but puts the waiter ahead of every waiter
// already queued.
func (q *Queue) RegisterFront(id string) (<-chan struct{}, error) {
	return q.register(id, true)
}

func (q *Queue) register(id string, front bool) (<-chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.waiters == nil {
		q.waiters = make(map[string]chan struct{})
	}
	if _, exists := q.waiters[id]; exists {
		return nil, fmt.Errorf("duplicate id: %s", id)
	}
	ch := make(chan struct{}, 1)
	q.waiters[id] = ch
	if front {
		q.order = append([]string{id}, q.order...)
	} else {
		q.order = append(q.order, id)
	}
	return ch, nil
}

// Has checks if a waiter with the given ID is registered.
func (q *Queue) Has(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.waiters[id]
	return exists
}

// Len returns the number of registered waiters.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiters)
}

// Unregister removes a waiter. It returns false if the waiter was not
// registered, which includes a waiter already popped by NotifyOne.
func (q *Queue) Unregister(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.waiters[id]; !exists {
		return false
	}
	delete(q.waiters, id)
	for i, v := range q.order {
		if v == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// NotifyOne wakes the longest registered waiter and removes it from the
// queue. It reports whether a waiter was woken.
func (q *Queue) NotifyOne() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.order) > 0 {
		id := q.order[0]
		q.order = q.order[1:]
		ch, ok := q.waiters[id]
		if !ok {
			continue
		}
		delete(q.waiters, id)
		ch <- struct{}{}
		return true
	}
	return false
}

// NotifyAll wakes every waiter and returns how many were woken.
func (q *Queue) NotifyAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, id := range q.order {
		if ch, ok := q.waiters[id]; ok {
			ch <- struct{}{}
			n++
		}
	}
	q.order = nil
	clear(q.waiters)
	return n
}
