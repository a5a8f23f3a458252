package lru

import "fmt"

// LRU is a fixed-size map with least-recently-used eviction.
// It is not safe for concurrent use, see ConcurrentLRU and ShardedLRU.
type LRU[K comparable, V any] struct {
	maxSize int
	onEvict func(key K, v V)

	l *linkedList[kv[K, V]]
	m map[K]*elem[kv[K, V]]
}

type kv[K comparable, V any] struct {
	key K
	v   V
}

func NewLRU[K comparable, V any](maxSize int, onEvict func(key K, v V)) *LRU[K, V] {
	if maxSize <= 0 {
		panic(fmt.Sprintf("lru: invalid max size: %d", maxSize))
	}

	return &LRU[K, V]{
		maxSize: maxSize,
		onEvict: onEvict,
		l:       new(linkedList[kv[K, V]]),
		m:       make(map[K]*elem[kv[K, V]], maxSize),
	}
}

func (q *LRU[K, V]) Add(key K, v V) {
	if e, ok := q.m[key]; ok {
		e.value.v = v
		q.l.moveToBack(e)
		return
	}

	// Reuse the oldest element when full to avoid an allocation.
	if q.l.length >= q.maxSize {
		e := q.l.front
		if q.onEvict != nil {
			q.onEvict(e.value.key, e.value.v)
		}
		delete(q.m, e.value.key)

		e.value.key = key
		e.value.v = v
		q.m[key] = e
		q.l.moveToBack(e)
		return
	}

	e := &elem[kv[K, V]]{value: kv[K, V]{key: key, v: v}}
	q.m[key] = e
	q.l.pushBack(e)
}

func (q *LRU[K, V]) Get(key K) (v V, ok bool) {
	e, ok := q.m[key]
	if !ok {
		return
	}
	q.l.moveToBack(e)
	return e.value.v, true
}

func (q *LRU[K, V]) Del(key K) {
	if e := q.m[key]; e != nil {
		q.delElem(e)
	}
}

// Clean removes every entry for which f returns true and reports how many
// were removed.
func (q *LRU[K, V]) Clean(f func(key K, v V) bool) (removed int) {
	e := q.l.front
	for e != nil {
		next := e.next
		if f(e.value.key, e.value.v) {
			q.delElem(e)
			removed++
		}
		e = next
	}
	return removed
}

// Range calls f for every entry without touching recency order.
func (q *LRU[K, V]) Range(f func(key K, v V)) {
	for e := q.l.front; e != nil; e = e.next {
		f(e.value.key, e.value.v)
	}
}

func (q *LRU[K, V]) Len() int {
	return q.l.length
}

func (q *LRU[K, V]) delElem(e *elem[kv[K, V]]) {
	key, v := e.value.key, e.value.v
	q.l.pop(e)
	delete(q.m, key)

	if q.onEvict != nil {
		q.onEvict(key, v)
	}
}
