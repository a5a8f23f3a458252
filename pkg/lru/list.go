package lru

// elem is a node of the intrusive doubly linked list used to track recency.
type elem[V any] struct {
	prev, next *elem[V]
	owner      *linkedList[V]
	value      V
}

type linkedList[V any] struct {
	front, back *elem[V]
	length      int
}

func (l *linkedList[V]) pushBack(e *elem[V]) {
	l.length++
	e.owner = l

	if l.back == nil {
		l.front = e
		l.back = e
		return
	}

	e.prev = l.back
	l.back.next = e
	l.back = e
}

// moveToBack relinks an existing element to the back in O(1).
func (l *linkedList[V]) moveToBack(e *elem[V]) {
	if e.owner != l {
		panic("lru: elem does not belong to this list")
	}
	if l.back == e {
		return
	}

	p, n := e.prev, e.next
	if p != nil {
		p.next = n
	} else {
		l.front = n
	}
	if n != nil {
		n.prev = p
	}

	e.prev = l.back
	e.next = nil
	l.back.next = e
	l.back = e
}

func (l *linkedList[V]) pop(e *elem[V]) {
	if e.owner != l {
		panic("lru: elem does not belong to this list")
	}
	l.length--

	p, n := e.prev, e.next
	if p != nil {
		p.next = n
	} else {
		l.front = n
	}
	if n != nil {
		n.prev = p
	} else {
		l.back = p
	}

	e.prev = nil
	e.next = nil
	e.owner = nil
}
