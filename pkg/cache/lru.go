package cache

// lruNode is one key in the access-order list.
type lruNode struct {
	key  string
	prev *lruNode
	next *lruNode
}

// lruList tracks access order over cache keys. The head is the most
// recently accessed key, the tail the least. All operations are O(1);
// the caller holds the cache mutex.
type lruList struct {
	nodes map[string]*lruNode
	head  *lruNode
	tail  *lruNode
}

func newLRUList() *lruList {
	return &lruList{nodes: make(map[string]*lruNode)}
}

// touch marks a key as most recently accessed, adding it if unknown.
func (l *lruList) touch(key string) {
	if n, ok := l.nodes[key]; ok {
		l.unlink(n)
		l.pushFront(n)
		return
	}
	n := &lruNode{key: key}
	l.nodes[key] = n
	l.pushFront(n)
}

// remove drops a key from the list. Unknown keys are a no-op.
func (l *lruList) remove(key string) {
	if n, ok := l.nodes[key]; ok {
		l.unlink(n)
		delete(l.nodes, key)
	}
}

// oldest returns the least recently accessed key.
func (l *lruList) oldest() (string, bool) {
	if l.tail == nil {
		return "", false
	}
	return l.tail.key, true
}

func (l *lruList) pushFront(n *lruNode) {
	n.prev = nil
	n.next = l.head
	if l.head != nil {
		l.head.prev = n
	}
	l.head = n
	if l.tail == nil {
		l.tail = n
	}
}

func (l *lruList) unlink(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
}
