package research

// PendingQueue orders queries by depth (shallowest first) and, within a
// depth, by insertion order. The zero value is an empty queue.
//
// It is a plain slice so that it serializes as the ordered pending list of
// the session state.
type PendingQueue []Query

// Len returns the number of pending queries.
func (q PendingQueue) Len() int { return len(q) }

// Push appends a query at the back.
func (q *PendingQueue) Push(query Query) {
	*q = append(*q, query)
}

// Pop removes and returns the first query of the lowest depth.
func (q *PendingQueue) Pop() (Query, bool) {
	if len(*q) == 0 {
		return Query{}, false
	}

	best := 0
	for i, item := range *q {
		if item.Depth < (*q)[best].Depth {
			best = i
		}
	}

	query := (*q)[best]
	*q = append((*q)[:best:best], (*q)[best+1:]...)
	return query, true
}

// Contains reports whether a query with the same normalized text is pending.
func (q PendingQueue) Contains(text string) bool {
	key := Normalize(text)
	for _, item := range q {
		if item.Key() == key {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (q PendingQueue) Clone() PendingQueue {
	if q == nil {
		return nil
	}
	out := make(PendingQueue, len(q))
	copy(out, q)
	return out
}
