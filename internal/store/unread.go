package store

// unreadTracker maintains per-conversation unread counters and their
// aggregate. The invariant total == sum(perConv) holds after every method;
// the store recomputes nothing, it only routes arrivals and selections here.
type unreadTracker struct {
	perConv map[int64]int
	total   int
}

func newUnreadTracker() *unreadTracker {
	return &unreadTracker{perConv: make(map[int64]int)}
}

// bump records one message received while the conversation was not selected.
func (u *unreadTracker) bump(convID int64) {
	u.perConv[convID]++
	u.total++
}

// clear zeroes a conversation's counter (selection, or a completed full
// fetch), subtracting it from the aggregate first.
func (u *unreadTracker) clear(convID int64) int {
	n := u.perConv[convID]
	if n != 0 {
		u.total -= n
		delete(u.perConv, convID)
	}
	return n
}

// set replaces a conversation's counter with a server-provided value
// (bulk refresh).
func (u *unreadTracker) set(convID int64, n int) {
	u.total += n - u.perConv[convID]
	if n == 0 {
		delete(u.perConv, convID)
		return
	}
	u.perConv[convID] = n
}

// drop forgets a conversation entirely.
func (u *unreadTracker) drop(convID int64) {
	u.clear(convID)
}

func (u *unreadTracker) count(convID int64) int {
	return u.perConv[convID]
}

func (u *unreadTracker) sum() int {
	return u.total
}
