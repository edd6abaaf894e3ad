package tracker

import "github.com/cory-johannsen/chunkmap/internal/chunk"

// bucketQueue is a monotone-friendly priority queue with one FIFO bucket per
// level. Entries are never removed in place; the Tracker skips entries whose
// priority no longer matches its pending map.
type bucketQueue struct {
	buckets [][]chunk.Key
	heads   []int
	first   int
}

func newBucketQueue(levels int) *bucketQueue {
	return &bucketQueue{
		buckets: make([][]chunk.Key, levels),
		heads:   make([]int, levels),
		first:   levels,
	}
}

func (q *bucketQueue) push(k chunk.Key, prio int) {
	q.buckets[prio] = append(q.buckets[prio], k)
	if prio < q.first {
		q.first = prio
	}
}

func (q *bucketQueue) pop() (chunk.Key, int, bool) {
	for q.first < len(q.buckets) {
		b := q.buckets[q.first]
		if h := q.heads[q.first]; h < len(b) {
			q.heads[q.first] = h + 1
			return b[h], q.first, true
		}
		q.buckets[q.first] = b[:0]
		q.heads[q.first] = 0
		q.first++
	}
	return 0, 0, false
}

func (q *bucketQueue) clear() {
	for i := q.first; i < len(q.buckets); i++ {
		q.buckets[i] = q.buckets[i][:0]
		q.heads[i] = 0
	}
	q.first = len(q.buckets)
}
