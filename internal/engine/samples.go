package engine

import "time"

const sampleCapacity = 512

type tempSample struct {
	at    time.Time
	value float64
}

// sampleRing is a bounded FIFO of temperature samples. The oldest sample is
// overwritten once capacity is reached.
type sampleRing struct {
	buf   [sampleCapacity]tempSample
	head  int
	count int
}

func (r *sampleRing) append(at time.Time, v float64) {
	idx := (r.head + r.count) % sampleCapacity
	r.buf[idx] = tempSample{at: at, value: v}
	if r.count < sampleCapacity {
		r.count++
		return
	}
	r.head = (r.head + 1) % sampleCapacity
}

// pruneBefore drops samples taken strictly before cutoff.
func (r *sampleRing) pruneBefore(cutoff time.Time) {
	for r.count > 0 && r.buf[r.head].at.Before(cutoff) {
		r.buf[r.head] = tempSample{}
		r.head = (r.head + 1) % sampleCapacity
		r.count--
	}
}

func (r *sampleRing) mean() (float64, bool) {
	if r.count == 0 {
		return 0, false
	}
	var sum float64
	for i := 0; i < r.count; i++ {
		sum += r.buf[(r.head+i)%sampleCapacity].value
	}
	return sum / float64(r.count), true
}

func (r *sampleRing) len() int { return r.count }
