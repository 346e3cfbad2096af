package whip

import (
	"strings"
	"sync"

	"github.com/livekit/whip-client/pkg/sdp"
)

// CandidateQueue buffers locally discovered ICE candidates between flushes.
// The media engine pushes from its own goroutine, the state machine's flush
// timer is the only consumer, so batches never interleave.
type CandidateQueue struct {
	mu      sync.Mutex
	pending []string
}

func NewCandidateQueue() *CandidateQueue {
	return &CandidateQueue{}
}

func (q *CandidateQueue) Push(candidate string) {
	q.mu.Lock()
	q.pending = append(q.pending, candidate)
	q.mu.Unlock()
}

// Drain returns the queued candidates in discovery order and empties the
// queue.
func (q *CandidateQueue) Drain() []string {
	q.mu.Lock()
	drained := q.pending
	q.pending = nil
	q.mu.Unlock()
	return drained
}

func (q *CandidateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// BuildFragment assembles the PATCH body for a batch of candidates: the ICE
// credentials, a synthetic m-line for the bundled section, the mid when
// known, then one attribute per candidate. The second return value reports
// whether the batch contained the end-of-candidates sentinel, after which no
// further flushes should happen.
func BuildFragment(details sdp.ICEDetails, kind string, candidates []string) (string, bool) {
	var fragment strings.Builder
	fragment.WriteString("a=ice-ufrag:")
	fragment.WriteString(details.Ufrag)
	fragment.WriteString("\r\na=ice-pwd:")
	fragment.WriteString(details.Pwd)
	fragment.WriteString("\r\nm=")
	fragment.WriteString(kind)
	fragment.WriteString(" 9 RTP/AVP 0\r\n")
	if details.FirstMid != "" {
		fragment.WriteString("a=mid:")
		fragment.WriteString(details.FirstMid)
		fragment.WriteString("\r\n")
	}

	done := false
	for _, candidate := range candidates {
		if candidate == sdp.EndOfCandidates {
			done = true
		}
		fragment.WriteString("a=")
		fragment.WriteString(candidate)
		fragment.WriteString("\r\n")
	}

	return fragment.String(), done
}
