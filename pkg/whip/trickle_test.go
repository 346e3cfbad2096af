package whip

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livekit/whip-client/pkg/sdp"
)

func TestCandidateQueueOrder(t *testing.T) {
	q := NewCandidateQueue()
	q.Push("candidate:1 1 udp 500 10.0.0.1 3000 typ host")
	q.Push("candidate:2 1 udp 400 10.0.0.1 3001 typ srflx")
	q.Push(sdp.EndOfCandidates)

	require.Equal(t, 3, q.Len())
	require.Equal(t, []string{
		"candidate:1 1 udp 500 10.0.0.1 3000 typ host",
		"candidate:2 1 udp 400 10.0.0.1 3001 typ srflx",
		sdp.EndOfCandidates,
	}, q.Drain())
	require.Zero(t, q.Len())
	require.Empty(t, q.Drain())
}

func TestCandidateQueueConcurrentPush(t *testing.T) {
	q := NewCandidateQueue()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Push(fmt.Sprintf("candidate:%d 1 udp 500 10.0.0.1 3000 typ host", i))
		}(i)
	}
	wg.Wait()
	require.Len(t, q.Drain(), 20)
}

func TestBuildFragment(t *testing.T) {
	details := sdp.ICEDetails{Ufrag: "EsAw", Pwd: "P2uYro0UCOQ4zxjKXaWCBui1", FirstMid: "0"}
	fragment, done := BuildFragment(details, "audio", []string{
		"candidate:1 1 udp 2015363327 192.168.1.2 49152 typ host",
	})
	require.False(t, done)
	require.Equal(t,
		"a=ice-ufrag:EsAw\r\n"+
			"a=ice-pwd:P2uYro0UCOQ4zxjKXaWCBui1\r\n"+
			"m=audio 9 RTP/AVP 0\r\n"+
			"a=mid:0\r\n"+
			"a=candidate:1 1 udp 2015363327 192.168.1.2 49152 typ host\r\n",
		fragment)
}

func TestBuildFragmentEndOfCandidates(t *testing.T) {
	details := sdp.ICEDetails{Ufrag: "u", Pwd: "p"}
	fragment, done := BuildFragment(details, "video", []string{
		"candidate:1 1 udp 500 10.0.0.1 3000 typ host",
		sdp.EndOfCandidates,
	})
	require.True(t, done)
	require.Contains(t, fragment, "a=end-of-candidates\r\n")
	// no mid line when the offer did not carry one
	require.NotContains(t, fragment, "a=mid:")
}
