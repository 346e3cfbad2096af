package sdp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractICEDetailsSessionLevel(t *testing.T) {
	offer := strings.Join([]string{
		"v=0",
		"o=- 0 0 IN IP4 127.0.0.1",
		"s=-",
		"a=ice-ufrag:sessUfrag",
		"a=ice-pwd:sessPwd",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"a=mid:0",
		"",
	}, "\r\n")

	details, err := ExtractICEDetails(offer)
	require.NoError(t, err)
	require.Equal(t, "sessUfrag", details.Ufrag)
	require.Equal(t, "sessPwd", details.Pwd)
	require.Equal(t, "0", details.FirstMid)
}

func TestExtractICEDetailsMediaLevelOverrides(t *testing.T) {
	offer := strings.Join([]string{
		"v=0",
		"a=ice-ufrag:sessUfrag",
		"a=ice-pwd:sessPwd",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"a=ice-ufrag:mediaUfrag",
		"a=ice-pwd:mediaPwd",
		"a=mid:audio0",
		"",
	}, "\r\n")

	details, err := ExtractICEDetails(offer)
	require.NoError(t, err)
	require.Equal(t, "mediaUfrag", details.Ufrag)
	require.Equal(t, "mediaPwd", details.Pwd)
	require.Equal(t, "audio0", details.FirstMid)
}

func TestExtractICEDetailsStopsAtSecondSection(t *testing.T) {
	offer := strings.Join([]string{
		"v=0",
		"m=audio 9 UDP/TLS/RTP/SAVPF 111",
		"a=mid:first",
		"a=ice-ufrag:firstUfrag",
		"m=video 9 UDP/TLS/RTP/SAVPF 96",
		"a=mid:second",
		"a=ice-ufrag:secondUfrag",
		"",
	}, "\r\n")

	details, err := ExtractICEDetails(offer)
	require.NoError(t, err)
	require.Equal(t, "first", details.FirstMid)
	require.Equal(t, "firstUfrag", details.Ufrag)
}

func TestExtractICEDetailsMalformedLines(t *testing.T) {
	// too short
	_, err := ExtractICEDetails("v=0\r\nx\r\n")
	require.Error(t, err)

	// second char is not '='
	_, err = ExtractICEDetails("v=0\r\nabc\r\n")
	require.Error(t, err)

	// LF-only line endings still parse
	details, err := ExtractICEDetails("v=0\na=ice-ufrag:u\na=ice-pwd:p\nm=audio 9 RTP/AVP 0\n")
	require.NoError(t, err)
	require.Equal(t, "u", details.Ufrag)
}

func TestRewriteSendOnly(t *testing.T) {
	require.Equal(t,
		"a=sendonly\r\na=sendonly\r\n",
		RewriteSendOnly("a=sendrecv\r\na=sendonly\r\n"))
}

func TestInjectCandidates(t *testing.T) {
	offer := strings.Join([]string{
		"v=0",
		"a=ice-ufrag:u",
		"m=audio 9 RTP/AVP 0",
		"a=mid:0",
		"m=video 9 RTP/AVP 96",
		"a=mid:1",
		"",
	}, "\r\n")
	candidates := []string{
		"candidate:1 1 udp 2015363327 192.168.1.2 49152 typ host",
		EndOfCandidates,
	}

	expanded := InjectCandidates(offer, candidates)

	// every media section gets the full candidate set
	require.Equal(t, 2, strings.Count(expanded, "a=candidate:1 1 udp 2015363327 192.168.1.2 49152 typ host\r\n"))
	require.Equal(t, 2, strings.Count(expanded, "a=end-of-candidates\r\n"))

	// the first section's candidates come before the second m-line
	firstSection := expanded[:strings.Index(expanded, "m=video")]
	require.Contains(t, firstSection, "a=candidate:1 1 udp")

	// no candidates, no rewrite
	require.Equal(t, offer, InjectCandidates(offer, nil))
}

func TestFirstSectionCandidates(t *testing.T) {
	answer := strings.Join([]string{
		"v=0",
		"m=audio 9 RTP/AVP 0",
		"a=mid:0",
		"a=candidate:100 1 udp 500 10.0.0.1 3000 typ host",
		"a=candidate:100 2 udp 500 10.0.0.1 3001 typ host",
		"m=video 9 RTP/AVP 96",
		"a=candidate:200 1 udp 500 10.0.0.1 3002 typ host",
		"",
	}, "\r\n")

	found := FirstSectionCandidates(answer)
	require.Equal(t, []string{
		"candidate:100 1 udp 500 10.0.0.1 3000 typ host",
		"candidate:100 2 udp 500 10.0.0.1 3001 typ host",
	}, found)

	require.Empty(t, FirstSectionCandidates("v=0\r\nm=audio 9 RTP/AVP 0\r\n"))
}

func TestCandidateComponent(t *testing.T) {
	require.Equal(t, 1, CandidateComponent("candidate:1 1 udp 2015363327 192.168.1.2 49152 typ host"))
	require.Equal(t, 2, CandidateComponent("candidate:1 2 udp 2015363327 192.168.1.2 49153 typ host"))
	require.Equal(t, 0, CandidateComponent(EndOfCandidates))
	require.Equal(t, 0, CandidateComponent("candidate:1 x udp"))
}
