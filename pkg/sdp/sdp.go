// Package sdp contains the minimal SDP handling the WHIP exchange needs.
// It is deliberately not a full parser: the signaling layer only ever looks
// at line types, ICE credentials and the first bundled mid.
package sdp

import (
	"strconv"
	"strings"

	"github.com/livekit/whip-client/pkg/errors"
)

const EndOfCandidates = "end-of-candidates"

// ICEDetails holds the three attributes trickled fragments are built from.
// All of them come from the first media section, falling back to
// session-level values for the credentials.
type ICEDetails struct {
	Ufrag    string
	Pwd      string
	FirstMid string
}

// ExtractICEDetails scans an offer (or answer) line by line and captures the
// ICE credentials and the mid of the first media section, which is where all
// media gets bundled. Scanning stops at the second m-line. Malformed lines
// abort with an error rather than returning partial results.
func ExtractICEDetails(sdpText string) (ICEDetails, error) {
	var details ICEDetails
	inMedia := false

	for _, line := range strings.Split(sdpText, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		if len(line) < 3 || line[1] != '=' {
			return ICEDetails{}, errors.ErrInvalidSDPLine(line)
		}

		switch line[0] {
		case 'a':
			key, value, found := strings.Cut(line[2:], ":")
			if !found || value == "" {
				continue
			}
			switch {
			case strings.EqualFold(key, "ice-ufrag"):
				details.Ufrag = value
			case strings.EqualFold(key, "ice-pwd"):
				details.Pwd = value
			case inMedia && strings.EqualFold(key, "mid"):
				details.FirstMid = value
			}
		case 'm':
			if inMedia {
				// second media section, nothing past it matters
				return details, nil
			}
			inMedia = true
		}
	}

	return details, nil
}

// RewriteSendOnly turns every sendrecv direction into sendonly. Some WHIP
// servers reject offers advertising reception.
func RewriteSendOnly(sdpText string) string {
	return strings.ReplaceAll(sdpText, "sendrecv", "sendonly")
}

// InjectCandidates rebuilds the offer with the given candidate values added
// as a=candidate lines at the end of every media section. Used when trickle
// ICE is disabled and the offer has to carry the complete candidate set.
func InjectCandidates(sdpText string, candidates []string) string {
	if len(candidates) == 0 {
		return sdpText
	}

	var attributes strings.Builder
	for _, c := range candidates {
		attributes.WriteString("a=")
		attributes.WriteString(c)
		attributes.WriteString("\r\n")
	}

	var expanded strings.Builder
	mlines := 0
	for _, line := range strings.Split(sdpText, "\r\n") {
		if strings.HasPrefix(line, "m=") {
			mlines++
			if mlines > 1 {
				expanded.WriteString(attributes.String())
			}
		}
		if len(line) > 2 {
			expanded.WriteString(line)
			expanded.WriteString("\r\n")
		}
	}
	expanded.WriteString(attributes.String())

	return expanded.String()
}

// FirstSectionCandidates returns the candidate attribute values found in the
// first media section of an answer, with the "a=" prefix stripped. Servers
// that gather before answering put their candidates there instead of
// trickling them.
func FirstSectionCandidates(sdpText string) []string {
	var found []string
	mlines := 0
	for _, line := range strings.Split(sdpText, "\r\n") {
		if strings.HasPrefix(line, "m=") {
			mlines++
			if mlines > 1 {
				break
			}
		} else if mlines == 1 && strings.HasPrefix(line, "a=candidate") {
			found = append(found, line[2:])
		}
	}
	return found
}

// CandidateComponent returns the component id of a candidate attribute
// value, or 0 if the field is missing or not numeric.
func CandidateComponent(candidate string) int {
	parts := strings.Split(candidate, " ")
	if len(parts) < 2 {
		return 0
	}
	component, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0
	}
	return component
}
