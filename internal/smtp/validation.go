package smtp

import (
	"bytes"
	"strings"

	"github.com/welldanyogia/mock-smtp/internal/metrics"
)

// Probe markers that trigger injected failures
const (
	markerNoRelay  = "NORELAY"
	markerNotFound = "NOTFOUND"
	markerNoPTR    = "_NOPTR_"
)

// PolicyResult is the outcome of a recipient or message check
type PolicyResult struct {
	// Accepted reports whether the recipient or message passes
	Accepted bool
	// Reply is the full response line without CRLF
	Reply string
	// Reason is the metrics label for a rejection
	Reason string
}

// Code returns the numeric reply code of the result
func (r PolicyResult) Code() int {
	code := 0
	for i := 0; i < len(r.Reply) && i < 3; i++ {
		code = code*10 + int(r.Reply[i]-'0')
	}
	return code
}

// ValidateRecipient applies the recipient policy to a RCPT TO address.
// NORELAY wins over NOTFOUND when both markers are present.
func ValidateRecipient(address string) PolicyResult {
	switch {
	case strings.Contains(address, markerNoRelay):
		return PolicyResult{Reply: replyRelayDenied, Reason: metrics.ReasonRelayDenied}
	case strings.Contains(address, markerNotFound):
		return PolicyResult{Reply: replyUserNotFound, Reason: metrics.ReasonUserNotFound}
	default:
		return PolicyResult{Accepted: true, Reply: replyOK}
	}
}

// ValidateMessage applies the body policy once the terminator is seen.
// A rejected message is fatal to the whole session.
func ValidateMessage(body []byte) PolicyResult {
	if bytes.Contains(body, []byte(markerNoPTR)) {
		return PolicyResult{Reply: replyNoPTR, Reason: metrics.ReasonNoPTR}
	}
	return PolicyResult{Accepted: true}
}
