package signature

import (
	"crypto/hmac"
	"encoding/hex"
	"strings"
)

// Verify checks header against body for the scheme used by source. It never
// panics and returns false for an empty secret or header.
func Verify(source string, body []byte, header, secret string) bool {
	switch source {
	case SourceGitHub:
		return VerifyGitHub(body, header, secret)
	case SourceStripe:
		return VerifyStripe(body, header, secret)
	default:
		return VerifyCustom(body, header, secret)
	}
}

// VerifyGitHub checks a "sha256=<hex>" header.
func VerifyGitHub(body []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	digest, ok := strings.CutPrefix(header, githubPrefix)
	if !ok {
		return false
	}
	return equalHex(sum(body, secret), digest)
}

// VerifyStripe checks a "t=<unix>,v1=<hex>[,v0=...]" header. The signed
// content is "<t>." followed by the raw body. Any v1 entry may match.
func VerifyStripe(body []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}

	var (
		ts   string
		sigs []string
	)
	for _, item := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(item), "=")
		if !ok {
			return false
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			sigs = append(sigs, value)
		}
	}
	if ts == "" || len(sigs) == 0 {
		return false
	}

	expected := sum(stripeContent(ts, body), secret)
	for _, sig := range sigs {
		if equalHex(expected, sig) {
			return true
		}
	}
	return false
}

// VerifyCustom checks a header holding the bare hex digest.
func VerifyCustom(body []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	return equalHex(sum(body, secret), strings.TrimSpace(header))
}

func equalHex(expected []byte, provided string) bool {
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
