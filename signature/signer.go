// Package signature verifies and produces the HMAC-SHA256 signatures carried
// by inbound webhooks from GitHub, Stripe and generic "custom" senders.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Canonical source names. Any other source is verified with the custom scheme.
const (
	SourceGitHub = "github"
	SourceStripe = "stripe"
	SourceCustom = "custom"
)

const githubPrefix = "sha256="

// SecretPrefix starts every secret made by GenerateSecret.
const SecretPrefix = "whsec_"

// GenerateSecret returns a new signing secret: SecretPrefix and 32 random
// bytes as hex.
func GenerateSecret() string {
	var key [32]byte
	_, _ = rand.Read(key[:]) // never fails since Go 1.24
	return SecretPrefix + hex.EncodeToString(key[:])
}

// Generate returns the lowercase hex HMAC-SHA256 of body under secret.
func Generate(body []byte, secret string) string {
	return hex.EncodeToString(sum(body, secret))
}

// GitHubHeader returns an X-Hub-Signature-256 value for body.
func GitHubHeader(body []byte, secret string) string {
	return githubPrefix + Generate(body, secret)
}

// StripeHeader returns a Stripe-Signature value for body signed at ts.
func StripeHeader(body []byte, secret string, ts int64) string {
	t := strconv.FormatInt(ts, 10)
	return "t=" + t + ",v1=" + hex.EncodeToString(sum(stripeContent(t, body), secret))
}

// HeaderValue returns a ready-to-send signature header value for source.
// A zero ts means now and is only used by the stripe scheme.
func HeaderValue(source string, body []byte, secret string, ts int64) string {
	switch source {
	case SourceGitHub:
		return GitHubHeader(body, secret)
	case SourceStripe:
		if ts == 0 {
			ts = time.Now().Unix()
		}
		return StripeHeader(body, secret, ts)
	default:
		return Generate(body, secret)
	}
}

func sum(content []byte, secret string) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(content)
	return mac.Sum(nil)
}

func stripeContent(t string, body []byte) []byte {
	content := make([]byte, 0, len(t)+1+len(body))
	content = append(content, t...)
	content = append(content, '.')
	return append(content, body...)
}
