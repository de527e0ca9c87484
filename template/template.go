// Package template manages the per-source signature verification settings:
// whether verification is enabled, the shared secret, and the header that
// carries the signature.
package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/xraph/relayhub/signature"
)

// Errors returned by the template service and stores.
var (
	ErrNotFound      = errors.New("relayhub: signature template not found")
	ErrExists        = errors.New("relayhub: signature template already exists")
	ErrNotReady      = errors.New("relayhub: signature template is not enabled or has no secret")
	ErrInvalidHeader = errors.New("relayhub: invalid signature header name")
	ErrInvalidSource = errors.New("relayhub: invalid source name")
)

// Bounds on stored names.
const (
	MaxHeaderLength = 100
	MaxSourceLength = 50
)

var (
	headerToken = regexp.MustCompile("^[A-Za-z0-9!#$%&'*+.^_`|~-]+$")
	sourceName  = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)
)

// Template is the verification configuration for one source.
type Template struct {
	Source      string
	DisplayName string
	Description string
	Enabled     bool

	// Secret is the shared HMAC key. Empty means no secret is stored.
	Secret string

	SignatureHeader string
	UpdatedAt       time.Time
}

// HasSecret reports whether a secret is stored.
func (t *Template) HasSecret() bool {
	return t.Secret != ""
}

// Ready reports whether the template enforces verification with a usable secret.
func (t *Template) Ready() bool {
	return t.Enabled && t.HasSecret()
}

type templateJSON struct {
	Source          string    `json:"source"`
	DisplayName     string    `json:"display_name"`
	Description     string    `json:"description"`
	Enabled         bool      `json:"enabled"`
	HasSecret       bool      `json:"has_secret"`
	SignatureHeader string    `json:"signature_header"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// MarshalJSON renders the template without its secret.
func (t Template) MarshalJSON() ([]byte, error) {
	return json.Marshal(templateJSON{
		Source:          t.Source,
		DisplayName:     t.DisplayName,
		Description:     t.Description,
		Enabled:         t.Enabled,
		HasSecret:       t.HasSecret(),
		SignatureHeader: t.SignatureHeader,
		UpdatedAt:       t.UpdatedAt,
	})
}

// Update is a partial change to a template. Enabled is always applied. Nil
// pointers leave the stored value unchanged.
type Update struct {
	Enabled         bool    `json:"enabled"`
	Secret          *string `json:"secret,omitempty"`
	SignatureHeader *string `json:"signature_header,omitempty"`
}

// Apply writes u onto t. A secret that is blank after trimming clears the
// stored secret. The header is trimmed and validated.
func (u Update) Apply(t *Template) error {
	if u.SignatureHeader != nil {
		header, err := NormalizeHeader(*u.SignatureHeader)
		if err != nil {
			return err
		}
		t.SignatureHeader = header
	}
	t.Enabled = u.Enabled
	if u.Secret != nil {
		t.Secret = strings.TrimSpace(*u.Secret)
	}
	return nil
}

// NormalizeHeader trims name and checks that it is a usable HTTP header name.
func NormalizeHeader(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", fmt.Errorf("%w: empty", ErrInvalidHeader)
	case len(name) > MaxHeaderLength:
		return "", fmt.Errorf("%w: longer than %d characters", ErrInvalidHeader, MaxHeaderLength)
	case !headerToken.MatchString(name):
		return "", fmt.Errorf("%w: %q", ErrInvalidHeader, name)
	}
	return name, nil
}

// ValidateSource checks a source name: lowercase letters, digits, '-' and '_'.
func ValidateSource(source string) error {
	if len(source) > MaxSourceLength || !sourceName.MatchString(source) {
		return fmt.Errorf("%w: %q", ErrInvalidSource, source)
	}
	return nil
}

// DefaultHeader returns the conventional signature header for source.
func DefaultHeader(source string) string {
	switch source {
	case signature.SourceGitHub:
		return "X-Hub-Signature-256"
	case signature.SourceStripe:
		return "Stripe-Signature"
	default:
		return "X-Signature"
	}
}

// Defaults returns the templates bootstrapped for the built-in sources: all
// disabled, with no secret.
func Defaults() []*Template {
	now := time.Now().UTC()
	return []*Template{
		{
			Source:          signature.SourceGitHub,
			DisplayName:     "GitHub",
			Description:     "Verifies X-Hub-Signature-256 (sha256=<hex> HMAC-SHA256 of the body)",
			SignatureHeader: DefaultHeader(signature.SourceGitHub),
			UpdatedAt:       now,
		},
		{
			Source:          signature.SourceStripe,
			DisplayName:     "Stripe",
			Description:     "Verifies Stripe-Signature (t=<timestamp>,v1=<HMAC-SHA256 of \"t.body\">)",
			SignatureHeader: DefaultHeader(signature.SourceStripe),
			UpdatedAt:       now,
		},
		{
			Source:          signature.SourceCustom,
			DisplayName:     "Custom",
			Description:     "Verifies a bare hex HMAC-SHA256 of the body in a configurable header",
			SignatureHeader: DefaultHeader(signature.SourceCustom),
			UpdatedAt:       now,
		},
	}
}

// IsBuiltin reports whether source has a default template.
func IsBuiltin(source string) bool {
	switch source {
	case signature.SourceGitHub, signature.SourceStripe, signature.SourceCustom:
		return true
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
