package template

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/relayhub/signature"
)

// Resolution modes reported by ResolveForRequest.
const (
	ModeTemplate = "template"
	ModeDisabled = "disabled"
	ModeFallback = "fallback"
	ModeOpen     = "open"
)

// Resolution tells the ingest path how to verify one request.
type Resolution struct {
	// Header is the request header carrying the signature.
	Header string

	// Secret is the HMAC key. It may be empty when Required is true, in
	// which case every request fails verification.
	Secret string

	// Required is false only when no verification is configured.
	Required bool

	// Mode explains where the decision came from.
	Mode string
}

// Service manages signature templates.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a template service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// EnsureDefaults inserts any missing built-in template. It is idempotent and
// safe under concurrent callers.
func (svc *Service) EnsureDefaults(ctx context.Context) error {
	for _, t := range Defaults() {
		inserted, err := svc.store.InsertTemplateIfAbsent(ctx, t)
		if err != nil {
			return fmt.Errorf("template: bootstrap %s: %w", t.Source, err)
		}
		if inserted {
			svc.logger.InfoContext(ctx, "signature template bootstrapped", "source", t.Source)
		}
	}
	return nil
}

// List returns every template, bootstrapping defaults first.
func (svc *Service) List(ctx context.Context) ([]*Template, error) {
	if err := svc.EnsureDefaults(ctx); err != nil {
		return nil, err
	}
	return svc.store.ListTemplates(ctx)
}

// Get returns the template for source, bootstrapping defaults first.
func (svc *Service) Get(ctx context.Context, source string) (*Template, error) {
	if err := svc.EnsureDefaults(ctx); err != nil {
		return nil, err
	}
	return svc.store.GetTemplate(ctx, source)
}

// Update applies u to the template for source. It fails with ErrNotFound for
// a source that has never been registered.
func (svc *Service) Update(ctx context.Context, source string, u Update) (*Template, error) {
	t, err := svc.Get(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := u.Apply(t); err != nil {
		return nil, err
	}
	t.UpdatedAt = time.Now().UTC()

	if err := svc.store.UpdateTemplate(ctx, t); err != nil {
		return nil, fmt.Errorf("template: update %s: %w", source, err)
	}
	if t.Enabled && !t.HasSecret() {
		svc.logger.WarnContext(ctx, "signature template enabled without a secret; all requests will be rejected",
			"source", source)
	}
	svc.logger.InfoContext(ctx, "signature template updated",
		"source", source, "enabled", t.Enabled, "has_secret", t.HasSecret(), "header", t.SignatureHeader)
	return t, nil
}

// Register adds a template for a new source.
func (svc *Service) Register(ctx context.Context, t *Template) (*Template, error) {
	t.Source = strings.TrimSpace(t.Source)
	if err := ValidateSource(t.Source); err != nil {
		return nil, err
	}
	if t.SignatureHeader == "" {
		t.SignatureHeader = DefaultHeader(t.Source)
	}
	header, err := NormalizeHeader(t.SignatureHeader)
	if err != nil {
		return nil, err
	}
	t.SignatureHeader = header
	t.Secret = strings.TrimSpace(t.Secret)
	if t.DisplayName == "" {
		t.DisplayName = t.Source
	}
	t.UpdatedAt = time.Now().UTC()

	if err := svc.EnsureDefaults(ctx); err != nil {
		return nil, err
	}
	inserted, err := svc.store.InsertTemplateIfAbsent(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("template: register %s: %w", t.Source, err)
	}
	if !inserted {
		return nil, fmt.Errorf("%w: %s", ErrExists, t.Source)
	}
	svc.logger.InfoContext(ctx, "signature template registered", "source", t.Source)
	return t, nil
}

// ResolveForRequest decides how to verify a request for source. An enabled
// template wins and requires its own secret. A disabled template that holds
// a secret turns verification off. A disabled template without a secret, as
// bootstrapped, counts as unconfigured, so the fallback secret applies just
// as when no row exists. With neither, verification is skipped (open mode).
// The result does not depend on whether defaults have been bootstrapped.
func (svc *Service) ResolveForRequest(ctx context.Context, source, defaultHeader, fallbackSecret string) (Resolution, error) {
	t, err := svc.store.GetTemplate(ctx, source)
	switch {
	case err == nil:
		header := t.SignatureHeader
		if header == "" {
			header = defaultHeader
		}
		if t.Enabled {
			return Resolution{Header: header, Secret: t.Secret, Required: true, Mode: ModeTemplate}, nil
		}
		if !t.HasSecret() && fallbackSecret != "" {
			return Resolution{Header: header, Secret: fallbackSecret, Required: true, Mode: ModeFallback}, nil
		}
		return Resolution{Header: header, Mode: ModeDisabled}, nil

	case isNotFound(err):
		if fallbackSecret != "" {
			return Resolution{Header: defaultHeader, Secret: fallbackSecret, Required: true, Mode: ModeFallback}, nil
		}
		return Resolution{Header: defaultHeader, Mode: ModeOpen}, nil

	default:
		return Resolution{}, fmt.Errorf("template: resolve %s: %w", source, err)
	}
}

// TestHeader returns the header name and a valid signature value for
// payload, so operators can craft test requests. A zero ts means now.
func (svc *Service) TestHeader(ctx context.Context, source string, payload []byte, ts int64) (string, string, error) {
	t, err := svc.Get(ctx, source)
	if err != nil {
		return "", "", err
	}
	if !t.Ready() {
		return "", "", fmt.Errorf("%w: %s", ErrNotReady, source)
	}
	header := t.SignatureHeader
	if header == "" {
		header = DefaultHeader(source)
	}
	return header, signature.HeaderValue(source, payload, t.Secret, ts), nil
}
