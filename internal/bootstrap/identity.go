package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/target/agentops-console/config"
	"github.com/target/agentops-console/internal/adapters/authroles"
	"github.com/target/agentops-console/internal/adapters/devauth"
	"github.com/target/agentops-console/internal/adapters/idp"
	"github.com/target/agentops-console/internal/adapters/legacyjwt"
	"github.com/target/agentops-console/internal/ports"
)

// Identity is the configured identity adapter. Dev is set only in mock mode.
type Identity struct {
	Mode     config.IdentityMode
	Provider ports.IdentityProvider
	Dev      *devauth.Provider
}

// BuildIdentityProvider selects the identity adapter by IDENTITY_MODE.
func BuildIdentityProvider(ctx context.Context, cfg config.AppConfig, logger *slog.Logger) (Identity, error) {
	id := cfg.Identity
	switch id.Mode {
	case config.IdentityModeMock:
		dev, err := BuildDevProvider(cfg, logger)
		if err != nil {
			return Identity{}, err
		}
		logger.WarnContext(ctx, "using in-process dev identity; do not use in production", "email", id.DevAuth.Email)
		return Identity{Mode: id.Mode, Provider: dev, Dev: dev}, nil

	case config.IdentityModeLegacy:
		p, err := legacyjwt.NewProvider(legacyjwt.Config{
			BaseURL: id.Legacy.BaseURL,
			Timeout: id.Legacy.Timeout,
			Logger:  logger,
		})
		if err != nil {
			return Identity{}, fmt.Errorf("create legacy identity adapter: %w", err)
		}
		return Identity{Mode: id.Mode, Provider: p}, nil

	case config.IdentityModeProvider, "":
		p, err := idp.NewProvider(ctx, idp.Config{
			BaseURL:           id.Provider.BaseURL,
			APIKey:            id.Provider.APIKey,
			RedirectURL:       id.Provider.RedirectURL,
			OAuthClientID:     id.Provider.OAuthClientID,
			OAuthClientSecret: id.Provider.OAuthClientSecret,
			OAuthScope:        id.Provider.OAuthScope,
			OAuthDiscoveryURL: id.Provider.OAuthDiscoveryURL,
			MFAIssuer:         cfg.Session.MFAIssuer,
			HTTPClient:        &http.Client{Timeout: id.Provider.Timeout},
			Logger:            logger,
		})
		if err != nil {
			return Identity{}, fmt.Errorf("create identity provider adapter: %w", err)
		}
		return Identity{Mode: config.IdentityModeProvider, Provider: p}, nil

	default:
		return Identity{}, fmt.Errorf("unknown identity mode %q", id.Mode)
	}
}

// BuildDevProvider creates the in-process dev identity from DEV_AUTH_* settings.
func BuildDevProvider(cfg config.AppConfig, logger *slog.Logger) (*devauth.Provider, error) {
	d := cfg.Identity.DevAuth
	p, err := devauth.NewProvider(devauth.Config{
		Email:       d.Email,
		Password:    d.Password,
		SigningKey:  []byte(d.SigningKey),
		TokenTTL:    d.TokenTTL,
		TOTPSecret:  d.TOTPSecret,
		Issuer:      cfg.Session.MFAIssuer,
		RedirectURL: cfg.Identity.Provider.RedirectURL,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create dev identity: %w", err)
	}
	return p, nil
}

// BuildDevDirectory seeds the in-memory directory the dev API serves from DEV_AUTH_ORGANIZATIONS.
func BuildDevDirectory(cfg config.AppConfig) (*devauth.Directory, error) {
	orgs, err := devauth.ParseOrganizations(cfg.Identity.DevAuth.Organizations, authroles.StaticRoleMapper{})
	if err != nil {
		return nil, err
	}
	return devauth.NewDirectory(orgs), nil
}
