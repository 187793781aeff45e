// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jeranaias/echo/internal/config"
)

// New builds the Provider variant selected by cfg.Provider.
func New(cfg config.CloudConfig, logger *slog.Logger) (Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", config.ProviderOpenRouter:
		return NewOpenRouterClient(cfg.APIKey).
			WithBaseURL(cfg.BaseURL).
			WithTimeout(cfg.Timeout()).
			WithSiteURL(cfg.SiteURL).
			WithSiteName(cfg.SiteName).
			WithLogger(logger), nil
	case config.ProviderSDK:
		// The timeout is applied per request so the same client can
		// serve long streams.
		return NewSDKClient(SDKOptions{
			APIKey:     cfg.APIKey,
			BaseURL:    cfg.BaseURL,
			SiteURL:    cfg.SiteURL,
			SiteName:   cfg.SiteName,
			Timeout:    cfg.Timeout(),
			HTTPClient: &http.Client{Transport: sharedTransport},
			Logger:     logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
