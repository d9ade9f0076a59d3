package config

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/subwatch/internal/condition"
)

// Validate checks the config for:
//   - Required lookup field names
//   - A "default" locale template when any templates are configured
//   - A parseable condition expression (when the built-in evaluator is
//     used, a config that can never gate correctly is caught at load)
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Version == "" {
		errs = append(errs, "version is required")
	}
	if cfg.Dispatch.SubscriptionLookup == "" {
		errs = append(errs, "dispatch.subscription_lookup is required")
	}
	if cfg.Dispatch.NotificationLookup == "" {
		errs = append(errs, "dispatch.notification_lookup is required")
	}
	if len(cfg.Dispatch.LocaleTemplates) > 0 {
		if _, ok := cfg.Dispatch.LocaleTemplates[DefaultLocaleKey]; !ok {
			errs = append(errs, fmt.Sprintf("dispatch.locale_templates must contain the %q key", DefaultLocaleKey))
		}
	}
	if expr := cfg.Dispatch.Condition; expr != "" {
		if _, err := condition.Parse(expr); err != nil {
			errs = append(errs, fmt.Sprintf("dispatch.condition: %v", err))
		}
	}
	if cfg.Engine.EventWorkers < 0 || cfg.Engine.QueueDepth < 0 || cfg.Engine.EventTimeoutMs < 0 {
		errs = append(errs, "engine settings must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
