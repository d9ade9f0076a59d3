package dispatch

import (
	"github.com/gyaneshwarpardhi/subwatch/internal/config"
	"github.com/gyaneshwarpardhi/subwatch/internal/record"
)

// renderMessages renders one message per distinct locale among the
// matched subscriptions. Rendering is memoized per locale: many
// subscribers sharing a locale cost one render. A locale without a
// template, or whose template fails to render, maps to nil; the
// notification is still created, just without text.
func (d *Dispatcher) renderMessages(cfg *config.DispatchConfig, rec *record.Record, matched []match) map[string]*string {
	messages := make(map[string]*string)
	for _, m := range matched {
		if _, done := messages[m.Locale]; done {
			continue
		}
		messages[m.Locale] = d.renderLocale(cfg, rec, m.Locale)
	}
	return messages
}

func (d *Dispatcher) renderLocale(cfg *config.DispatchConfig, rec *record.Record, locale string) *string {
	tmpl, ok := cfg.Template(locale)
	if !ok {
		return nil
	}
	text, err := d.renderer.Render(tmpl, rec)
	if err != nil {
		d.logger.Debug("template rendering failed, notification will carry no text",
			"locale", locale, "err", err)
		return nil
	}
	return &text
}
