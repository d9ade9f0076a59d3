package config

// DefaultLocaleKey is the fallback key in LocaleTemplates, and the
// locale assigned to subscribers without a locale setting.
const DefaultLocaleKey = "default"

// Config is the top-level YAML structure.
type Config struct {
	Version  string         `yaml:"version"`
	Engine   EngineConf     `yaml:"engine"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// EngineConf holds tunable concurrency settings for the dispatch host.
// A single dispatch always runs sequentially; these only bound how many
// events are in flight at once.
type EngineConf struct {
	EventWorkers   int `yaml:"event_workers"`
	QueueDepth     int `yaml:"queue_depth"`
	EventTimeoutMs int `yaml:"event_timeout_ms"`
}

// DispatchConfig drives one dispatch: which fields are captured into the
// notification payload, how the subscription target is resolved, and how
// messages are rendered. Immutable for the duration of a dispatch.
type DispatchConfig struct {
	// CapturedFields limits which changed fields are recorded in the
	// notification payload. Nil means all fields.
	CapturedFields []string `yaml:"captured_fields"`

	// ParentLookup names the lookup field pointing at the record that
	// subscriptions are anchored to. Empty means subscriptions target
	// the changed record itself.
	ParentLookup string `yaml:"parent_lookup"`

	// SubscriptionLookup names the subscription field holding the
	// target record's id.
	SubscriptionLookup string `yaml:"subscription_lookup"`

	// NotificationLookup names the notification field that receives the
	// target reference.
	NotificationLookup string `yaml:"notification_lookup"`

	// NotifyCurrentUser controls whether the acting user's own
	// subscriptions produce notifications.
	NotifyCurrentUser bool `yaml:"notify_current_user"`

	// Condition is an optional gating expression. Empty always passes.
	Condition string `yaml:"condition"`

	// LocaleTemplates maps locale keys to message templates. The
	// "default" key is the fallback for unmapped locales.
	LocaleTemplates map[string]string `yaml:"locale_templates"`
}

// Template returns the message template for a locale key: the exact key
// if mapped, else the default, else ok=false.
func (c *DispatchConfig) Template(locale string) (string, bool) {
	if tmpl, ok := c.LocaleTemplates[locale]; ok {
		return tmpl, true
	}
	tmpl, ok := c.LocaleTemplates[DefaultLocaleKey]
	return tmpl, ok
}
