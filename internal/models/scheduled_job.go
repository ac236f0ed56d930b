package models

// ScheduledJob is a recurring background job run by the scheduler.
type ScheduledJob struct {
	Name           string         `json:"name" yaml:"name" mapstructure:"name"`
	Slug           string         `json:"slug" yaml:"slug" mapstructure:"slug"`
	Handler        string         `json:"handler" yaml:"handler" mapstructure:"handler"`
	Schedule       string         `json:"schedule" yaml:"schedule" mapstructure:"schedule"`
	TimeoutSeconds int            `json:"timeout_seconds" yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
	Config         map[string]any `json:"config,omitempty" yaml:"config" mapstructure:"config"`
}
