package common

import "time"

const (
	DefaultRequestTimeout = 10 * time.Second

	// DefaultPromptTimeout outlasts the device's default 30s prompt budget.
	DefaultPromptTimeout = 45 * time.Second

	// appClassBaking is the class byte reported by a baking firmware.
	appClassBaking = 1
)
