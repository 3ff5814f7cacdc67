// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "fmt"

// ConfigError is fatal and aborts a run before any item is processed.
type ConfigError struct {
	Key string
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Key != "" && e.Err != nil:
		return fmt.Sprintf("config %s: %s: %v", e.Key, e.Msg, e.Err)
	case e.Key != "":
		return fmt.Sprintf("config %s: %s", e.Key, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("config: %s: %v", e.Msg, e.Err)
	default:
		return "config: " + e.Msg
	}
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}
