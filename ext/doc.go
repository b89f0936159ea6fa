// Package ext defines the extension system for syncforge.
// Extensions are notified of lifecycle events (task submitted, completed,
// orphaned, content saved, etc.) and can react to them — logging, metrics,
// or the surrounding platform's REST surface.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext
