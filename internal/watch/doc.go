// Package watch reports file changes under a set of directories.
//
// The Watcher uses fsnotify and falls back to polling modification times
// when notifications are unavailable or when Config.Poll is set. Changes
// are debounced and delivered as one batch per quiet period, so an editor
// that writes a file and its backup in quick succession produces a single
// callback.
package watch
