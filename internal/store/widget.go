package store

// Widget is the ephemeral UI-facing widget state. It is never persisted.
type Widget struct {
	Open         bool
	Minimized    bool
	ComposingNew bool
}
