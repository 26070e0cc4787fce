// Package localdelegate is cmd/sessionctl's own domain.SessionDelegate and
// domain.EventReceiver: the thin application policy layer every hook
// method exists to let an app plug in. It keeps a Contact record
// per peer secretName, folds inbound friendship-state-change requests
// through internal/friendship, and logs every notification via slog so a
// pump run shows what the engine did.
package localdelegate
