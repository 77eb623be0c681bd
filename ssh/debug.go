package ssh

import (
	"context"
	"log/slog"

	"github.com/rs/xid"
	"github.com/soypat/tinystack/internal"
)

func (t *Transport) logenabled(lvl slog.Level) bool {
	return internal.HeapAllocDebugging || (t.log != nil && t.log.Handler().Enabled(context.Background(), lvl))
}

func (t *Transport) logattrs(lvl slog.Level, msg string, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("session", t.sessionTag.String()))
	internal.LogAttrs(t.log, lvl, msg, attrs...)
}

func (t *Transport) debug(msg string, attrs ...slog.Attr) {
	t.logattrs(slog.LevelDebug, msg, attrs...)
}

func (t *Transport) logerr(msg string, attrs ...slog.Attr) {
	t.logattrs(slog.LevelError, msg, attrs...)
}

// SetLogger attaches a structured logger to this connection. Every log
// line carries a "session" attribute: an [xid.ID] minted once per
// Reset, the way a real sshd tags its per-connection syslog lines so an
// operator can correlate a handshake failure with the subsystem activity
// that followed it.
func (t *Transport) SetLogger(log *slog.Logger) {
	t.log = log
}
