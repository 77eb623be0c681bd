package ssh

import "errors"

// Channel flow-control constants, RFC 4254 §5.1/§5.2. This server only
// ever opens one channel per connection (the single administration
// session), so it advertises a generous fixed window rather than
// implementing adjust-on-demand bookkeeping for multiple channels.
// maxPacketSize is deliberately well under the per-connection outbound
// TCP buffer (4096 bytes, see tcp.Entry): every CHANNEL_DATA message this
// server emits must fit, along with its SSH framing overhead, in the
// single FIFO flush that happens within one inbound segment's processing.
const (
	initialWindowSize = 1 << 20
	maxPacketSize     = 1024
)

var errChannelClosed = errors.New("ssh: no open channel")

// Session is the capability a channel request hands control to once the
// client asks for a shell, an exec command, or the sftp subsystem.
// Implementations receive raw CHANNEL_DATA bytes via OnData and may write
// output back at any time through the ChannelWriter they were
// constructed with.
type Session interface {
	OnData(data []byte) error
	Close()
}

// ShellFactory constructs a Session for a "shell" (command == "") or
// "exec" (command holds the requested command line) channel request.
type ShellFactory func(w ChannelWriter, command string) (Session, error)

// SubsystemFactory constructs a Session for a "subsystem" channel
// request naming a subsystem (this server recognizes "sftp" only).
type SubsystemFactory func(w ChannelWriter, name string) (Session, error)

// ChannelWriter adapts the connection's single open channel into an
// io.Writer-like sink: every Write is framed as one CHANNEL_DATA message
// (split across multiple messages if it would exceed the peer's
// advertised maxPacketSize) and queued on the owning Transport.
type ChannelWriter struct {
	t *Transport
}

// Write implements io.Writer, chunking p into CHANNEL_DATA messages no
// larger than the remote's negotiated maximum packet size.
func (w ChannelWriter) Write(p []byte) (int, error) {
	if w.t == nil || !w.t.channelOpen {
		return 0, errChannelClosed
	}
	limit := uint32(maxPacketSize)
	if w.t.remoteMaxPkt != 0 && w.t.remoteMaxPkt < limit {
		limit = w.t.remoteMaxPkt
	}
	total := 0
	for len(p) > 0 {
		chunk := p
		if uint32(len(chunk)) > limit {
			chunk = chunk[:limit]
		}
		if err := w.t.sendChannelData(chunk); err != nil {
			return total, err
		}
		total += len(chunk)
		p = p[len(chunk):]
	}
	return total, nil
}
