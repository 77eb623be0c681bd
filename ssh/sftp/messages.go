// Package sftp implements a minimal SSH File Transfer Protocol subsystem
// server, wire-compatible with draft-ietf-secsh-filexfer (versions up to 6),
// for mounting under an [ssh.Transport] channel via SubsystemFactory.
//
// Every inbound byte the channel hands this package passes through OnData;
// every reply is written back out through the io.Writer the server was
// constructed with (typically an ssh.ChannelWriter). The server reassembles
// SFTP's own {length, type, payload} framing out of a fixed-size FIFO the
// same way [ssh.Transport] reassembles SSH packets out of TCP segments, with
// one exception: a WRITE request too large to fit in the FIFO is streamed straight to the filesystem adapter in whatever chunks
// arrive, rather than ever being fully buffered.
package sftp

// Packet type byte, draft-ietf-secsh-filexfer-13 §3.
const (
	msgInit     = 1
	msgVersion  = 2
	msgOpen     = 3
	msgClose    = 4
	msgRead     = 5
	msgWrite    = 6
	msgLstat    = 7
	msgFstat    = 8
	msgSetstat  = 9
	msgFsetstat = 10
	msgOpendir  = 11
	msgReaddir  = 12
	msgRemove   = 13
	msgMkdir    = 14
	msgRmdir    = 15
	msgRealpath = 16
	msgStat     = 17
	msgRename   = 18
	msgReadlink = 19
	msgSymlink  = 20

	msgStatus  = 101
	msgHandle  = 102
	msgData    = 103
	msgName    = 104
	msgAttrs   = 105
	msgExtend  = 200
	msgExtendR = 201
)

// Status codes, §9.1. This server only ever returns a handful of these;
// the rest exist so callers reading wire captures can name every value.
const (
	statusOK               = 0
	statusEOF              = 1
	statusNoSuchFile       = 2
	statusPermissionDenied = 3
	statusFailure          = 4
	statusBadMessage       = 5
	statusOPUnsupported    = 8
)

// Open flags, §6.3. This server treats these as the v3 bit flags
// regardless of the negotiated protocol version: a minimal server has no
// use for v4+'s richer ACE-based access-mask encoding, and every real-world
// SFTP client still sets these bits for backward compatibility.
const (
	flagRead   = 0x01
	flagWrite  = 0x02
	flagAppend = 0x04
	flagCreat  = 0x08
	flagTrunc  = 0x10
	flagExcl   = 0x20
)

// Attribute flag bits, §7.
const (
	attrSize        = 0x00000001
	attrPermissions = 0x00000004
)

// protocolVersion is the highest version this server speaks. The server
// negotiates down to the client's INIT version when it asks for less.
const protocolVersion = 6
