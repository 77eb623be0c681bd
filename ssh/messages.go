// Package ssh implements the RFC 4253 transport server that fronts this
// stack's administration channel: banner exchange, curve25519-sha256 key
// exchange with an ed25519 host key, AES-128-GCM encrypted framing,
// password userauth, and a single session channel carrying a shell or the
// ssh/sftp subsystem. It is driven by the tcp package as a tcp.Application
// -- one Transport per accepted connection, queuing replies through
// tcp.Entry.Write the same way any other upper layer would.
package ssh

// Message identifies the first payload byte of an SSH packet (RFC 4253 §12,
// RFC 4252 §6, RFC 4254 §5/§6).
type Message byte

const (
	MsgDisconnect    Message = 1
	MsgIgnore        Message = 2
	MsgUnimplemented Message = 3
	MsgDebug         Message = 4
	MsgServiceReq    Message = 5
	MsgServiceAccept Message = 6

	MsgKexInit Message = 20
	MsgNewKeys Message = 21

	MsgKexECDHInit  Message = 30
	MsgKexECDHReply Message = 31

	MsgUserAuthRequest Message = 50
	MsgUserAuthFailure Message = 51
	MsgUserAuthSuccess Message = 52
	MsgUserAuthBanner  Message = 53

	MsgGlobalRequest  Message = 80
	MsgRequestSuccess Message = 81
	MsgRequestFailure Message = 82

	MsgChannelOpen             Message = 90
	MsgChannelOpenConfirmation Message = 91
	MsgChannelOpenFailure      Message = 92
	MsgChannelWindowAdjust     Message = 93
	MsgChannelData             Message = 94
	MsgChannelExtendedData     Message = 95
	MsgChannelEOF              Message = 96
	MsgChannelClose            Message = 97
	MsgChannelRequest          Message = 98
	MsgChannelSuccess          Message = 99
	MsgChannelFailure          Message = 100
)

func (m Message) String() string {
	switch m {
	case MsgDisconnect:
		return "DISCONNECT"
	case MsgIgnore:
		return "IGNORE"
	case MsgUnimplemented:
		return "UNIMPLEMENTED"
	case MsgDebug:
		return "DEBUG"
	case MsgServiceReq:
		return "SERVICE_REQUEST"
	case MsgServiceAccept:
		return "SERVICE_ACCEPT"
	case MsgKexInit:
		return "KEXINIT"
	case MsgNewKeys:
		return "NEWKEYS"
	case MsgKexECDHInit:
		return "KEX_ECDH_INIT"
	case MsgKexECDHReply:
		return "KEX_ECDH_REPLY"
	case MsgUserAuthRequest:
		return "USERAUTH_REQUEST"
	case MsgUserAuthFailure:
		return "USERAUTH_FAILURE"
	case MsgUserAuthSuccess:
		return "USERAUTH_SUCCESS"
	case MsgUserAuthBanner:
		return "USERAUTH_BANNER"
	case MsgChannelOpen:
		return "CHANNEL_OPEN"
	case MsgChannelOpenConfirmation:
		return "CHANNEL_OPEN_CONFIRMATION"
	case MsgChannelOpenFailure:
		return "CHANNEL_OPEN_FAILURE"
	case MsgChannelWindowAdjust:
		return "CHANNEL_WINDOW_ADJUST"
	case MsgChannelData:
		return "CHANNEL_DATA"
	case MsgChannelEOF:
		return "CHANNEL_EOF"
	case MsgChannelClose:
		return "CHANNEL_CLOSE"
	case MsgChannelRequest:
		return "CHANNEL_REQUEST"
	case MsgChannelSuccess:
		return "CHANNEL_SUCCESS"
	case MsgChannelFailure:
		return "CHANNEL_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Algorithm name strings this server advertises and accepts. Per §4.9 there
// is exactly one supported choice per slot; any KEXINIT negotiation that
// picks something else is a protocol violation.
const (
	AlgoKex         = "curve25519-sha256"
	AlgoHostKey     = "ssh-ed25519"
	AlgoCipher      = "aes128-gcm@openssh.com"
	AlgoMAC         = "none"
	AlgoCompress    = "none"
	ServiceUserAuth = "ssh-userauth"
	ServiceConn     = "ssh-connection"

	AuthMethodNone     = "none"
	AuthMethodPassword = "password"
)

// DisconnectReason mirrors RFC 4253 §11.1. The transport's actual close
// path never sends a DISCONNECT message (closing the TCP connection is
// enough per §4.9's failure semantics); this type exists so tests can
// assert that, and for any future host application that wants to emit one.
type DisconnectReason uint32

const (
	DisconnectProtocolError        DisconnectReason = 2
	DisconnectHostKeyNotVerifiable DisconnectReason = 4
	DisconnectConnectionLost       DisconnectReason = 10
	DisconnectByApplication        DisconnectReason = 11
	DisconnectTooManyConnections   DisconnectReason = 12
	DisconnectAuthCancelledByUser  DisconnectReason = 13
	DisconnectNoMoreAuthMethods    DisconnectReason = 14
	DisconnectIllegalUserName      DisconnectReason = 15
)

// DisconnectPacket is the RFC 4253 §11.1 SSH_MSG_DISCONNECT payload shape,
// kept for completeness/tests per the original's SSHDisconnectPacket.h; the
// transport itself never emits one.
type DisconnectPacket struct {
	Reason      DisconnectReason
	Description string
	Language    string
}
