package ssh

import (
	"encoding/binary"
	"errors"
	"log/slog"

	"github.com/rs/xid"
	"github.com/soypat/tinystack/crypto"
	"github.com/soypat/tinystack/internal"
	"github.com/soypat/tinystack/tcp"
)

// state names the six stages of one connection's RFC 4253/4252/4254
// handshake, in the order a connection moves through them. There is no
// rekeying: once Authenticated, a connection stays there until closed.
type state uint8

const (
	stateBannerSent      state = iota // our banner sent; waiting for the client's banner line.
	stateKexInitSent                  // our KEXINIT sent; waiting for the client's KEXINIT.
	stateKexEcdhInitSent              // KEXINIT negotiated; waiting for the client's KEX_ECDH_INIT.
	stateUnauthenticated              // kex done; waiting for NEWKEYS then SERVICE_REQUEST.
	stateAuthBegin                    // service accepted; waiting for USERAUTH_REQUEST attempts.
	stateAuthenticated                // waiting for CHANNEL_OPEN/REQUEST/DATA/CLOSE.
)

const (
	serverVersionString = "SSH-2.0-tinystack_1.0"
	serverBanner        = serverVersionString + "\r\n"

	rxFIFOSize    = 16896 // room for one full SSH_MSG_CHANNEL_DATA at maxPacketSize plus framing.
	outScratchCap = 2048  // every control-plane message this server sends fits comfortably.
)

var (
	errProtocol        = errors.New("ssh: protocol error")
	errUnexpectedMsg   = errors.New("ssh: unexpected message for current state")
	errTooManyAttempts = errors.New("ssh: too many failed authentication attempts")
)

// Transport drives one accepted TCP connection through the SSH transport,
// userauth, and connection protocols. It implements [tcp.Application]:
// the owning listener constructs one Transport per [tcp.Entry] and calls
// Reset before handing it to [tcp.Server.Listen], or keeps a small pool
// and Resets on reuse.
type Transport struct {
	eng crypto.Engine

	rxbuf [rxFIFOSize]byte
	rx    internal.CircularFIFO

	st          state
	rxEncrypted bool

	cookie        [16]byte
	clientVersion string

	// clientKexInitBuf/serverKexInitBuf hold each side's full KEXINIT
	// packet (message type byte plus payload) for as long as the
	// exchange hash needs them, in fixed storage rather than a heap
	// slice -- namelists of a single-algorithm server never approach
	// this size. kexInitView slices the filled portion.
	clientKexInitBuf [160]byte
	clientKexInitLen int
	serverKexInitBuf [160]byte
	serverKexInitLen int

	sessionID [32]byte

	authAttempts int
	username     string

	channelOpen  bool
	localChanID  uint32
	remoteChanID uint32
	remoteWindow uint32
	remoteMaxPkt uint32
	session      Session

	entry      *tcp.Entry
	log        *slog.Logger
	sessionTag xid.ID

	// Auth, Shell and Subsystem are the platform capabilities this
	// connection consults; Shell and Subsystem may be nil to refuse
	// the corresponding channel requests.
	Auth      PasswordAuthenticator
	Shell     ShellFactory
	Subsystem SubsystemFactory
}

// Reset prepares t for a new connection, clearing all per-connection
// cryptographic and protocol state. The platform capabilities (Auth,
// Shell, Subsystem) are left untouched so a pooled Transport can be
// reused across connections without re-wiring them.
func (t *Transport) Reset() {
	t.eng.Clear()
	t.rx = internal.NewCircularFIFO(t.rxbuf[:])
	t.st = stateBannerSent
	t.rxEncrypted = false
	t.clientVersion = ""
	t.clientKexInitLen = 0
	t.serverKexInitLen = 0
	t.sessionID = [32]byte{}
	t.authAttempts = 0
	t.username = ""
	t.channelOpen = false
	t.session = nil
	t.entry = nil
	t.sessionTag = xid.New()
}

// OnAccept implements [tcp.Application]: it sends this server's
// identification banner (§4.9 step 1) and always accepts.
func (t *Transport) OnAccept(e *tcp.Entry) bool {
	t.Reset()
	t.entry = e
	ip, port := e.RemoteAddr()
	t.debug("ssh: accepted", slog.Any("remote", ip), slog.Uint64("port", uint64(port)))
	e.Write([]byte(serverBanner))
	return true
}

// OnClose implements [tcp.Application].
func (t *Transport) OnClose(e *tcp.Entry) {
	t.debug("ssh: closed", slog.String("state", t.stateName()))
	if t.session != nil {
		t.session.Close()
		t.session = nil
	}
}

func (t *Transport) stateName() string {
	switch t.st {
	case stateBannerSent:
		return "BannerSent"
	case stateKexInitSent:
		return "KexInitSent"
	case stateKexEcdhInitSent:
		return "KexEcdhInitSent"
	case stateUnauthenticated:
		return "Unauthenticated"
	case stateAuthBegin:
		return "AuthBegin"
	case stateAuthenticated:
		return "Authenticated"
	default:
		return "unknown"
	}
}

// OnRecv implements [tcp.Application]: it feeds newly arrived bytes into
// the reassembly FIFO and processes as many complete banner lines or
// packets as are now available, dispatching each to the handler for the
// connection's current state. Any protocol violation returns a non-nil
// error, which the caller (tcp.Server) turns into a connection reset --
// matching §4.9's "any protocol error... closes the TCP connection
// without sending a DISCONNECT" failure semantics.
func (t *Transport) OnRecv(e *tcp.Entry, payload []byte) error {
	t.entry = e
	if err := t.rx.Push(payload); err != nil {
		return err
	}
	for {
		progressed, err := t.step()
		if err != nil {
			return err
		}
		if !progressed {
			return nil
		}
	}
}

// step consumes at most one line or packet from the rx FIFO and drives
// the state machine forward by one event. It returns progressed=false
// when the FIFO does not yet hold a complete unit for the current state.
func (t *Transport) step() (progressed bool, err error) {
	switch t.st {
	case stateBannerSent:
		return t.stepBanner()
	case stateUnauthenticated:
		if !t.rxEncrypted {
			return t.stepClientNewKeys()
		}
		return t.stepServiceRequest()
	default:
		return t.stepPacket()
	}
}

// stepBanner implements §4.9 step 1's client side: accumulate until a
// '\n', validate the SSH-2.0 prefix, record the client's banner (without
// CRLF) for the exchange hash, then move to KexInitSent by sending our
// KEXINIT.
func (t *Transport) stepBanner() (bool, error) {
	var scan [256]byte
	n := t.rx.Peek(scan[:])
	nl := -1
	for i := 0; i < n; i++ {
		if scan[i] == '\n' {
			nl = i
			break
		}
	}
	if nl < 0 {
		if n >= len(scan) {
			return false, errProtocol // line too long without a terminator.
		}
		return false, nil
	}
	line := scan[:nl]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	if err := t.rx.Pop(nl + 1); err != nil {
		return false, err
	}
	if len(line) < 7 || string(line[:7]) != "SSH-2.0" {
		return false, errProtocol
	}
	t.clientVersion = string(line)

	if err := t.eng.GenerateRandom(t.cookie[:]); err != nil {
		return false, err
	}
	t.serverKexInitBuf[0] = byte(MsgKexInit)
	kexPayload := EncodeKexInit(t.serverKexInitBuf[1:1], t.cookie)
	t.serverKexInitLen = 1 + len(kexPayload)

	if err := t.sendPlaintext(MsgKexInit, kexPayload); err != nil {
		return false, err
	}
	t.st = stateKexInitSent
	return true, nil
}

// stepPacket decodes one plaintext or encrypted packet (depending on
// t.rxEncrypted) from the front of the rx FIFO and dispatches it by
// current state. It returns progressed=false if a complete packet is not
// yet buffered.
func (t *Transport) stepPacket() (bool, error) {
	msg, payload, consumed, err := t.decodeOne()
	if err != nil {
		return false, err
	}
	if consumed == 0 {
		return false, nil
	}
	if msg == MsgIgnore {
		return true, t.rx.Pop(consumed)
	}
	switch t.st {
	case stateKexInitSent:
		err = t.handleKexInit(msg, payload)
	case stateKexEcdhInitSent:
		err = t.handleKexECDHInit(msg, payload)
	case stateAuthBegin:
		err = t.handleUserAuthRequest(msg, payload)
	case stateAuthenticated:
		err = t.handleConnectionMessage(msg, payload)
	default:
		err = errUnexpectedMsg
	}
	if err != nil {
		return false, err
	}
	return true, t.rx.Pop(consumed)
}

// decodeOne peeks a contiguous view of the unread rx bytes (rewinding the
// FIFO to a contiguous layout if necessary) and parses one packet from
// it, without advancing the FIFO's read pointer -- callers pop exactly
// `consumed` bytes once the packet has been fully handled, so a
// handler error leaves the FIFO positioned at the start of the offending
// packet.
func (t *Transport) decodeOne() (msg Message, payload []byte, consumed int, err error) {
	buf := t.rx.Rewind()
	if t.rxEncrypted {
		return DecodeEncrypted(buf, &t.eng)
	}
	return DecodePlaintext(buf)
}

// handleKexInit implements §4.9 step 2.
func (t *Transport) handleKexInit(msg Message, payload []byte) error {
	if msg != MsgKexInit {
		return errUnexpectedMsg
	}
	parsed, err := ParseKexInit(payload)
	if err != nil {
		return err
	}
	if err := parsed.Negotiate(); err != nil {
		return err
	}
	if parsed.firstKexPacketFollows {
		return errProtocol // guessed kex packets are never valid against a single-algorithm server.
	}
	if 1+len(payload) > len(t.clientKexInitBuf) {
		return errProtocol // client namelists far exceed what any real single-algorithm negotiation needs.
	}
	t.clientKexInitBuf[0] = byte(MsgKexInit)
	t.clientKexInitLen = 1 + copy(t.clientKexInitBuf[1:], payload)
	t.st = stateKexEcdhInitSent
	return nil
}

// handleKexECDHInit implements §4.9 step 3: ephemeral keypair generation,
// shared secret, exchange hash H (== the session identifier, since this
// server never rekeys), ECDH_REPLY, key derivation, and the server's
// NEWKEYS.
func (t *Transport) handleKexECDHInit(msg Message, payload []byte) error {
	if msg != MsgKexECDHInit {
		return errUnexpectedMsg
	}
	clientPub, err := readString32(payload)
	if err != nil || len(clientPub) != 32 {
		return errProtocol
	}
	var clientECDHPub [32]byte
	copy(clientECDHPub[:], clientPub)

	serverECDHPub, err := t.eng.GenerateX25519KeyPair()
	if err != nil {
		return err
	}
	shared, err := t.eng.SharedSecret(clientECDHPub)
	if err != nil {
		return err
	}
	hostPub, ok := crypto.HostPublicKey()
	if !ok {
		return errors.New("ssh: host key not configured")
	}
	hostKeyBlob := encodeEd25519HostKeyBlob(hostPub)

	var hashArr [768]byte
	hashBuf := appendHashInput(hashArr[:0], exchangeHashInput{
		clientVersion: t.clientVersion,
		serverVersion: serverVersionString,
		clientKexInit: t.clientKexInitBuf[:t.clientKexInitLen],
		serverKexInit: t.serverKexInitBuf[:t.serverKexInitLen],
		serverHostKey: hostKeyBlob,
		clientECDHPub: clientECDHPub,
		serverECDHPub: serverECDHPub,
	})
	hashBuf = encodeMPInt(hashBuf, shared)
	t.eng.SHA256Init()
	t.eng.SHA256Update(hashBuf)
	H := t.eng.SHA256Final()
	t.sessionID = H
	t.debug("ssh: kex complete", slog.String("client_version", t.clientVersion))

	sig, err := crypto.SignExchangeHash(H)
	if err != nil {
		return err
	}
	sigBlob := encodeEd25519Signature(sig)

	var replyBuf [512]byte
	reply := replyBuf[:0]
	reply = appendBytes(reply, hostKeyBlob)
	reply = appendBytes(reply, serverECDHPub[:])
	reply = appendBytes(reply, sigBlob)
	if err := t.sendPlaintext(MsgKexECDHReply, reply); err != nil {
		return err
	}

	t.eng.DeriveSessionKeys(shared, H, t.sessionID)

	if err := t.sendPlaintext(MsgNewKeys, nil); err != nil {
		return err
	}
	t.st = stateUnauthenticated
	return nil
}

// stepClientNewKeys implements §4.9 step 4's client-to-server half: the
// client's NEWKEYS still arrives in plaintext (it is the last
// unencrypted packet), after which every subsequent inbound packet is
// GCM-protected.
func (t *Transport) stepClientNewKeys() (bool, error) {
	msg, payload, consumed, err := t.decodeOne()
	if err != nil {
		return false, err
	}
	if consumed == 0 {
		return false, nil
	}
	if msg != MsgNewKeys || len(payload) != 0 {
		return false, errUnexpectedMsg
	}
	if err := t.rx.Pop(consumed); err != nil {
		return false, err
	}
	t.rxEncrypted = true
	return true, nil
}

// stepServiceRequest implements §4.9 step 5.
func (t *Transport) stepServiceRequest() (bool, error) {
	msg, payload, consumed, err := t.decodeOne()
	if err != nil {
		return false, err
	}
	if consumed == 0 {
		return false, nil
	}
	if msg == MsgIgnore {
		return true, t.rx.Pop(consumed)
	}
	if msg != MsgServiceReq {
		return false, errUnexpectedMsg
	}
	name, err := readString32(payload)
	if err != nil || string(name) != ServiceUserAuth {
		return false, errProtocol
	}
	var svcBuf [16]byte
	if err := t.sendEncrypted(MsgServiceAccept, appendString(svcBuf[:0], ServiceUserAuth)); err != nil {
		return false, err
	}
	if err := t.rx.Pop(consumed); err != nil {
		return false, err
	}
	t.st = stateAuthBegin
	return true, nil
}

// handleUserAuthRequest implements §4.9 step 6.
func (t *Transport) handleUserAuthRequest(msg Message, payload []byte) error {
	if msg != MsgUserAuthRequest {
		return errUnexpectedMsg
	}
	username, rest, err := readString32Rest(payload)
	if err != nil {
		return err
	}
	service, rest, err := readString32Rest(rest)
	if err != nil || string(service) != ServiceConn {
		return errProtocol
	}
	method, rest, err := readString32Rest(rest)
	if err != nil {
		return err
	}
	t.username = string(username)

	if string(method) == AuthMethodPassword {
		if len(rest) < 1 {
			return errProtocol
		}
		rest = rest[1:] // boolean change_password, ignored: this server never supports it.
		password, _, err := readString32Rest(rest)
		if err != nil {
			return err
		}
		if t.Auth != nil && t.Auth.Authenticate(t.username, string(password)) {
			if err := t.sendEncrypted(MsgUserAuthSuccess, nil); err != nil {
				return err
			}
			t.debug("ssh: authenticated", slog.String("user", t.username))
			t.st = stateAuthenticated
			return nil
		}
	}
	return t.failAuth()
}

func (t *Transport) failAuth() error {
	t.authAttempts++
	t.logerr("ssh: auth failed", slog.String("user", t.username), slog.Int("attempt", t.authAttempts))
	if t.authAttempts > maxAuthAttempts {
		return errTooManyAttempts
	}
	var buf [64]byte
	body := appendString(buf[:0], AuthMethodPassword)
	body = append(body, 0) // partial_success = false.
	return t.sendEncrypted(MsgUserAuthFailure, body)
}

// handleConnectionMessage implements §4.9 step 7's channel dispatch.
func (t *Transport) handleConnectionMessage(msg Message, payload []byte) error {
	switch msg {
	case MsgChannelOpen:
		return t.handleChannelOpen(payload)
	case MsgChannelRequest:
		return t.handleChannelRequest(payload)
	case MsgChannelData:
		return t.handleChannelData(payload)
	case MsgChannelWindowAdjust:
		return nil // this server's own sends are small enough to never need remote window replenishment tracking.
	case MsgChannelEOF:
		return nil
	case MsgChannelClose:
		return t.handleChannelClose()
	default:
		return nil // unrecognized connection-protocol messages are ignored, not fatal.
	}
}

func (t *Transport) handleChannelOpen(payload []byte) error {
	channelType, rest, err := readString32Rest(payload)
	if err != nil {
		return err
	}
	remoteID, rest, err := readUint32Rest(rest)
	if err != nil {
		return err
	}
	remoteWindow, rest, err := readUint32Rest(rest)
	if err != nil {
		return err
	}
	remoteMaxPkt, _, err := readUint32Rest(rest)
	if err != nil {
		return err
	}
	if string(channelType) != "session" || t.channelOpen {
		return t.sendChannelOpenFailure(remoteID)
	}
	t.channelOpen = true
	t.localChanID = 0
	t.remoteChanID = remoteID
	t.remoteWindow = remoteWindow
	t.remoteMaxPkt = remoteMaxPkt

	var buf [32]byte
	body := buf[:0]
	body = binary.BigEndian.AppendUint32(body, t.remoteChanID)
	body = binary.BigEndian.AppendUint32(body, t.localChanID)
	body = binary.BigEndian.AppendUint32(body, initialWindowSize)
	body = binary.BigEndian.AppendUint32(body, maxPacketSize)
	return t.sendEncrypted(MsgChannelOpenConfirmation, body)
}

func (t *Transport) sendChannelOpenFailure(remoteID uint32) error {
	var buf [64]byte
	body := buf[:0]
	body = binary.BigEndian.AppendUint32(body, remoteID)
	body = binary.BigEndian.AppendUint32(body, 2) // SSH_OPEN_CONNECT_FAILED.
	body = appendString(body, "channel refused")
	body = appendString(body, "")
	return t.sendEncrypted(MsgChannelOpenFailure, body)
}

func (t *Transport) handleChannelRequest(payload []byte) error {
	if !t.channelOpen {
		return nil
	}
	_, rest, err := readUint32Rest(payload) // recipient channel, always 0 here.
	if err != nil {
		return err
	}
	reqType, rest, err := readString32Rest(rest)
	if err != nil {
		return err
	}
	if len(rest) < 1 {
		return errProtocol
	}
	wantReply := rest[0] != 0
	rest = rest[1:]

	var sessErr error
	switch string(reqType) {
	case "shell":
		if t.Shell != nil {
			t.session, sessErr = t.Shell(ChannelWriter{t}, "")
		} else {
			sessErr = errors.New("ssh: no shell configured")
		}
	case "exec":
		cmd, _, err := readString32Rest(rest)
		if err != nil {
			sessErr = err
		} else if t.Shell != nil {
			t.session, sessErr = t.Shell(ChannelWriter{t}, string(cmd))
		} else {
			sessErr = errors.New("ssh: no shell configured")
		}
	case "subsystem":
		name, _, err := readString32Rest(rest)
		if err != nil {
			sessErr = err
		} else if t.Subsystem != nil {
			t.session, sessErr = t.Subsystem(ChannelWriter{t}, string(name))
		} else {
			sessErr = errors.New("ssh: no subsystem handler configured")
		}
	case "pty-req", "env":
		// Accepted as no-ops: this server's shell/exec sessions don't need
		// a pty or forwarded environment to function.
	default:
		sessErr = errors.New("ssh: unsupported channel request " + string(reqType))
	}

	if !wantReply {
		return nil
	}
	var idBuf [4]byte
	if sessErr != nil {
		return t.sendEncrypted(MsgChannelFailure, binary.BigEndian.AppendUint32(idBuf[:0], t.remoteChanID))
	}
	return t.sendEncrypted(MsgChannelSuccess, binary.BigEndian.AppendUint32(idBuf[:0], t.remoteChanID))
}

func (t *Transport) handleChannelData(payload []byte) error {
	if !t.channelOpen {
		return nil
	}
	_, rest, err := readUint32Rest(payload)
	if err != nil {
		return err
	}
	data, _, err := readString32Rest(rest)
	if err != nil {
		return err
	}
	if t.session == nil {
		return nil
	}
	return t.session.OnData(data)
}

func (t *Transport) handleChannelClose() error {
	if !t.channelOpen {
		return nil
	}
	if t.session != nil {
		t.session.Close()
		t.session = nil
	}
	t.channelOpen = false
	var idBuf [4]byte
	return t.sendEncrypted(MsgChannelClose, binary.BigEndian.AppendUint32(idBuf[:0], t.remoteChanID))
}

// sendChannelData frames p as one SSH_MSG_CHANNEL_DATA message. Callers
// (see [ChannelWriter]) are responsible for chunking p to the peer's
// advertised maximum packet size first.
func (t *Transport) sendChannelData(p []byte) error {
	var buf [maxPacketSize + 16]byte
	body := buf[:0]
	body = binary.BigEndian.AppendUint32(body, t.remoteChanID)
	body = appendBytes(body, p)
	return t.sendEncrypted(MsgChannelData, body)
}

// sendPlaintext encodes and queues an unencrypted packet, used only
// before NEWKEYS activates the ciphers.
func (t *Transport) sendPlaintext(msg Message, payload []byte) error {
	var buf [outScratchCap]byte
	out, err := EncodePlaintext(buf[:], msg, payload, t.eng.GenerateRandom)
	if err != nil {
		return err
	}
	_, err = t.entry.Write(out)
	return err
}

// sendEncrypted encodes and queues a GCM-protected packet using this
// connection's server-to-client keys.
func (t *Transport) sendEncrypted(msg Message, payload []byte) error {
	var buf [maxPacketSize + 64]byte
	out, err := EncodeEncrypted(buf[:], &t.eng, msg, payload, t.eng.GenerateRandom)
	if err != nil {
		return err
	}
	_, err = t.entry.Write(out)
	return err
}

func readUint32Rest(buf []byte) (v uint32, rest []byte, err error) {
	if len(buf) < 4 {
		return 0, nil, errShortField
	}
	return binary.BigEndian.Uint32(buf[0:4]), buf[4:], nil
}

func readString32(buf []byte) ([]byte, error) {
	s, _, err := readString32Rest(buf)
	return s, err
}

func readString32Rest(buf []byte) (s []byte, rest []byte, err error) {
	if len(buf) < 4 {
		return nil, nil, errShortField
	}
	n := binary.BigEndian.Uint32(buf[0:4])
	if uint32(len(buf)-4) < n {
		return nil, nil, errShortField
	}
	return buf[4 : 4+n], buf[4+n:], nil
}

var _ tcp.Application = (*Transport)(nil)
