package sftp

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/soypat/tinystack/internal"
)

// ErrNoSuchFile and ErrPermissionDenied let a [FileSystem] implementation
// name the two client-visible failure modes this server maps to specific
// SFTP status codes; any other error from a FileSystem method becomes a
// generic SSH_FX_FAILURE.
var (
	ErrNoSuchFile       = errors.New("sftp: no such file")
	ErrPermissionDenied = errors.New("sftp: permission denied")
)

var (
	errShortPacket  = errors.New("sftp: truncated packet")
	errHugeNonWrite = errors.New("sftp: oversized request on non-WRITE type")
)

// fifoSize bounds how large a single SFTP control packet (INIT, OPEN,
// STAT, CLOSE, FSETSTAT, and a WRITE request's own header before its
// data) may be before this server gives up reassembling it. A WRITE
// packet too large to fit (its declared length plus the 4-byte length
// field exceeds fifoSize) is not an error: it switches the
// connection into huge-write streaming, §4.10.
const fifoSize = 2048

// Server is a single connection's SFTP subsystem state. It implements
// [ssh.Session] structurally (OnData, Close) without importing package
// ssh, so the subsystem factory that constructs one is the only place
// that needs to know about both packages.
type Server struct {
	rx    internal.CircularFIFO
	rxbuf [fifoSize]byte
	w     io.Writer
	fs    FileSystem

	version uint32

	hugeActive    bool
	hugeID        uint32
	hugeHandle    uint32
	hugeOffset    uint64
	hugeRemaining uint32
}

// NewServer constructs an SFTP subsystem server that writes replies to w
// and serves requests against fs.
func NewServer(w io.Writer, fs FileSystem) *Server {
	s := &Server{w: w, fs: fs}
	s.rx = internal.NewCircularFIFO(s.rxbuf[:])
	return s
}

// Close implements ssh.Session. An SFTP subsystem has no per-connection
// resource of its own to release; open file handles are the
// [FileSystem] implementation's responsibility.
func (s *Server) Close() {}

// OnData implements ssh.Session, feeding channel bytes into the
// reassembly FIFO (or, mid huge-write, straight to the filesystem) and
// draining every complete packet it can.
func (s *Server) OnData(data []byte) error {
	if s.hugeActive {
		return s.feedHuge(data)
	}
	if err := s.rx.Push(data); err != nil {
		return err
	}
	for {
		progressed, err := s.step()
		if err != nil {
			return err
		}
		if !progressed || s.hugeActive {
			return nil
		}
	}
}

// step attempts to consume exactly one SFTP packet (or, for an
// oversized WRITE, to enter huge-write mode) from the FIFO. It reports
// progressed=false when more bytes are needed before it can do either.
func (s *Server) step() (progressed bool, err error) {
	var hdr [5]byte
	n := s.rx.Peek(hdr[:])
	if n < 5 {
		return false, nil
	}
	length := binary.BigEndian.Uint32(hdr[0:4])
	typ := hdr[4]
	if 4+int(length) > len(s.rxbuf) {
		if typ != msgWrite {
			return false, errHugeNonWrite
		}
		return s.beginHugeWrite()
	}
	total := 4 + int(length)
	if s.rx.ReadSize() < total {
		return false, nil
	}
	var body [fifoSize]byte
	got := s.rx.Peek(body[:total])
	if err := s.rx.Pop(total); err != nil {
		return false, err
	}
	return true, s.dispatch(typ, body[5:got])
}

// dispatch handles one fully-buffered packet's payload (after its
// length and type bytes).
func (s *Server) dispatch(typ byte, payload []byte) error {
	switch typ {
	case msgInit:
		return s.handleInit(payload)
	case msgStat:
		return s.handleStat(payload, true)
	case msgLstat:
		return s.handleStat(payload, false)
	case msgOpen:
		return s.handleOpen(payload)
	case msgClose:
		return s.handleClose(payload)
	case msgWrite:
		return s.handleWrite(payload)
	case msgFsetstat:
		return s.handleFsetstat(payload)
	default:
		id, _, err := readUint32(payload)
		if err != nil {
			return errShortPacket
		}
		return s.sendStatus(id, statusOPUnsupported, "operation not supported")
	}
}

func (s *Server) handleInit(payload []byte) error {
	clientVersion, _, err := readUint32(payload)
	if err != nil {
		return err
	}
	s.version = protocolVersion
	if clientVersion < s.version {
		s.version = clientVersion
	}
	var buf [5]byte
	binary.BigEndian.PutUint32(buf[1:5], s.version)
	buf[0] = msgVersion
	return s.send(buf[:])
}

func (s *Server) handleStat(payload []byte, followSymlink bool) error {
	id, rest, err := readUint32(payload)
	if err != nil {
		return err
	}
	path, _, err := readString32(rest)
	if err != nil {
		return err
	}
	attrs, err := s.fs.Stat(path, followSymlink)
	if err != nil {
		return s.sendStatus(id, statusFor(err), err.Error())
	}
	return s.sendAttrs(id, attrs)
}

func (s *Server) handleOpen(payload []byte) error {
	id, rest, err := readUint32(payload)
	if err != nil {
		return err
	}
	path, rest, err := readString32(rest)
	if err != nil {
		return err
	}
	flags, _, err := readUint32(rest)
	if err != nil {
		return err
	}
	if !s.fs.Exists(path) && flags&flagCreat == 0 {
		return s.sendStatus(id, statusNoSuchFile, "no such file")
	}
	if !s.fs.CanOpen(path, flags) {
		return s.sendStatus(id, statusPermissionDenied, "permission denied")
	}
	handle, err := s.fs.Open(path, flags)
	if err != nil {
		return s.sendStatus(id, statusFor(err), err.Error())
	}
	return s.sendHandle(id, handle)
}

func (s *Server) handleClose(payload []byte) error {
	id, rest, err := readUint32(payload)
	if err != nil {
		return err
	}
	handleStr, _, err := readString32(rest)
	if err != nil {
		return err
	}
	handle, err := decodeHandle(handleStr)
	if err != nil {
		return s.sendStatus(id, statusBadMessage, "bad handle")
	}
	if err := s.fs.Close(handle); err != nil {
		return s.sendStatus(id, statusFor(err), err.Error())
	}
	return s.sendStatus(id, statusOK, "")
}

// handleWrite serves a WRITE request small enough to have been fully
// reassembled in the FIFO already -- the common case. A WRITE whose
// declared length would not fit never reaches here; it is diverted to
// huge-write streaming by step before dispatch is called.
func (s *Server) handleWrite(payload []byte) error {
	id, rest, err := readUint32(payload)
	if err != nil {
		return err
	}
	handleStr, rest, err := readString32(rest)
	if err != nil {
		return err
	}
	if len(rest) < 8 {
		return errShortPacket
	}
	offset := binary.BigEndian.Uint64(rest[:8])
	rest = rest[8:]
	data, _, err := readString32(rest)
	if err != nil {
		return err
	}
	handle, err := decodeHandle(handleStr)
	if err != nil {
		return s.sendStatus(id, statusBadMessage, "bad handle")
	}
	if err := s.fs.Write(handle, offset, []byte(data)); err != nil {
		return s.sendStatus(id, statusFor(err), err.Error())
	}
	return s.sendStatus(id, statusOK, "")
}

// handleFsetstat accepts every FSETSTAT request without acting on it:
// §4.10 only requires this server not to reject the request outright,
// since no attribute this server tracks (size, permissions) is
// meaningfully settable by a client of a static administration shell.
func (s *Server) handleFsetstat(payload []byte) error {
	id, _, err := readUint32(payload)
	if err != nil {
		return err
	}
	return s.sendStatus(id, statusOK, "")
}

// beginHugeWrite is called once step has peeked enough of the FIFO to
// see that a WRITE packet cannot fit in fifoSize. It parses the
// fixed-size header fields (id, handle, offset, data length) out of
// whatever is currently buffered, switches the connection into
// huge-write streaming, and immediately drains any data bytes that
// happened to already be sitting in the FIFO alongside the header.
func (s *Server) beginHugeWrite() (bool, error) {
	avail := s.rx.ReadSize()
	var scratch [fifoSize]byte
	got := s.rx.Peek(scratch[:min(avail, len(scratch))])
	buf := scratch[:got]
	if len(buf) < 5 {
		return false, nil
	}
	body := buf[5:]
	id, rest, err := readUint32(body)
	if err != nil {
		return false, nil
	}
	handleStr, rest, err := readString32(rest)
	if err != nil {
		return false, nil
	}
	if len(rest) < 8 {
		return false, nil
	}
	offset := binary.BigEndian.Uint64(rest[:8])
	rest = rest[8:]
	dataLen, rest, err := readUint32(rest)
	if err != nil {
		return false, nil
	}
	handle, err := decodeHandle(handleStr)
	if err != nil {
		return false, s.sendStatus(id, statusBadMessage, "bad handle")
	}
	headerLen := len(buf) - len(rest)
	if err := s.rx.Pop(headerLen); err != nil {
		return false, err
	}
	s.hugeID = id
	s.hugeHandle = handle
	s.hugeOffset = offset
	s.hugeRemaining = dataLen
	s.hugeActive = true
	return true, s.drainHugeFromFIFO()
}

// drainHugeFromFIFO streams whatever WRITE data bytes are already
// sitting in the FIFO (buffered alongside the header before huge mode
// was recognized) to the filesystem, then falls through to feedHuge's
// completion handling once the FIFO is exhausted.
func (s *Server) drainHugeFromFIFO() error {
	for s.rx.ReadSize() > 0 && s.hugeRemaining > 0 {
		var chunk [512]byte
		want := min(s.rx.ReadSize(), int(s.hugeRemaining), len(chunk))
		got := s.rx.Peek(chunk[:want])
		if err := s.fs.Write(s.hugeHandle, s.hugeOffset, chunk[:got]); err != nil {
			s.hugeActive = false
			return s.sendStatus(s.hugeID, statusFor(err), err.Error())
		}
		s.hugeOffset += uint64(got)
		s.hugeRemaining -= uint32(got)
		if err := s.rx.Pop(got); err != nil {
			return err
		}
	}
	if s.hugeRemaining == 0 {
		s.hugeActive = false
		return s.sendStatus(s.hugeID, statusOK, "")
	}
	return nil
}

// feedHuge streams channel bytes straight to the filesystem while a
// huge WRITE is in progress, bypassing the FIFO entirely. §4.10 asks
// for chunks of at least 64 bytes where the network allows it; this
// server instead forwards exactly the chunks the channel hands it,
// since imposing a minimum would require buffering the very bytes huge
// mode exists to avoid buffering.
func (s *Server) feedHuge(data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if uint32(n) > s.hugeRemaining {
			n = int(s.hugeRemaining)
		}
		if err := s.fs.Write(s.hugeHandle, s.hugeOffset, data[:n]); err != nil {
			s.hugeActive = false
			return s.sendStatus(s.hugeID, statusFor(err), err.Error())
		}
		s.hugeOffset += uint64(n)
		s.hugeRemaining -= uint32(n)
		data = data[n:]
		if s.hugeRemaining == 0 {
			s.hugeActive = false
			if err := s.sendStatus(s.hugeID, statusOK, ""); err != nil {
				return err
			}
			if len(data) > 0 {
				return s.OnData(data)
			}
			return nil
		}
	}
	return nil
}

func statusFor(err error) uint32 {
	switch {
	case errors.Is(err, ErrNoSuchFile):
		return statusNoSuchFile
	case errors.Is(err, ErrPermissionDenied):
		return statusPermissionDenied
	default:
		return statusFailure
	}
}

func decodeHandle(s string) (uint32, error) {
	if len(s) != 4 {
		return 0, errShortPacket
	}
	return binary.BigEndian.Uint32([]byte(s)), nil
}

func encodeHandle(dst []byte, handle uint32) []byte {
	return binary.BigEndian.AppendUint32(dst, handle)
}

func (s *Server) sendStatus(id, code uint32, msg string) error {
	var buf [256]byte
	out := buf[1:1]
	out = binary.BigEndian.AppendUint32(out, id)
	out = binary.BigEndian.AppendUint32(out, code)
	out = appendString(out, msg)
	out = appendString(out, "en")
	buf[0] = msgStatus
	return s.send(buf[:1+len(out)])
}

func (s *Server) sendHandle(id uint32, handle uint32) error {
	var buf [13]byte
	buf[0] = msgHandle
	binary.BigEndian.PutUint32(buf[1:5], id)
	out := encodeHandle(buf[5:5], handle)
	return s.send(buf[:5+len(out)])
}

func (s *Server) sendAttrs(id uint32, a FileAttributes) error {
	var buf [64]byte
	buf[0] = msgAttrs
	binary.BigEndian.PutUint32(buf[1:5], id)
	out := appendAttrs(buf[5:5], a)
	return s.send(buf[:5+len(out)])
}

// appendAttrs wire-encodes a as SSH_FXP_ATTRS's body: a flags word
// followed by only the fields the flags name, §7.
func appendAttrs(dst []byte, a FileAttributes) []byte {
	var flags uint32
	if a.HasSize {
		flags |= attrSize
	}
	if a.HasPermissions {
		flags |= attrPermissions
	}
	dst = binary.BigEndian.AppendUint32(dst, flags)
	if a.HasSize {
		dst = binary.BigEndian.AppendUint64(dst, a.Size)
	}
	if a.HasPermissions {
		dst = binary.BigEndian.AppendUint32(dst, a.Permissions)
	}
	return dst
}

// send writes one fully-framed SFTP packet (length-prefixed) to w. buf
// holds the packet's type+payload; send prepends the 4-byte length.
func (s *Server) send(buf []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(buf)))
	if _, err := s.w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := s.w.Write(buf)
	return err
}

func readUint32(buf []byte) (v uint32, rest []byte, err error) {
	if len(buf) < 4 {
		return 0, nil, errShortPacket
	}
	return binary.BigEndian.Uint32(buf[:4]), buf[4:], nil
}

func readString32(buf []byte) (s string, rest []byte, err error) {
	if len(buf) < 4 {
		return "", nil, errShortPacket
	}
	n := binary.BigEndian.Uint32(buf[:4])
	buf = buf[4:]
	if uint32(len(buf)) < n {
		return "", nil, errShortPacket
	}
	return string(buf[:n]), buf[n:], nil
}

func appendString(dst []byte, s string) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}
