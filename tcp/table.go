package tcp

import "github.com/soypat/tinystack/internal"

// DefaultTableWays and DefaultTableLines size the zero-configuration
// connection table used when [Table.Reset] is called with ways=0 or
// lines=0.
const (
	DefaultTableWays  = 2
	DefaultTableLines = 16
)

// tupleKey identifies a connection by its remote address and both ports.
type tupleKey struct {
	remoteIP   [4]byte
	localPort  uint16
	remotePort uint16
}

func (k tupleKey) hash() uint32 {
	h := internal.FNV1(k.remoteIP[0], k.remoteIP[1], k.remoteIP[2], k.remoteIP[3])
	h = internal.FNV1Uint16(h, k.localPort)
	h = internal.FNV1Uint16(h, k.remotePort)
	return h
}

// txBufSize is the per-connection outbound application-data buffer
// capacity: large enough to hold a full SSH transport packet plus the
// SFTP framing carried inside it without blocking the application on
// backpressure during the handshake.
const txBufSize = 4096

// Entry is a single connection table slot: the 5-tuple identity, the
// [ControlBlock] tracking its sequence space and state, and an outbound
// byte FIFO an [Application] writes reply data into from OnAccept/OnRecv.
// The FIFO is flushed opportunistically: whatever is queued by the time
// [Server.OnRxSegment] calls PendingSegment is what goes out with that
// segment, so an Application must queue its reply synchronously within
// those callbacks rather than push data asynchronously.
type Entry struct {
	valid bool
	key   tupleKey
	cb    ControlBlock
	txbuf [txBufSize]byte
	tx    internal.CircularFIFO
}

// RemoteAddr returns the remote IP and port pair identifying the entry's
// peer; LocalPort returns the local port the connection was accepted on.
func (e *Entry) RemoteAddr() (ip [4]byte, port uint16) { return e.key.remoteIP, e.key.remotePort }
func (e *Entry) LocalPort() uint16                     { return e.key.localPort }
func (e *Entry) ControlBlock() *ControlBlock           { return &e.cb }

// Write queues p as outbound application data, to be sent as payload on
// the next segment(s) [Server.OnRxSegment] emits for this connection. It
// returns [internal.ErrFIFOFull] and writes nothing if p does not fully
// fit in the remaining buffer space.
func (e *Entry) Write(p []byte) (int, error) {
	if err := e.tx.Push(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// pendingOut returns up to max bytes of queued outbound data without
// removing them from the FIFO, for sizing the next PendingSegment call.
func (e *Entry) pendingOut(max int) int {
	avail := e.tx.ReadSize()
	if avail > max {
		avail = max
	}
	return avail
}

// drainOut copies exactly n previously queued outbound bytes into dst and
// removes them from the FIFO. n must not exceed ReadSize().
func (e *Entry) drainOut(dst []byte, n int) {
	got := e.tx.Peek(dst[:n])
	if got != n {
		panic("tcp: drainOut underrun")
	}
	if err := e.tx.Pop(n); err != nil {
		panic("tcp: drainOut pop: " + err.Error())
	}
}

// Table is a fixed-size, N-way set-associative TCP connection table.
// Entries are hashed into one of [Table.lines] lines by FNV-1 over the
// remote address and both ports; each line holds [Table.ways] entries.
// Unlike [arp.Cache], a full line never evicts a live (non-closed)
// connection: admission of a new connection into a full line fails and
// the caller is expected to respond with RST, matching the design's
// requirement that an established socket is never silently dropped to
// make room for a new SYN.
//
// The zero value is not usable; call [Table.Reset] first.
type Table struct {
	entries []Entry // len == ways*lines, row-major by line
	ways    int
	lines   int
}

// Reset (re)initializes the table with the given way/line geometry,
// discarding all entries. ways<=0 or lines<=0 select the package defaults.
func (t *Table) Reset(ways, lines int) {
	if ways <= 0 {
		ways = DefaultTableWays
	}
	if lines <= 0 {
		lines = DefaultTableLines
	}
	if cap(t.entries) < ways*lines {
		t.entries = make([]Entry, ways*lines)
	} else {
		t.entries = t.entries[:ways*lines]
		for i := range t.entries {
			t.entries[i] = Entry{}
		}
	}
	t.ways = ways
	t.lines = lines
}

func (t *Table) line(k tupleKey) int {
	return int(k.hash() % uint32(t.lines))
}

func (t *Table) wayEntries(line int) []Entry {
	off := line * t.ways
	return t.entries[off : off+t.ways]
}

// Lookup returns the entry matching the given remote address/port and local
// port, if any.
func (t *Table) Lookup(remoteIP [4]byte, localPort, remotePort uint16) (*Entry, bool) {
	k := tupleKey{remoteIP, localPort, remotePort}
	ways := t.wayEntries(t.line(k))
	for i := range ways {
		if ways[i].valid && ways[i].key == k {
			return &ways[i], true
		}
	}
	return nil, false
}

// Admit allocates a new entry for the given identity. It fails with
// ok=false if every way of the hashed line already holds a live
// connection (a connection whose ControlBlock state is not IsClosed); a
// closed-but-not-yet-reaped way is reused in place of evicting a live one.
func (t *Table) Admit(remoteIP [4]byte, localPort, remotePort uint16) (e *Entry, ok bool) {
	k := tupleKey{remoteIP, localPort, remotePort}
	ways := t.wayEntries(t.line(k))
	for i := range ways {
		if !ways[i].valid || ways[i].cb.State().IsClosed() {
			ways[i] = Entry{valid: true, key: k}
			ways[i].tx = internal.NewCircularFIFO(ways[i].txbuf[:])
			return &ways[i], true
		}
	}
	return nil, false
}

// Remove clears the entry, if present. Called on normal close (both sides
// reach TimeWait/Closed) or on RST teardown, per the design's requirement
// that a FIN/RST exchange silently destroys table state without lingering.
func (t *Table) Remove(remoteIP [4]byte, localPort, remotePort uint16) {
	k := tupleKey{remoteIP, localPort, remotePort}
	ways := t.wayEntries(t.line(k))
	for i := range ways {
		if ways[i].valid && ways[i].key == k {
			ways[i] = Entry{}
			return
		}
	}
}

// Ways and Lines report the table geometry, mainly for tests and metrics.
func (t *Table) Ways() int  { return t.ways }
func (t *Table) Lines() int { return t.lines }

// ForEach calls fn for every valid entry. fn must not mutate the table.
func (t *Table) ForEach(fn func(*Entry)) {
	for i := range t.entries {
		if t.entries[i].valid {
			fn(&t.entries[i])
		}
	}
}
