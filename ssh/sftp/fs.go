package sftp

// FileAttributes carries the subset of SSH_FXP_ATTRS fields this server
// populates in STAT/LSTAT replies. Fields whose Has flag is false are
// omitted from the wire encoding entirely, per §7's "flags indicate which
// attributes are present" rule.
type FileAttributes struct {
	Size           uint64
	HasSize        bool
	Permissions    uint32
	HasPermissions bool
}

// FileSystem is the backing store a Server dispatches OPEN, CLOSE, WRITE,
// STAT and LSTAT requests to; FSETSTAT is answered without it. Implementations own the handle
// namespace: Open mints a handle, Write and Close address an
// already-open handle, and the server never inspects or reuses a handle
// value itself.
type FileSystem interface {
	// Exists reports whether path names an existing file, the backing
	// for a client's "does this path exist" probe before OPEN.
	Exists(path string) bool
	// CanOpen reports whether opening path with the given SSH_FXF_*
	// flag bits would be permitted, without actually opening it.
	CanOpen(path string, flags uint32) bool
	// Open opens path with the given SSH_FXF_* flag bits and returns an
	// opaque handle for subsequent Write/Close calls.
	Open(path string, flags uint32) (handle uint32, err error)
	// Write writes data at offset into the file named by handle.
	Write(handle uint32, offset uint64, data []byte) error
	// Close releases handle. Further Write calls against it are an
	// error.
	Close(handle uint32) error
	// Stat returns the attributes of path. followSymlink distinguishes
	// STAT (true) from LSTAT (false).
	Stat(path string, followSymlink bool) (FileAttributes, error)
}
