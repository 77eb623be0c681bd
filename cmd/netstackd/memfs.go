package main

import (
	"sync"

	"github.com/soypat/tinystack/ssh/sftp"
)

// memFS is a process-lifetime, in-memory [sftp.FileSystem] used as
// netstackd's SFTP backing store: the administration channel exposes
// diagnostic files (config dumps, captured packet logs) rather than a
// real filesystem, matching the static-allocation design's preference
// for fixed, process-owned buffers over disk I/O on an embedded target.
type memFS struct {
	mu      sync.Mutex
	files   map[string][]byte
	handles map[uint32]*memHandle
	next    uint32
}

type memHandle struct {
	path string
}

// newMemFS seeds the filesystem with a single /version.txt diagnostic
// entry so an operator connecting over SFTP has something to fetch
// immediately. The entry is not write-protected.
func newMemFS() *memFS {
	return &memFS{
		files: map[string][]byte{
			"/version.txt": []byte(daemonVersion + "\n"),
		},
		handles: map[uint32]*memHandle{},
	}
}

func (fs *memFS) Exists(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, ok := fs.files[path]
	return ok
}

func (fs *memFS) CanOpen(path string, flags uint32) bool {
	return true
}

func (fs *memFS) Open(path string, flags uint32) (uint32, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.next++
	h := fs.next
	fs.handles[h] = &memHandle{path: path}
	if _, ok := fs.files[path]; !ok {
		fs.files[path] = nil
	}
	return h, nil
}

func (fs *memFS) Write(handle uint32, offset uint64, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	h, ok := fs.handles[handle]
	if !ok {
		return sftp.ErrNoSuchFile
	}
	cur := fs.files[h.path]
	end := offset + uint64(len(data))
	if uint64(len(cur)) < end {
		grown := make([]byte, end)
		copy(grown, cur)
		cur = grown
	}
	copy(cur[offset:], data)
	fs.files[h.path] = cur
	return nil
}

func (fs *memFS) Close(handle uint32) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.handles[handle]; !ok {
		return sftp.ErrNoSuchFile
	}
	delete(fs.handles, handle)
	return nil
}

func (fs *memFS) Stat(path string, followSymlink bool) (sftp.FileAttributes, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	data, ok := fs.files[path]
	if !ok {
		return sftp.FileAttributes{}, sftp.ErrNoSuchFile
	}
	return sftp.FileAttributes{Size: uint64(len(data)), HasSize: true}, nil
}

var _ sftp.FileSystem = (*memFS)(nil)
