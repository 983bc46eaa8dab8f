package pkgstream

import "context"

// Transport is the HTTP collaborator (§6.3). A Source is created once per
// Run and must survive the lifetime of the session; Start is called lazily
// on the first byte read so the session can compute a resume offset first.
type Transport interface {
	// Start issues a ranged GET at offset and returns the declared length
	// of the remaining bytes the server will serve (not the total PKG
	// size). A negative length is a transport fault.
	Start(ctx context.Context, url string, offset int64) (length int64, err error)
	// Read behaves like io.Reader: >=1 on success, 0 on clean close,
	// error on fault. The core treats a clean close before the expected
	// total size as a transport fault.
	Read(buf []byte) (int, error)
	// Close releases any connection held by Start. Safe to call multiple
	// times.
	Close() error
}

// FileSystem is the filesystem collaborator (§6.3). Paths use "/"
// separators and are relative to no particular cwd; implementations
// resolve them as they see fit (the default implementation resolves
// against a staging root with securejoin).
type FileSystem interface {
	Mkdirs(path string) error
	Create(path string) (FileHandle, error)
	// OpenAppend reopens a file previously produced by Create for writing
	// at its current end, used to continue a partially written item after
	// a resumed download (§4.3 resume).
	OpenAppend(path string) (FileHandle, error)
	Save(path string, buf []byte) error
	Remove(path string) error
	Exists(path string) bool
}

// FileHandle is an open regular file created by FileSystem.Create.
type FileHandle interface {
	Write(buf []byte) error
	Close() error
}

// Clock is the monotonic millisecond time source (§6.3).
type Clock interface {
	NowMsec() uint32
}

// Progress is the advisory progress/status collaborator (§6.3). Neither
// method may block or return an error; they are pure notifications.
type Progress interface {
	UpdateProgress(s *Session)
	UpdateStatus(text string)
}

// NopProgress implements Progress as a no-op, for callers that don't care.
type NopProgress struct{}

func (NopProgress) UpdateProgress(*Session) {}
func (NopProgress) UpdateStatus(string)     {}
