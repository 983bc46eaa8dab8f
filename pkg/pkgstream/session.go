// Package pkgstream implements the PKG streaming extractor: it fetches a
// remote PKG container over HTTP with resume support, parses the encrypted
// header, derives a per-package AES-128 key, decrypts item metadata and
// payload with AES-128-CTR (counter indexed by absolute PKG offset), writes
// each contained file into a staging directory, and verifies the whole
// package against a SHA-256 digest in a single forward pass.
package pkgstream

import (
	"context"
	"crypto/sha256"
	"encoding"
	"hash"

	"github.com/apex/log"
)

// downChunkSize bounds how much ciphertext pkgstream reads into memory at
// once while streaming an item's payload or the tail.
const downChunkSize = 64 * 1024

// Canceled is returned by Run, in its error position with ok=false, when the
// host's context is canceled mid download. It is not a DownloadError:
// observed cancellation is a distinct outcome, not a failure, and IsCanceled
// tells it apart.
var Canceled = &canceledResult{}

type canceledResult struct{}

func (*canceledResult) Error() string { return "download canceled" }

// IsCanceled reports whether err is the sentinel returned for a cooperative
// cancellation (as opposed to a DownloadError).
func IsCanceled(err error) bool {
	_, ok := err.(*canceledResult)
	return ok
}

// Session holds all bounded, in-memory state for one run of the extractor
// (§3 "Session state"). A Session is single-use: construct a fresh one (or
// reuse via NewSession) per Run call.
type Session struct {
	root string // staging directory path, constant for the session

	transport Transport
	fs        FileSystem
	clock     Clock
	progress  Progress
	log       log.Interface

	head     []byte // arena-sized flat buffer; see format parsing
	headSize uint32

	iv  [ivSize]byte
	ctr *ctrDecryptor

	sha hash.Hash

	downloadOffset uint64 // absolute byte offset into the PKG stream
	downloadSize   uint64 // download_offset + http content-length
	totalSize      uint64
	encOffset      uint64
	encSize        uint64
	metaOffset     uint32
	metaCount      uint32
	indexCount     uint32
	contentType    ContentType
	indexSize      uint32 // 0 if no type-13 meta record was present
	prefixEnd      uint64 // absolute offset where the first item's payload begins

	// Per-item scratch (§3).
	itemName        string
	itemPath        string
	itemIndex       int32
	encryptedBase   uint64
	encryptedOffset uint64
	decryptedSize   uint64
	itemFile        FileHandle

	infoStart  uint32
	infoUpdate uint32

	downloadURL string
	downBuf     [downChunkSize]byte
}

// NewSession constructs a Session rooted at root (the staging directory,
// typically "<temp>/<content_id>") driven by the given collaborators.
// Without WithProgress or WithClock, progress updates are dropped and the
// wall clock is used; a nil Progress or Clock passed to them is not
// replaced by these defaults.
func NewSession(root string, transport Transport, fs FileSystem, opts ...SessionOption) *Session {
	s := &Session{
		root:      root,
		transport: transport,
		fs:        fs,
		progress:  NopProgress{},
		clock:     systemClock{},
		log:       log.Log,
		itemIndex: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionOption configures optional Session collaborators.
type SessionOption func(*Session)

func WithProgress(p Progress) SessionOption {
	return func(s *Session) { s.progress = p }
}

func WithClock(c Clock) SessionOption {
	return func(s *Session) { s.clock = c }
}

func WithLogger(l log.Interface) SessionOption {
	return func(s *Session) { s.log = l }
}

// DownloadOffset returns the number of bytes confirmed consumed from the
// PKG stream so far. A caller persists this across runs to resume (§4.1).
func (s *Session) DownloadOffset() uint64 { return s.downloadOffset }

// ContentType returns the parsed content category, valid only after Run has
// reached (or passed) the head stage.
func (s *Session) ContentType() ContentType { return s.contentType }

type systemClock struct{}

func (systemClock) NowMsec() uint32 { return uint32(nowMillis()) }

// Run executes the full pipeline (§2): bootstrap, head, items, tail,
// finalize. contentID is the 36-byte staging subdirectory name; url is the
// HTTP source; rif is the optional 512-byte license blob; expectedDigest is
// the optional 32-byte SHA-256 to verify against.
//
// Run always re-fetches and re-parses the small head (header, metadata
// table, item index and names) from the start of the stream: it is cheap,
// and the crypto key and item layout it yields cannot otherwise be
// reconstructed by a freshly constructed Session. resumeOffset (typically
// the DownloadOffset persisted from a prior, interrupted Run with
// identical arguments) then fast-forwards past whatever payload bytes a
// previous run already confirmed and wrote to disk, by reopening the HTTP
// stream at resumeOffset instead of reading those bytes again (§4.1, §5).
func (s *Session) Run(ctx context.Context, contentID, url string, rif, expectedDigest []byte, resumeOffset uint64, resumeHash []byte) (bool, error) {
	s.downloadURL = url
	s.downloadOffset = 0
	s.sha = sha256.New()
	s.itemFile = nil
	s.itemIndex = -1
	s.downloadSize = 0
	s.head = make([]byte, headArenaSize)
	s.headSize = 0

	s.infoStart = s.clock.NowMsec()
	s.infoUpdate = s.infoStart + 1000
	s.progress.UpdateStatus("Downloading")
	s.log.WithField("content_id", contentID).WithField("resume_offset", resumeOffset).Info("starting pkg download")

	ok, err := s.downloadHead(ctx, rif)
	if !ok || err != nil {
		return ok, err
	}

	if resumeOffset > s.prefixEnd {
		if err := s.fastForward(resumeOffset); err != nil {
			return false, err
		}
		if len(resumeHash) > 0 {
			if err := s.restoreHash(resumeHash); err != nil {
				return false, err
			}
		}
	} else if resumeOffset != 0 && resumeOffset != s.prefixEnd {
		s.log.WithField("resume_offset", resumeOffset).WithField("prefix_end", s.prefixEnd).
			Warn("resume offset falls inside the head region, restarting items from the beginning")
	}

	ok, err = s.downloadItems(ctx)
	if !ok || err != nil {
		return ok, err
	}
	ok, err = s.downloadTail(ctx)
	if !ok || err != nil {
		return ok, err
	}

	if err := s.checkIntegrity(expectedDigest); err != nil {
		return false, err
	}

	if s.contentType != ContentPSX {
		if err := s.createStat(); err != nil {
			return false, err
		}
	}
	if rif != nil {
		if err := s.createRIF(rif); err != nil {
			return false, err
		}
	}

	return true, nil
}

// fastForward abandons the current HTTP connection (positioned right after
// the head) and repositions the stream at offset, skipping the bytes in
// between without reading them. downloadData starts a fresh connection
// lazily on its next call, since downloadSize reset to 0 is its trigger.
func (s *Session) fastForward(offset uint64) error {
	if err := s.transport.Close(); err != nil {
		s.log.WithError(err).Debug("error closing transport before resume seek")
	}
	s.downloadOffset = offset
	s.downloadSize = 0
	return nil
}

// HashState marshals the running SHA-256 accumulator so a caller can persist
// it alongside DownloadOffset and feed it back into a later Run's
// resumeHash, avoiding a full re-read of the bytes already confirmed and
// written by this run (§5 resume). Returns an error only if the standard
// library's sha256 implementation stops supporting binary marshaling.
func (s *Session) HashState() ([]byte, error) {
	m, ok := s.sha.(encoding.BinaryMarshaler)
	if !ok {
		return nil, newErr(KindIO, "sha256 hash does not support resumable state")
	}
	return m.MarshalBinary()
}

// restoreHash replaces s.sha, freshly accumulated from this run's own
// re-fetched head bytes, with the state marshaled by a prior run's
// HashState. Without this the digest computed by checkIntegrity would be
// missing every byte between that prior run's head and its resume offset,
// since fastForward skips re-reading them.
func (s *Session) restoreHash(state []byte) error {
	h := sha256.New()
	u, ok := h.(encoding.BinaryUnmarshaler)
	if !ok {
		return newErr(KindIO, "sha256 hash does not support resumable state")
	}
	if err := u.UnmarshalBinary(state); err != nil {
		return wrapErr(KindIO, err, "corrupt resume hash state")
	}
	s.sha = h
	return nil
}
