package pkgstream

import "context"

// downloadData is the single point where bytes cross from the HTTP
// transport into the session: it checks cancellation, paces progress
// callbacks, advances the SHA-256 accumulator over the raw (ciphertext)
// bytes, optionally advances the AES-CTR decryptor keyed by the absolute
// offset within the encrypted region, and optionally writes the result to
// the currently open item file (§4.6, §4.5, invariant 4).
//
// It lazily starts the transport on first use so the session can compute
// the correct resume offset before issuing the ranged request.
func (s *Session) downloadData(ctx context.Context, buf []byte, encrypted, save bool) (int, error) {
	select {
	case <-ctx.Done():
		return 0, Canceled
	default:
	}

	if now := s.clock.NowMsec(); now >= s.infoUpdate {
		s.progress.UpdateProgress(s)
		s.infoUpdate = now + 500
	}

	if s.downloadSize == 0 {
		length, err := s.transport.Start(ctx, s.downloadURL, int64(s.downloadOffset))
		if err != nil {
			return 0, wrapErr(KindTransport, err, "failed to start http transport")
		}
		if length < 0 {
			return 0, newErr(KindTransport, "http response length is unknown")
		}
		s.downloadSize = s.downloadOffset + uint64(length)
		s.log.WithField("length", length).WithField("total", s.downloadSize).Debug("http stream started")
	}

	n, err := s.transport.Read(buf)
	if err != nil {
		return 0, wrapErr(KindTransport, err, "http download error")
	}
	if n == 0 {
		return 0, newErr(KindTransport, "http connection closed")
	}

	s.downloadOffset += uint64(n)
	s.sha.Write(buf[:n])

	if encrypted {
		s.ctr.decryptAt(s.encryptedBase+s.encryptedOffset, buf[:n])
		s.encryptedOffset += uint64(n)
	}

	if save {
		write := n
		if encrypted {
			if uint64(write) > s.decryptedSize {
				write = int(s.decryptedSize)
			}
			s.decryptedSize -= uint64(write)
		}
		if write > 0 {
			if err := s.itemFile.Write(buf[:write]); err != nil {
				return 0, wrapErrf(KindIO, err, "cannot write to %s", s.itemPath)
			}
		}
	}

	return n, nil
}

// streamChunks consumes exactly total bytes from the HTTP stream in chunks
// bounded by downChunkSize, applying the same (encrypted, save) treatment
// to each chunk as downloadData.
func (s *Session) streamChunks(ctx context.Context, total uint64, encrypted, save bool) error {
	var consumed uint64
	for consumed != total {
		chunk := uint64(len(s.downBuf))
		if remaining := total - consumed; chunk > remaining {
			chunk = remaining
		}
		n, err := s.downloadData(ctx, s.downBuf[:chunk], encrypted, save)
		if err != nil {
			return err
		}
		consumed += uint64(n)
	}
	return nil
}

// createFile materializes the parent directories of s.itemPath and opens it
// for writing, assigning the result to s.itemFile (§4.1 "create_file").
func (s *Session) createFile() error {
	dir := parentDir(s.itemPath)
	if dir != "" {
		if err := s.fs.Mkdirs(dir); err != nil {
			return wrapErrf(KindIO, err, "cannot create folder %s", dir)
		}
	}
	f, err := s.fs.Create(s.itemPath)
	if err != nil {
		return wrapErrf(KindIO, err, "cannot create %s", s.itemPath)
	}
	s.itemFile = f
	return nil
}

// reopenFile reopens s.itemPath for append, used to continue a partially
// written item after a resumed download (§4.3 resume).
func (s *Session) reopenFile() error {
	f, err := s.fs.OpenAppend(s.itemPath)
	if err != nil {
		return wrapErrf(KindIO, err, "cannot reopen %s", s.itemPath)
	}
	s.itemFile = f
	return nil
}

// closeItemFile releases the single open item file, if any (§3 invariant 5:
// at most one file open at any time, released on every exit path).
func (s *Session) closeItemFile() {
	if s.itemFile != nil {
		s.itemFile.Close()
		s.itemFile = nil
	}
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}
