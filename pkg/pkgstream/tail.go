package pkgstream

import (
	"context"
	"crypto/subtle"
)

// downloadTail consumes the remaining padding inside the encrypted region
// (never persisted) followed by the plaintext tail region, which is
// persisted to tail.bin for every content type except PSX (§4.4).
func (s *Session) downloadTail(ctx context.Context) (bool, error) {
	s.log.Debug("downloading tail.bin")

	s.itemName = "Finishing..."
	s.itemPath = pathTail
	encRegionEnd := s.encOffset + s.encSize
	if s.downloadOffset > encRegionEnd {
		if err := s.reopenFile(); err != nil {
			return false, err
		}
	} else if err := s.createFile(); err != nil {
		return false, err
	}
	defer s.closeItemFile()

	if encRegionEnd > s.downloadOffset {
		if err := s.streamChunks(ctx, encRegionEnd-s.downloadOffset, false, false); err != nil {
			return false, err
		}
	}

	if s.totalSize > s.downloadOffset {
		if err := s.streamChunks(ctx, s.totalSize-s.downloadOffset, false, s.contentType != ContentPSX); err != nil {
			return false, err
		}
	}

	s.log.Debug("tail.bin downloaded")
	return true, nil
}

// checkIntegrity verifies the running SHA-256 against expectedDigest, when
// supplied. On mismatch head.bin is removed so a retry redoes the head
// stage (§4.4, §5 ordering guarantee (c)); nothing else is touched.
func (s *Session) checkIntegrity(expectedDigest []byte) error {
	if expectedDigest == nil {
		s.log.Debug("no integrity digest provided, skipping check")
		return nil
	}

	check := s.sha.Sum(nil)
	s.log.Debug("checking pkg integrity")
	if subtle.ConstantTimeCompare(check, expectedDigest) != 1 {
		s.log.Warn("pkg integrity check failed, removing head.bin to force a full retry")
		if err := s.fs.Remove(pathHead); err != nil {
			s.log.WithError(err).Warn("failed to remove head.bin after integrity failure")
		}
		return newErr(KindIntegrity, "pkg integrity check failed, please retry the download")
	}

	s.log.Debug("pkg integrity check succeeded")
	return nil
}

// createStat writes the zeroed stat.bin placeholder (§4.1, all content
// types except PSX).
func (s *Session) createStat() error {
	s.progress.UpdateStatus("Creating stat.bin")
	var stat [statSize]byte
	if err := s.fs.Save(pathStat, stat[:]); err != nil {
		return wrapErrf(KindIO, err, "cannot save %s", pathStat)
	}
	return nil
}

// createRIF persists the supplied license blob as work.bin (§4.1, only when
// rif was supplied).
func (s *Session) createRIF(rif []byte) error {
	s.progress.UpdateStatus("Creating work.bin")
	if err := s.fs.Save(pathWork, rif); err != nil {
		return wrapErrf(KindIO, err, "cannot save %s", pathWork)
	}
	return nil
}
