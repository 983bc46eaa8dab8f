package pkgstream

import (
	"context"
	"crypto/subtle"

	"github.com/AuthurNero/pkgj/internal/utils"
)

const (
	pathHead = "sce_sys/package/head.bin"
	pathTail = "sce_sys/package/tail.bin"
	pathStat = "sce_sys/package/stat.bin"
	pathWork = "sce_sys/package/work.bin"
)

// downloadHead drives the HTTP stream forward until the full non-payload
// prefix (fixed header, extended header, metadata table, item index, and
// any descriptor/name bytes preceding the first payload) is resident in
// s.head, deriving the AES-CTR key along the way (§4.2).
func (s *Session) downloadHead(ctx context.Context, rif []byte) (bool, error) {
	s.log.Debug("downloading pkg head")

	s.itemName = "Preparing..."
	s.itemPath = pathHead
	if err := s.createFile(); err != nil {
		return false, err
	}
	defer s.closeItemFile()

	if err := s.growHead(ctx, headTotalSize); err != nil {
		return false, err
	}

	if getU32be(s.head[0:4]) != pkgMagic || getU32be(s.head[offExtMagic:offExtMagic+4]) != pkgExtMagic {
		return false, newErr(KindFormat, "bad pkg header magic")
	}

	if rif != nil && subtle.ConstantTimeCompare(rif[rifContentIDOffset:rifContentIDOffset+contentIDSize], s.head[offContentID:offContentID+contentIDSize]) != 1 {
		return false, newErr(KindFormat, "zrif content id does not match pkg")
	}

	s.metaOffset = getU32be(s.head[offMetaOffset:])
	s.metaCount = getU32be(s.head[offMetaCount:])
	s.indexCount = getU32be(s.head[offIndexCount:])
	s.totalSize = getU64be(s.head[offTotalSize:])
	s.encOffset = getU64be(s.head[offEncOffset:])
	s.encSize = getU64be(s.head[offEncSize:])

	utils.Indent(s.log.WithField("meta_offset", s.metaOffset).
		WithField("meta_count", s.metaCount).
		WithField("index_count", s.indexCount).
		WithField("total_size", s.totalSize).
		WithField("enc_offset", s.encOffset).
		WithField("enc_size", s.encSize).Debug, 1)("parsed pkg head fields")

	if s.encOffset > headArenaSize {
		return false, newErr(KindFormat, "pkg not supported, head.bin too large")
	}

	copy(s.iv[:], s.head[offIV:offIV+ivSize])

	// The key-type byte at offKeyType lies past headTotalSize, so it is only
	// resident once the plaintext region up to enc_offset has been read.
	if err := s.growHead(ctx, uint32(s.encOffset)); err != nil {
		return false, err
	}

	keyType := s.head[offKeyType] & 7
	key, err := deriveKey(keyType, s.iv)
	if err != nil {
		return false, err
	}
	ctr, err := newCTRDecryptor(key, s.iv)
	if err != nil {
		return false, err
	}
	s.ctr = ctr

	if err := s.walkMetaTable(); err != nil {
		return false, err
	}

	indexEnd := s.encOffset + uint64(s.indexCount)*itemDescriptorSize
	if indexEnd > headArenaSize {
		return false, newErr(KindFormat, "pkg not supported, head.bin too large")
	}
	if err := s.growHead(ctx, uint32(indexEnd)); err != nil {
		return false, err
	}

	// Peek item 0's descriptor to learn where the first payload begins,
	// without disturbing the raw (still-encrypted) copy resident in s.head
	// (§4.2 step 9).
	var scratch [itemDescriptorSize]byte
	copy(scratch[:], s.head[s.encOffset:s.encOffset+itemDescriptorSize])
	s.ctr.decryptAt(0, scratch[:])
	firstItemOffset := getU64be(scratch[itemOffItemOffset:])

	if s.indexSize != 0 && uint64(s.indexSize) != firstItemOffset {
		return false, wrapErrf(KindFormat, nil,
			"declared index size mismatch, expected %d, got %d", s.indexSize, firstItemOffset)
	}

	prefixEnd := s.encOffset + firstItemOffset
	if prefixEnd > headArenaSize {
		return false, newErr(KindFormat, "pkg not supported, head.bin too large")
	}
	if err := s.growHead(ctx, uint32(prefixEnd)); err != nil {
		return false, err
	}

	s.prefixEnd = prefixEnd
	s.log.Debug("head.bin downloaded")
	return true, nil
}

// growHead streams bytes from HTTP (writing each to head.bin as plaintext)
// until s.headSize reaches target.
func (s *Session) growHead(ctx context.Context, target uint32) error {
	for s.headSize != target {
		n, err := s.downloadData(ctx, s.head[s.headSize:target], false, true)
		if err != nil {
			return err
		}
		s.headSize += uint32(n)
	}
	return nil
}

// walkMetaTable linearly scans the metadata table, recording content_type
// and index_size when their record types appear, and rejecting an
// unsupported content_type (§4.2 step 7).
func (s *Session) walkMetaTable() error {
	s.indexSize = 0

	offset := uint64(s.metaOffset)
	for i := uint32(0); i < s.metaCount; i++ {
		if offset+16 >= s.encOffset {
			return newErr(KindFormat, "pkg file too small or corrupt (meta table truncated)")
		}

		recType := getU32be(s.head[offset:])
		recSize := getU32be(s.head[offset+4:])

		switch recType {
		case metaTypeContent:
			ct := ContentType(getU32be(s.head[offset+8:]))
			if !ct.valid() {
				return wrapErrf(KindFormat, nil, "unsupported content type: %d", ct)
			}
			s.contentType = ct
		case metaTypeIndexSize:
			s.indexSize = getU32be(s.head[offset+12:])
		}

		offset += metaRecordHeaderSize + uint64(recSize)
	}
	return nil
}
