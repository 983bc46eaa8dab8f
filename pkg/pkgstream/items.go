package pkgstream

import (
	"context"

	"github.com/AuthurNero/pkgj/internal/utils"
)

type itemDescriptor struct {
	nameOffset uint32
	nameSize   uint32
	itemOffset uint64
	itemSize   uint64
	typ        byte
}

func decodeItemDescriptor(b []byte) itemDescriptor {
	return itemDescriptor{
		nameOffset: getU32be(b[itemOffNameOffset:]),
		nameSize:   getU32be(b[itemOffNameSize:]),
		itemOffset: getU64be(b[itemOffItemOffset:]),
		itemSize:   getU64be(b[itemOffItemSize:]),
		typ:        b[itemOffType],
	}
}

// decryptDescriptor decrypts item index's copy of descriptor index from the
// (already downloaded, still-encrypted) head arena, without touching the
// network. Every descriptor up to indexCount is always resident in s.head
// by the time downloadHead returns, which is what lets resume locate its
// place in the item list purely in memory.
func (s *Session) decryptDescriptor(index uint32) itemDescriptor {
	descOff := s.encOffset + uint64(index)*itemDescriptorSize
	var raw [itemDescriptorSize]byte
	copy(raw[:], s.head[descOff:descOff+itemDescriptorSize])
	s.ctr.decryptAt(uint64(index)*itemDescriptorSize, raw[:])
	return decodeItemDescriptor(raw[:])
}

// locateResumeItem finds the first item whose payload is not fully
// contained in [0, s.downloadOffset), i.e. the index downloadItems must
// continue from, and how far into that item's ciphertext s.downloadOffset
// already reaches (0 for a fresh run). It returns index == s.indexCount
// when every item was already completed in a prior run.
func (s *Session) locateResumeItem() (index uint32, withinOffset uint64) {
	if s.downloadOffset <= s.prefixEnd {
		return 0, 0
	}
	for index = 0; index < s.indexCount; index++ {
		item := s.decryptDescriptor(index)
		start := s.encOffset + item.itemOffset
		end := start + alignUp16(item.itemSize)
		if end <= s.downloadOffset {
			continue
		}
		if start < s.downloadOffset {
			withinOffset = s.downloadOffset - start
		}
		return index, withinOffset
	}
	return index, 0
}

// downloadItems walks the item index in ascending order, which the wire
// format guarantees coincides with ascending byte offset in the stream
// (§4.3, enforced by the sequencing check below). Items that end at or
// before the current download offset were already completed by a prior,
// interrupted run and are skipped without touching the network.
func (s *Session) downloadItems(ctx context.Context) (bool, error) {
	s.log.Debug("downloading encrypted files")
	defer s.closeItemFile()

	startIndex, withinOffset := s.locateResumeItem()
	if startIndex > 0 || withinOffset > 0 {
		s.log.WithField("start_index", startIndex).WithField("within_offset", withinOffset).
			Debug("resuming item download mid-index")
	}

	for index := startIndex; index < s.indexCount; index++ {
		item := s.decryptDescriptor(index)

		if item.nameSize >= maxItemNameSize || s.encOffset+uint64(item.nameOffset)+uint64(item.nameSize) > s.totalSize {
			return false, newErr(KindFormat, "pkg file too small or corrupt (item name)")
		}

		nameBuf := make([]byte, item.nameSize)
		copy(nameBuf, s.head[s.encOffset+uint64(item.nameOffset):])
		s.ctr.decryptAt(uint64(item.nameOffset), nameBuf)
		s.itemName = string(nameBuf)

		resuming := index == startIndex && withinOffset > 0

		encryptedSize := alignUp16(item.itemSize)
		s.encryptedBase = item.itemOffset
		s.encryptedOffset = 0
		s.decryptedSize = item.itemSize
		s.itemIndex = int32(index)
		if resuming {
			s.encryptedOffset = withinOffset
			if withinOffset < item.itemSize {
				s.decryptedSize = item.itemSize - withinOffset
			} else {
				s.decryptedSize = 0
			}
		}

		utils.Indent(s.log.WithField("index", index+1).WithField("count", s.indexCount).
			WithField("name", s.itemName).WithField("offset", item.itemOffset).
			WithField("size", item.itemSize).WithField("type", item.typ).Debug, 1)("item")

		discardOnly := false
		switch {
		case s.contentType == ContentPSX && s.itemName == "USRDIR/CONTENT/DOCUMENT.DAT":
			s.itemPath = "DOCUMENT.DAT"
		case s.contentType == ContentPSX && s.itemName == "USRDIR/CONTENT/EBOOT.PBP":
			s.itemPath = "EBOOT.PBP"
		case s.contentType == ContentPSX:
			discardOnly = true
		default:
			s.itemPath = s.itemName
		}

		if discardOnly {
			if err := s.streamChunks(ctx, encryptedSize-s.encryptedOffset, true, false); err != nil {
				return false, err
			}
			continue
		}

		if item.typ == itemTypeDirectory {
			if err := s.fs.Mkdirs(s.itemPath); err != nil {
				return false, wrapErrf(KindIO, err, "cannot create folder %s", s.itemPath)
			}
			continue
		}
		if item.typ == itemTypeSkip {
			continue
		}

		if resuming {
			if err := s.reopenFile(); err != nil {
				return false, err
			}
		} else if err := s.createFile(); err != nil {
			return false, err
		}

		if s.encOffset+item.itemOffset+s.encryptedOffset != s.downloadOffset {
			s.closeItemFile()
			return false, wrapErrf(KindFormat, nil,
				"pkg not supported, item order broken, expected %d, got %d",
				s.encOffset+item.itemOffset+s.encryptedOffset, s.downloadOffset)
		}
		if s.encOffset+item.itemOffset+item.itemSize > s.totalSize {
			s.closeItemFile()
			return false, newErr(KindFormat, "pkg file too small or corrupt (item extends past end)")
		}

		if err := s.streamChunks(ctx, encryptedSize-s.encryptedOffset, true, true); err != nil {
			return false, err
		}

		s.closeItemFile()
	}

	s.itemIndex = -1
	s.log.Debug("all files decrypted")
	return true, nil
}
