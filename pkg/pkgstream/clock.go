package pkgstream

import "time"

// headArenaSize bounds the in-memory head buffer (§3 "Session state
// (bounded, ~16 KiB)"; §9 describes it as "tens of KB"). A head region
// larger than this is rejected as a format error ("head too large") rather
// than grown unboundedly.
const headArenaSize = 64 * 1024

// maxItemNameSize bounds a single decrypted item name. §4.3 step 2 requires
// rejecting any name_size that would not fit.
const maxItemNameSize = 256

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
