package zktrie

// Depth is the number of branch levels in the sparse sub-trie. Together with
// the synthetic root and the leaf itself a full path spans Depth+2 levels.
const Depth = 40

// PathLength is the byte length of a full leaf path.
const PathLength = Depth + 2

// Leaf type markers, stored as the trailing byte of a leaf path.
const (
	LeafTypeValue    = 0x16
	LeafTypeNextFree = 0x17
	LeafTypeEmpty    = 0x18
)

// LeafPath maps a leaf index in the append list to its trie path: a leading
// 1 selecting the sub-trie under the synthetic root, the 40 index bits
// most-significant first, and the value leaf marker.
func LeafPath(index uint64) [PathLength]byte {
	var path [PathLength]byte
	path[0] = 1
	for i := 0; i < Depth; i++ {
		path[1+i] = byte(index >> (Depth - 1 - i) & 1)
	}
	path[PathLength-1] = LeafTypeValue
	return path
}

// ParseNodeIndex reads a big-endian leaf index from the trailing bytes of a
// 32-byte word.
func ParseNodeIndex(b []byte) uint64 {
	var v uint64
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}

// prefixLen returns the length of the common prefix of a and b.
func prefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}
