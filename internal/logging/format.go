package logging

// shortHashLen is the number of hex characters kept when a hash or peer
// identity is shortened for INFO-level output.
const shortHashLen = 12

// FormatHash formats a hex hash or identity for logging. DEBUG output keeps the
// full value, every other level sees a shortened form ending in "..".
//
// Usage: logging.Info("Imported block #%d (%s)", n, logging.FormatHash(hash))
func FormatHash(hash string) string {
	if IsDebugEnabled() || len(hash) <= shortHashLen+2 {
		return hash
	}

	prefix := 0
	if len(hash) > 2 && hash[:2] == "0x" {
		prefix = 2
	}
	return hash[:prefix+shortHashLen] + ".."
}

// FormatPeerID formats a peer identity with the same rules as FormatHash.
func FormatPeerID(peerID string) string {
	return FormatHash(peerID)
}
