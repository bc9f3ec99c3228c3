package mesh

// Known low-entropy public keys shipped by compromised or cloned
// firmware builds. Nodes presenting one of these are flagged; their
// "encrypted" traffic offers no privacy.
var lowEntropyPublicKeys = map[string]bool{
	// All-zero key some boards emit before key generation.
	"AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=": true,
	// Keys derived from the widely cloned vendor seed images.
	"2RiTkAK9LKk8B9kdSnyF1cJJGmTzO7/4J6rH5SVkmzM=": true,
	"zdHbKMGabtb9mMWVvLZStP/BGFHuXYuROYVnXWrZ/Fo=": true,
}

// IsLowEntropyKey reports whether the base64-encoded public key is on
// the known compromised list.
func IsLowEntropyKey(b64 string) bool {
	return lowEntropyPublicKeys[b64]
}
