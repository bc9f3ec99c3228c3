package domain

import "strings"

// PlaceholderNamePrefix marks nodes discovered from raw packets before
// any NodeInfo supplied real names.
const PlaceholderNamePrefix = "Meshtastic "

func NodeDisplayName(node Node) string {
	if value := strings.TrimSpace(node.LongName); value != "" {
		return value
	}
	if value := strings.TrimSpace(node.ShortName); value != "" {
		return value
	}

	return strings.TrimSpace(node.NodeID)
}

// PlaceholderLongName derives the default long name for a node heard
// only through mesh packets, e.g. "Meshtastic abcd".
func PlaceholderLongName(num uint32) string {
	id := FormatNodeNum(num)
	if len(id) < 4 {
		return PlaceholderNamePrefix + id
	}

	return PlaceholderNamePrefix + id[len(id)-4:]
}

// HasRealName reports whether the node carries names beyond the
// placeholder assigned at first packet sighting.
func HasRealName(node Node) bool {
	long := strings.TrimSpace(node.LongName)
	short := strings.TrimSpace(node.ShortName)
	if long == "" || short == "" {
		return false
	}

	return !strings.HasPrefix(long, PlaceholderNamePrefix)
}
