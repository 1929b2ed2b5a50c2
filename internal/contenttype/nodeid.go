package contenttype

import "strings"

// marketplacePrefixes are id prefixes added for a specific marketplace build
// of an item. They do not change the item's identity.
var marketplacePrefixes = []string{"external-"}

// NormalizeID strips marketplace-specific prefixes and surrounding space.
func NormalizeID(objectID string) string {
	id := strings.TrimSpace(objectID)
	for _, p := range marketplacePrefixes {
		id = strings.TrimPrefix(id, p)
	}
	return id
}

// NodeID is the stable composite key of a node: type plus normalized id.
func NodeID(ct ContentType, objectID string) string {
	return string(ct) + ":" + NormalizeID(objectID)
}
