package feed

import (
	"strings"

	"reelfeed/internal/asset"
	"reelfeed/internal/textutil"
)

// ItemsFromRefs derives feed items from raw remote references. Blank
// references are dropped; identifiers and titles are derived from the
// reference itself.
func ItemsFromRefs(refs []string) []ItemRef {
	items := make([]ItemRef, 0, len(refs))
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		items = append(items, ItemRef{
			AssetID:   asset.DeriveID(ref),
			RemoteRef: ref,
			Title:     textutil.DisplayTitle(ref),
		})
	}
	return items
}
