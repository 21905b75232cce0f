package revdb

import (
	"bytes"
	"encoding/json"
)

// collectBlobRefs adds the blob keys referenced by a JSON body to refs and
// returns how many references it saw. A reference is a "digest": "sha1-..."
// string inside an object under "_attachments", or inside an object whose
// "@type" is "blob". Bodies that are not JSON reference nothing.
func collectBlobRefs(body []byte, refs map[BlobKey]struct{}) int {
	if len(body) == 0 || !bytes.Contains(body, []byte(blobKeyPrefix)) {
		return 0
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return 0
	}
	var n int
	add := func(obj map[string]any) {
		s, ok := obj["digest"].(string)
		if !ok {
			return
		}
		if k, err := ParseBlobKey(s); err == nil {
			refs[k] = struct{}{}
			n++
		}
	}
	var walk func(v any)
	walk = func(v any) {
		switch v := v.(type) {
		case map[string]any:
			if t, _ := v["@type"].(string); t == "blob" {
				add(v)
			}
			if atts, ok := v["_attachments"].(map[string]any); ok {
				for _, a := range atts {
					if obj, ok := a.(map[string]any); ok {
						add(obj)
					}
				}
			}
			for _, child := range v {
				walk(child)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		}
	}
	walk(v)
	return n
}

// findBlobRefs returns the distinct blob keys a body references.
func findBlobRefs(body []byte) []BlobKey {
	refs := make(map[BlobKey]struct{})
	if collectBlobRefs(body, refs) == 0 {
		return nil
	}
	keys := make([]BlobKey, 0, len(refs))
	for k := range refs {
		keys = append(keys, k)
	}
	return keys
}
