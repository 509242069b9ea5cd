package collector

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
)

// sourceLink is the document map embedded in a module's debug information.
type sourceLink struct {
	Documents map[string]string `json:"documents"`
}

func parseSourceLink(raw string) (*sourceLink, error) {
	var sl sourceLink
	if err := json.Unmarshal([]byte(raw), &sl); err != nil {
		return nil, fmt.Errorf("failed to parse source link: %w", err)
	}
	return &sl, nil
}

// URL maps a local document path to its source-control URL. An exact key
// wins; otherwise the wildcard key rooted closest to the document is used.
// The document is returned unchanged when nothing matches.
func (sl *sourceLink) URL(document string) string {
	if url, ok := sl.Documents[document]; ok {
		return url
	}

	normalizedDoc := strings.ReplaceAll(document, `\`, "/")
	docDir := path.Dir(normalizedDoc)

	bestKey, bestRel, found := "", "", false
	for key := range sl.Documents {
		normalized := strings.ReplaceAll(key, `\`, "/")
		if path.Base(normalized) != "*" {
			continue
		}
		root := path.Dir(normalized)

		rel := ""
		if docDir != root {
			prefix := strings.TrimSuffix(root, "/") + "/"
			if !strings.HasPrefix(docDir, prefix) {
				continue
			}
			rel = strings.TrimPrefix(docDir, prefix)
		}

		// ties break on the key so the result does not depend on map order
		if !found || len(rel) < len(bestRel) || (len(rel) == len(bestRel) && key < bestKey) {
			bestKey, bestRel, found = key, rel, true
		}
	}
	if !found {
		return document
	}

	replacement := path.Join(bestRel, path.Base(normalizedDoc))
	return strings.Replace(sl.Documents[bestKey], "*", replacement, 1)
}
