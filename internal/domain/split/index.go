package split

import (
	"fmt"
	"regexp"
)

var indexIDPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,254}$`)

// IndexMetadata is what the metastore knows about an index.
type IndexMetadata struct {
	IndexID string `json:"index_id" yaml:"index_id"`
	// IndexURI is where the split files of the index live.
	IndexURI string `json:"index_uri" yaml:"index_uri"`
	// DocMapping is the serialized doc mapper config.
	DocMapping string `json:"doc_mapping" yaml:"doc_mapping"`
	CreatedAt  int64  `json:"created_at" yaml:"created_at"`
}

// ValidateIndexID checks an index id.
func ValidateIndexID(id string) error {
	if !indexIDPattern.MatchString(id) {
		return fmt.Errorf("invalid index id %q: must start with a letter and contain only letters, digits, '-' or '_'", id)
	}
	return nil
}
