package store

import (
	"fmt"
)

// Resource type for Redis keys.
type Resource string

const (
	ResourceDocument    Resource = "documents"
	ResourceRecord      Resource = "records"
	ResourceFingerprint Resource = "fingerprints"
)

// Key constructs a fully qualified Redis key.
// Format: papermill:{resource}:{id}
func Key(resource Resource, id string) string {
	return fmt.Sprintf("papermill:%s:%s", resource, id)
}

// statusCountsKey is the hash tracking document counts per status.
const statusCountsKey = "papermill:status_counts"
