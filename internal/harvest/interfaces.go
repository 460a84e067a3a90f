package harvest

import (
	"context"
	"time"
)

// Fetcher retrieves one page. Transports return raw transport errors; the
// fetch client converts them into TransientFetchError or PermanentFetchError.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (RawDocument, error)
}

// DatasetStore loads and atomically replaces persisted issue datasets.
// Load reports found=false, with no error, when nothing was persisted yet.
type DatasetStore interface {
	Load(ctx context.Context, ref DatasetRef) (IssueDataset, bool, error)
	Save(ctx context.Context, ref DatasetRef, dataset IssueDataset) (string, error)
}

// Publisher pushes hand-off notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher fingerprints an encoded dataset.
type Hasher interface {
	Hash(data []byte) (string, error)
}
