package memory

import (
	"encoding/json"
	"fmt"
	"strconv"

	"poolcore/pkg/domain"
)

// RevisionBucket holds the store revision next to the per-kind buckets.
const RevisionBucket = "revision"

// BucketNames lists the persisted bucket names in write order.
func BucketNames() []string {
	names := make([]string, 0, len(domain.Kinds())+1)
	for _, kind := range domain.Kinds() {
		names = append(names, string(kind))
	}
	return append(names, RevisionBucket)
}

// EncodeBuckets splits a snapshot into one JSON payload per bucket.
func EncodeBuckets(snapshot Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(domain.Kinds())+1)
	for _, kind := range domain.Kinds() {
		docs := snapshot.Buckets[kind]
		if docs == nil {
			docs = map[string]Document{}
		}
		data, err := json.Marshal(docs)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", kind, err)
		}
		out[string(kind)] = data
	}
	out[RevisionBucket] = []byte(strconv.FormatUint(snapshot.Revision, 10))
	return out, nil
}

// DecodeBuckets rebuilds a snapshot from bucket payloads. Unknown buckets are
// ignored so older databases keep loading.
func DecodeBuckets(payloads map[string][]byte) (Snapshot, error) {
	snapshot := Snapshot{Buckets: make(map[domain.Kind]map[string]Document, len(payloads))}
	for name, payload := range payloads {
		if len(payload) == 0 {
			continue
		}
		if name == RevisionBucket {
			rev, err := strconv.ParseUint(string(payload), 10, 64)
			if err != nil {
				return Snapshot{}, fmt.Errorf("decode revision: %w", err)
			}
			snapshot.Revision = rev
			continue
		}
		kind, ok := domain.ParseKind(name)
		if !ok {
			continue
		}
		var docs map[string]Document
		if err := json.Unmarshal(payload, &docs); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s: %w", name, err)
		}
		snapshot.Buckets[kind] = docs
	}
	return snapshot, nil
}
