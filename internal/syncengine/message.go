package syncengine

import "github.com/Bestalexmartin/Cuebe-sub002/internal/script"

const (
	// UpdateTypeScriptInfo tags a broadcast of merged document-metadata changes.
	UpdateTypeScriptInfo = "script_info"
	// UpdateTypeElements tags a broadcast of ordered element operations.
	UpdateTypeElements = "elements_updated"
)

// BroadcastMessage is the envelope sent over the sync channel. Metadata and
// element updates travel as two independent messages so collaborators can
// apply them independently.
type BroadcastMessage struct {
	UpdateType  string `json:"update_type"`
	Changes     any    `json:"changes"`
	OperationID string `json:"operation_id"`
}

// partitionSnapshot splits a snapshot into document-metadata operations and
// element operations, preserving enqueue order within each partition.
func partitionSnapshot(snapshot []script.EditOperation) (metadata, elements []script.EditOperation) {
	for _, operation := range snapshot {
		if operation.IsDocumentMetadata() {
			metadata = append(metadata, operation)
		} else {
			elements = append(elements, operation)
		}
	}
	return metadata, elements
}

// mergeMetadataChanges folds the changes of all metadata operations into one
// field map; later operations win per key.
func mergeMetadataChanges(operations []script.EditOperation) map[string]any {
	merged := make(map[string]any)
	for _, operation := range operations {
		if operation.ScriptInfo == nil {
			continue
		}
		for field, value := range operation.ScriptInfo.Changes {
			merged[field] = value
		}
	}
	return merged
}
