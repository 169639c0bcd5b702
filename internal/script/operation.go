package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// OperationKind enumerates the closed set of edit operation variants.
type OperationKind string

const (
	// OperationReorder moves an element to a new sequence position.
	OperationReorder OperationKind = "reorder"
	// OperationFieldUpdate changes a single field on an element.
	OperationFieldUpdate OperationKind = "field_update"
	// OperationTimingShift changes an element's timing offset.
	OperationTimingShift OperationKind = "timing_shift"
	// OperationElementCreate inserts a new element.
	OperationElementCreate OperationKind = "element_create"
	// OperationElementUpdate applies a partial change set to an element.
	OperationElementUpdate OperationKind = "element_update"
	// OperationElementDelete removes an element.
	OperationElementDelete OperationKind = "element_delete"
	// OperationGroupCreate assigns a set of elements to a named group.
	OperationGroupCreate OperationKind = "group_create"
	// OperationGroupDissolve removes a group assignment from its members.
	OperationGroupDissolve OperationKind = "group_dissolve"
	// OperationBulkFieldUpdate changes several fields on one element at once.
	OperationBulkFieldUpdate OperationKind = "bulk_field_update"
	// OperationCollapseToggle flips an element's collapsed state.
	OperationCollapseToggle OperationKind = "collapse_toggle"
	// OperationScriptInfoUpdate changes document-level metadata fields.
	OperationScriptInfoUpdate OperationKind = "script_info_update"
)

var (
	// ErrInvalidOperation indicates a malformed edit operation.
	ErrInvalidOperation = errors.New("script: invalid operation")
	// ErrUnknownOperationKind indicates an unrecognized operation discriminant.
	ErrUnknownOperationKind = errors.New("script: unknown operation kind")
)

// ReorderPayload carries the old and new sequence positions for a reorder.
type ReorderPayload struct {
	OldPosition int `json:"old_position"`
	NewPosition int `json:"new_position"`
}

// FieldUpdatePayload carries a single field change with its previous value.
type FieldUpdatePayload struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// TimingShiftPayload carries the old and new timing offsets in milliseconds.
type TimingShiftPayload struct {
	OldOffsetMS int64 `json:"old_offset_ms"`
	NewOffsetMS int64 `json:"new_offset_ms"`
}

// ElementPayload describes a full element for creation operations.
type ElementPayload struct {
	ElementID  string `json:"element_id"`
	Kind       string `json:"kind"`
	Label      string `json:"label"`
	Department string `json:"department,omitempty"`
	Position   int    `json:"position"`
	OffsetMS   int64  `json:"offset_ms"`
	GroupID    string `json:"group_id,omitempty"`
	Collapsed  bool   `json:"collapsed,omitempty"`
}

// ElementUpdatePayload carries a partial change set keyed by field name.
type ElementUpdatePayload struct {
	Changes map[string]any `json:"changes"`
}

// GroupCreatePayload names a group and lists its member elements.
type GroupCreatePayload struct {
	GroupID   string   `json:"group_id"`
	MemberIDs []string `json:"member_ids"`
	GroupName string   `json:"group_name"`
}

// GroupDissolvePayload identifies the group to dissolve.
type GroupDissolvePayload struct {
	GroupID string `json:"group_id"`
}

// BulkFieldUpdatePayload carries a field map plus previous values for revert.
type BulkFieldUpdatePayload struct {
	Fields         map[string]any `json:"fields"`
	PreviousFields map[string]any `json:"previous_fields"`
}

// CollapseTogglePayload carries the resulting collapsed state.
type CollapseTogglePayload struct {
	Collapsed bool `json:"collapsed"`
}

// ScriptInfoPayload carries document-metadata field changes.
type ScriptInfoPayload struct {
	Changes map[string]any `json:"changes"`
}

// EditOperation is one atomic, replayable edit to a shared script. Exactly
// one variant payload is populated, selected by Kind. Every operation is
// self-describing: it can be serialized, broadcast, and replayed without
// consulting external state.
type EditOperation struct {
	ID          OperationID
	Timestamp   time.Time
	ElementID   string
	Description string
	Kind        OperationKind

	Reorder     *ReorderPayload
	FieldUpdate *FieldUpdatePayload
	TimingShift *TimingShiftPayload
	Create      *ElementPayload
	Update      *ElementUpdatePayload
	Group       *GroupCreatePayload
	Dissolve    *GroupDissolvePayload
	BulkUpdate  *BulkFieldUpdatePayload
	Collapse    *CollapseTogglePayload
	ScriptInfo  *ScriptInfoPayload
}

// IsDocumentMetadata reports whether the operation belongs to the
// document-metadata broadcast partition rather than the element partition.
func (op EditOperation) IsDocumentMetadata() bool {
	return op.Kind == OperationScriptInfoUpdate
}

// Validate checks that the operation carries its discriminant, identifier,
// and the payload required by its kind.
func (op EditOperation) Validate() error {
	if op.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidOperation)
	}
	if op.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidOperation)
	}

	needsElement := true
	var payloadPresent bool
	switch op.Kind {
	case OperationReorder:
		payloadPresent = op.Reorder != nil
	case OperationFieldUpdate:
		payloadPresent = op.FieldUpdate != nil && op.FieldUpdate.Field != ""
	case OperationTimingShift:
		payloadPresent = op.TimingShift != nil
	case OperationElementCreate:
		payloadPresent = op.Create != nil && op.Create.ElementID != ""
	case OperationElementUpdate:
		payloadPresent = op.Update != nil && len(op.Update.Changes) > 0
	case OperationElementDelete:
		payloadPresent = true
	case OperationGroupCreate:
		needsElement = false
		payloadPresent = op.Group != nil && op.Group.GroupID != "" && len(op.Group.MemberIDs) > 0
	case OperationGroupDissolve:
		needsElement = false
		payloadPresent = op.Dissolve != nil && op.Dissolve.GroupID != ""
	case OperationBulkFieldUpdate:
		payloadPresent = op.BulkUpdate != nil && len(op.BulkUpdate.Fields) > 0
	case OperationCollapseToggle:
		payloadPresent = op.Collapse != nil
	case OperationScriptInfoUpdate:
		needsElement = false
		payloadPresent = op.ScriptInfo != nil && len(op.ScriptInfo.Changes) > 0
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperationKind, op.Kind)
	}

	if !payloadPresent {
		return fmt.Errorf("%w: kind %s requires its payload", ErrInvalidOperation, op.Kind)
	}
	if needsElement && op.ElementID == "" && op.Kind != OperationElementCreate {
		return fmt.Errorf("%w: kind %s requires an element id", ErrInvalidOperation, op.Kind)
	}
	return nil
}

// operationWire is the flat JSON representation shared by the persistence
// endpoint and the broadcast channel.
type operationWire struct {
	ID             string          `json:"id"`
	Timestamp      int64           `json:"timestamp"`
	ElementID      string          `json:"element_id,omitempty"`
	Description    string          `json:"description,omitempty"`
	Type           OperationKind   `json:"type"`
	OldPosition    *int            `json:"old_position,omitempty"`
	NewPosition    *int            `json:"new_position,omitempty"`
	Field          string          `json:"field,omitempty"`
	OldValue       json.RawMessage `json:"old_value,omitempty"`
	NewValue       json.RawMessage `json:"new_value,omitempty"`
	OldOffsetMS    *int64          `json:"old_offset_ms,omitempty"`
	NewOffsetMS    *int64          `json:"new_offset_ms,omitempty"`
	Element        *ElementPayload `json:"element,omitempty"`
	Changes        map[string]any  `json:"changes,omitempty"`
	GroupID        string          `json:"group_id,omitempty"`
	MemberIDs      []string        `json:"member_ids,omitempty"`
	GroupName      string          `json:"group_name,omitempty"`
	Fields         map[string]any  `json:"fields,omitempty"`
	PreviousFields map[string]any  `json:"previous_fields,omitempty"`
	Collapsed      *bool           `json:"collapsed,omitempty"`
}

// MarshalJSON serializes the operation as a flat object carrying the common
// fields plus the variant fields selected by Kind.
func (op EditOperation) MarshalJSON() ([]byte, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	wire := operationWire{
		ID:          op.ID.String(),
		Timestamp:   op.Timestamp.UTC().UnixMilli(),
		ElementID:   op.ElementID,
		Description: op.Description,
		Type:        op.Kind,
	}

	switch op.Kind {
	case OperationReorder:
		wire.OldPosition = pointerTo(op.Reorder.OldPosition)
		wire.NewPosition = pointerTo(op.Reorder.NewPosition)
	case OperationFieldUpdate:
		wire.Field = op.FieldUpdate.Field
		oldValue, err := json.Marshal(op.FieldUpdate.OldValue)
		if err != nil {
			return nil, err
		}
		newValue, err := json.Marshal(op.FieldUpdate.NewValue)
		if err != nil {
			return nil, err
		}
		wire.OldValue = oldValue
		wire.NewValue = newValue
	case OperationTimingShift:
		wire.OldOffsetMS = pointerTo(op.TimingShift.OldOffsetMS)
		wire.NewOffsetMS = pointerTo(op.TimingShift.NewOffsetMS)
	case OperationElementCreate:
		wire.Element = op.Create
	case OperationElementUpdate:
		wire.Changes = op.Update.Changes
	case OperationElementDelete:
	case OperationGroupCreate:
		wire.GroupID = op.Group.GroupID
		wire.MemberIDs = op.Group.MemberIDs
		wire.GroupName = op.Group.GroupName
	case OperationGroupDissolve:
		wire.GroupID = op.Dissolve.GroupID
	case OperationBulkFieldUpdate:
		wire.Fields = op.BulkUpdate.Fields
		wire.PreviousFields = op.BulkUpdate.PreviousFields
	case OperationCollapseToggle:
		wire.Collapsed = pointerTo(op.Collapse.Collapsed)
	case OperationScriptInfoUpdate:
		wire.Changes = op.ScriptInfo.Changes
	}

	return json.Marshal(wire)
}

// UnmarshalJSON decodes the flat wire form, rejecting unknown kinds and
// missing variant payloads.
func (op *EditOperation) UnmarshalJSON(data []byte) error {
	var wire operationWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
	}

	id, err := NewOperationID(wire.ID)
	if err != nil {
		return err
	}

	decoded := EditOperation{
		ID:          id,
		Timestamp:   time.UnixMilli(wire.Timestamp).UTC(),
		ElementID:   wire.ElementID,
		Description: wire.Description,
		Kind:        wire.Type,
	}

	switch wire.Type {
	case OperationReorder:
		if wire.OldPosition == nil || wire.NewPosition == nil {
			return fmt.Errorf("%w: reorder requires old_position and new_position", ErrInvalidOperation)
		}
		decoded.Reorder = &ReorderPayload{OldPosition: *wire.OldPosition, NewPosition: *wire.NewPosition}
	case OperationFieldUpdate:
		if wire.Field == "" {
			return fmt.Errorf("%w: field_update requires field", ErrInvalidOperation)
		}
		payload := &FieldUpdatePayload{Field: wire.Field}
		if len(wire.OldValue) > 0 {
			if err := json.Unmarshal(wire.OldValue, &payload.OldValue); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
			}
		}
		if len(wire.NewValue) > 0 {
			if err := json.Unmarshal(wire.NewValue, &payload.NewValue); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidOperation, err)
			}
		}
		decoded.FieldUpdate = payload
	case OperationTimingShift:
		if wire.OldOffsetMS == nil || wire.NewOffsetMS == nil {
			return fmt.Errorf("%w: timing_shift requires old_offset_ms and new_offset_ms", ErrInvalidOperation)
		}
		decoded.TimingShift = &TimingShiftPayload{OldOffsetMS: *wire.OldOffsetMS, NewOffsetMS: *wire.NewOffsetMS}
	case OperationElementCreate:
		if wire.Element == nil {
			return fmt.Errorf("%w: element_create requires element", ErrInvalidOperation)
		}
		decoded.Create = wire.Element
	case OperationElementUpdate:
		if len(wire.Changes) == 0 {
			return fmt.Errorf("%w: element_update requires changes", ErrInvalidOperation)
		}
		decoded.Update = &ElementUpdatePayload{Changes: wire.Changes}
	case OperationElementDelete:
	case OperationGroupCreate:
		if wire.GroupID == "" || len(wire.MemberIDs) == 0 {
			return fmt.Errorf("%w: group_create requires group_id and member_ids", ErrInvalidOperation)
		}
		decoded.Group = &GroupCreatePayload{GroupID: wire.GroupID, MemberIDs: wire.MemberIDs, GroupName: wire.GroupName}
	case OperationGroupDissolve:
		if wire.GroupID == "" {
			return fmt.Errorf("%w: group_dissolve requires group_id", ErrInvalidOperation)
		}
		decoded.Dissolve = &GroupDissolvePayload{GroupID: wire.GroupID}
	case OperationBulkFieldUpdate:
		if len(wire.Fields) == 0 {
			return fmt.Errorf("%w: bulk_field_update requires fields", ErrInvalidOperation)
		}
		decoded.BulkUpdate = &BulkFieldUpdatePayload{Fields: wire.Fields, PreviousFields: wire.PreviousFields}
	case OperationCollapseToggle:
		if wire.Collapsed == nil {
			return fmt.Errorf("%w: collapse_toggle requires collapsed", ErrInvalidOperation)
		}
		decoded.Collapse = &CollapseTogglePayload{Collapsed: *wire.Collapsed}
	case OperationScriptInfoUpdate:
		if len(wire.Changes) == 0 {
			return fmt.Errorf("%w: script_info_update requires changes", ErrInvalidOperation)
		}
		decoded.ScriptInfo = &ScriptInfoPayload{Changes: wire.Changes}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOperationKind, wire.Type)
	}

	if err := decoded.Validate(); err != nil {
		return err
	}
	*op = decoded
	return nil
}

func pointerTo[T any](value T) *T {
	v := value
	return &v
}
