package script

import (
	"fmt"
	"sort"
)

// OperationRejectedError reports an operation the server refused to apply.
// The message is surfaced verbatim to the editing client.
type OperationRejectedError struct {
	OperationID string
	Reason      string
}

func (e *OperationRejectedError) Error() string {
	return fmt.Sprintf("operation %s rejected: %s", e.OperationID, e.Reason)
}

func rejectOperation(op EditOperation, format string, args ...any) error {
	return &OperationRejectedError{
		OperationID: op.ID.String(),
		Reason:      fmt.Sprintf(format, args...),
	}
}

// applier replays an ordered operation batch against an in-memory copy of a
// script and its elements. All mutations happen in memory; the service
// persists the outcome in one transaction.
type applier struct {
	script   *Script
	elements []*ScriptElement
	byID     map[string]*ScriptElement
	touched  map[string]struct{}
	now      int64
}

func newApplier(scriptRow *Script, elements []*ScriptElement, nowSeconds int64) *applier {
	sorted := make([]*ScriptElement, 0, len(elements))
	byID := make(map[string]*ScriptElement, len(elements))
	for _, element := range elements {
		byID[element.ElementID] = element
		if !element.IsDeleted {
			sorted = append(sorted, element)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Position < sorted[j].Position
	})
	return &applier{
		script:   scriptRow,
		elements: sorted,
		byID:     byID,
		touched:  make(map[string]struct{}),
		now:      nowSeconds,
	}
}

func (a *applier) apply(op EditOperation) error {
	if err := op.Validate(); err != nil {
		return rejectOperation(op, "%v", err)
	}

	switch op.Kind {
	case OperationReorder:
		return a.applyReorder(op)
	case OperationFieldUpdate:
		element, err := a.requireElement(op)
		if err != nil {
			return err
		}
		if err := a.applyElementField(op, element, op.FieldUpdate.Field, op.FieldUpdate.NewValue); err != nil {
			return err
		}
		a.markTouched(element)
		return nil
	case OperationTimingShift:
		element, err := a.requireElement(op)
		if err != nil {
			return err
		}
		element.OffsetMS = op.TimingShift.NewOffsetMS
		a.markTouched(element)
		return nil
	case OperationElementCreate:
		return a.applyCreate(op)
	case OperationElementUpdate:
		element, err := a.requireElement(op)
		if err != nil {
			return err
		}
		for field, value := range op.Update.Changes {
			if err := a.applyElementField(op, element, field, value); err != nil {
				return err
			}
		}
		a.markTouched(element)
		return nil
	case OperationElementDelete:
		return a.applyDelete(op)
	case OperationGroupCreate:
		return a.applyGroupCreate(op)
	case OperationGroupDissolve:
		return a.applyGroupDissolve(op)
	case OperationBulkFieldUpdate:
		element, err := a.requireElement(op)
		if err != nil {
			return err
		}
		for field, value := range op.BulkUpdate.Fields {
			if err := a.applyElementField(op, element, field, value); err != nil {
				return err
			}
		}
		a.markTouched(element)
		return nil
	case OperationCollapseToggle:
		element, err := a.requireElement(op)
		if err != nil {
			return err
		}
		element.Collapsed = op.Collapse.Collapsed
		a.markTouched(element)
		return nil
	case OperationScriptInfoUpdate:
		for field, value := range op.ScriptInfo.Changes {
			if err := a.applyScriptField(op, field, value); err != nil {
				return err
			}
		}
		return nil
	default:
		return rejectOperation(op, "unknown kind %q", op.Kind)
	}
}

func (a *applier) requireElement(op EditOperation) (*ScriptElement, error) {
	element, ok := a.byID[op.ElementID]
	if !ok || element.IsDeleted {
		return nil, rejectOperation(op, "element %s not found", op.ElementID)
	}
	return element, nil
}

func (a *applier) markTouched(element *ScriptElement) {
	element.UpdatedAtSeconds = a.now
	a.touched[element.ElementID] = struct{}{}
}

func (a *applier) applyReorder(op EditOperation) error {
	element, err := a.requireElement(op)
	if err != nil {
		return err
	}

	currentIndex := -1
	for index, candidate := range a.elements {
		if candidate.ElementID == element.ElementID {
			currentIndex = index
			break
		}
	}
	if currentIndex < 0 {
		return rejectOperation(op, "element %s not in sequence", op.ElementID)
	}

	target := op.Reorder.NewPosition
	if target < 0 {
		target = 0
	}
	if target >= len(a.elements) {
		target = len(a.elements) - 1
	}

	moved := a.elements[currentIndex]
	a.elements = append(a.elements[:currentIndex], a.elements[currentIndex+1:]...)
	a.elements = append(a.elements[:target], append([]*ScriptElement{moved}, a.elements[target:]...)...)
	a.resequence()
	return nil
}

func (a *applier) applyCreate(op EditOperation) error {
	payload := op.Create
	if existing, ok := a.byID[payload.ElementID]; ok && !existing.IsDeleted {
		return rejectOperation(op, "element %s already exists", payload.ElementID)
	}

	element := &ScriptElement{
		ScriptID:         a.script.ScriptID,
		ElementID:        payload.ElementID,
		Kind:             payload.Kind,
		Label:            payload.Label,
		Department:       payload.Department,
		OffsetMS:         payload.OffsetMS,
		GroupID:          payload.GroupID,
		Collapsed:        payload.Collapsed,
		CreatedAtSeconds: a.now,
		UpdatedAtSeconds: a.now,
	}
	if element.Kind == "" {
		element.Kind = "cue"
	}

	insertAt := payload.Position
	if insertAt < 0 || insertAt > len(a.elements) {
		insertAt = len(a.elements)
	}
	a.elements = append(a.elements[:insertAt], append([]*ScriptElement{element}, a.elements[insertAt:]...)...)
	a.byID[element.ElementID] = element
	a.touched[element.ElementID] = struct{}{}
	a.resequence()
	return nil
}

func (a *applier) applyDelete(op EditOperation) error {
	element, err := a.requireElement(op)
	if err != nil {
		return err
	}
	element.IsDeleted = true
	a.markTouched(element)

	for index, candidate := range a.elements {
		if candidate.ElementID == element.ElementID {
			a.elements = append(a.elements[:index], a.elements[index+1:]...)
			break
		}
	}
	a.resequence()
	return nil
}

func (a *applier) applyGroupCreate(op EditOperation) error {
	for _, memberID := range op.Group.MemberIDs {
		element, ok := a.byID[memberID]
		if !ok || element.IsDeleted {
			return rejectOperation(op, "group member %s not found", memberID)
		}
		element.GroupID = op.Group.GroupID
		element.GroupName = op.Group.GroupName
		a.markTouched(element)
	}
	return nil
}

func (a *applier) applyGroupDissolve(op EditOperation) error {
	for _, element := range a.elements {
		if element.GroupID == op.Dissolve.GroupID {
			element.GroupID = ""
			element.GroupName = ""
			a.markTouched(element)
		}
	}
	return nil
}

func (a *applier) applyElementField(op EditOperation, element *ScriptElement, field string, value any) error {
	switch field {
	case "label":
		text, ok := stringValue(value)
		if !ok {
			return rejectOperation(op, "field %s requires a string value", field)
		}
		element.Label = text
	case "department":
		text, ok := stringValue(value)
		if !ok {
			return rejectOperation(op, "field %s requires a string value", field)
		}
		element.Department = text
	case "kind":
		text, ok := stringValue(value)
		if !ok {
			return rejectOperation(op, "field %s requires a string value", field)
		}
		element.Kind = text
	case "offset_ms":
		offset, ok := int64Value(value)
		if !ok {
			return rejectOperation(op, "field %s requires an integer value", field)
		}
		element.OffsetMS = offset
	case "collapsed":
		collapsed, ok := boolValue(value)
		if !ok {
			return rejectOperation(op, "field %s requires a boolean value", field)
		}
		element.Collapsed = collapsed
	default:
		return rejectOperation(op, "unknown element field %q", field)
	}
	return nil
}

func (a *applier) applyScriptField(op EditOperation, field string, value any) error {
	switch field {
	case "title":
		text, ok := stringValue(value)
		if !ok {
			return rejectOperation(op, "field %s requires a string value", field)
		}
		a.script.Title = text
	case "venue":
		text, ok := stringValue(value)
		if !ok {
			return rejectOperation(op, "field %s requires a string value", field)
		}
		a.script.Venue = text
	case "performance_date_s":
		seconds, ok := int64Value(value)
		if !ok {
			return rejectOperation(op, "field %s requires an integer value", field)
		}
		a.script.PerformanceDateSeconds = seconds
	default:
		return rejectOperation(op, "unknown script field %q", field)
	}
	return nil
}

func (a *applier) resequence() {
	for index, element := range a.elements {
		if element.Position != index {
			element.Position = index
			a.markTouched(element)
		}
	}
}

// touchedElements returns every element mutated by the batch, including
// deleted ones, for persistence.
func (a *applier) touchedElements() []*ScriptElement {
	result := make([]*ScriptElement, 0, len(a.touched))
	for elementID := range a.touched {
		if element, ok := a.byID[elementID]; ok {
			result = append(result, element)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ElementID < result[j].ElementID
	})
	return result
}

// state assembles the reconciled document after all operations applied.
func (a *applier) state() ScriptState {
	elements := make([]ElementState, 0, len(a.elements))
	for _, element := range a.elements {
		elements = append(elements, ElementState{
			ElementID:  element.ElementID,
			Position:   element.Position,
			Kind:       element.Kind,
			Label:      element.Label,
			Department: element.Department,
			OffsetMS:   element.OffsetMS,
			GroupID:    element.GroupID,
			GroupName:  element.GroupName,
			Collapsed:  element.Collapsed,
		})
	}
	return ScriptState{
		ScriptID:               a.script.ScriptID,
		OwnerID:                a.script.OwnerID,
		Title:                  a.script.Title,
		Venue:                  a.script.Venue,
		PerformanceDateSeconds: a.script.PerformanceDateSeconds,
		Revision:               a.script.Revision,
		UpdatedAtSeconds:       a.script.UpdatedAtSeconds,
		Elements:               elements,
	}
}

func stringValue(value any) (string, bool) {
	text, ok := value.(string)
	return text, ok
}

func int64Value(value any) (int64, bool) {
	switch typed := value.(type) {
	case int:
		return int64(typed), true
	case int64:
		return typed, true
	case float64:
		return int64(typed), true
	default:
		return 0, false
	}
}

func boolValue(value any) (bool, bool) {
	flag, ok := value.(bool)
	return flag, ok
}
