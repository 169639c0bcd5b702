package syncengine

import (
	"reflect"
	"sync"

	"github.com/brunoga/deep"
)

// ChangeDetector compares the live editable fields of a document against the
// last known-saved baseline to derive the "unsaved changes" flag. The
// baseline moves only after a confirmed successful save.
type ChangeDetector struct {
	mu          sync.Mutex
	baseline    map[string]any
	established bool
}

// NewChangeDetector constructs a detector with no baseline. HasChanges
// reports false until a baseline is established, so a document that has not
// finished loading never shows a false positive.
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{}
}

// SetBaseline replaces the baseline with a deep clone of the given fields.
func (d *ChangeDetector) SetBaseline(fields map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baseline = cloneFields(fields)
	d.established = true
}

// Rebase merges only the saved fields into the baseline, leaving unrelated
// baseline fields untouched. Called exactly once per successful save.
func (d *ChangeDetector) Rebase(saved map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.baseline == nil {
		d.baseline = make(map[string]any, len(saved))
	}
	for field, value := range cloneFields(saved) {
		d.baseline[field] = value
	}
	d.established = true
}

// Reset drops the baseline; HasChanges reports false until the next
// SetBaseline.
func (d *ChangeDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.baseline = nil
	d.established = false
}

// HasChanges deep-compares the current editable fields against the baseline.
func (d *ChangeDetector) HasChanges(current map[string]any) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.established {
		return false
	}

	seen := make(map[string]struct{}, len(current))
	for field, currentValue := range current {
		seen[field] = struct{}{}
		baselineValue, inBaseline := d.baseline[field]
		if !inBaseline {
			if !isAbsent(currentValue) {
				return true
			}
			continue
		}
		if !valuesEqual(baselineValue, currentValue) {
			return true
		}
	}
	for field, baselineValue := range d.baseline {
		if _, ok := seen[field]; ok {
			continue
		}
		if !isAbsent(baselineValue) {
			return true
		}
	}
	return false
}

// Baseline returns a deep clone of the current baseline, mostly for tests
// and diagnostics.
func (d *ChangeDetector) Baseline() map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.baseline == nil {
		return nil
	}
	return cloneFields(d.baseline)
}

func cloneFields(fields map[string]any) map[string]any {
	copied, err := deep.Copy(fields)
	if err != nil {
		// Field maps carry only JSON-shaped values, which always copy.
		return fields
	}
	return copied
}

// isAbsent treats nil as equivalent to a missing key: either side being
// absent makes the pair equal only when both are absent.
func isAbsent(value any) bool {
	return value == nil
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	switch typedA := a.(type) {
	case map[string]any:
		typedB, ok := b.(map[string]any)
		if !ok || len(typedA) != len(typedB) {
			return false
		}
		for key, valueA := range typedA {
			valueB, present := typedB[key]
			if !present || !valuesEqual(valueA, valueB) {
				return false
			}
		}
		return true
	case []any:
		typedB, ok := b.([]any)
		if !ok || len(typedA) != len(typedB) {
			return false
		}
		for index := range typedA {
			if !valuesEqual(typedA[index], typedB[index]) {
				return false
			}
		}
		return true
	case string:
		typedB, ok := b.(string)
		return ok && typedA == typedB
	case bool:
		typedB, ok := b.(bool)
		return ok && typedA == typedB
	}

	if numberA, okA := numericValue(a); okA {
		if numberB, okB := numericValue(b); okB {
			return numberA == numberB
		}
		return false
	}

	return reflect.DeepEqual(a, b)
}

// numericValue normalizes the integer and float representations that appear
// when the same document round-trips through JSON decoding.
func numericValue(value any) (float64, bool) {
	switch typed := value.(type) {
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case float32:
		return float64(typed), true
	case float64:
		return typed, true
	default:
		return 0, false
	}
}
