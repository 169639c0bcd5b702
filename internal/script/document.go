package script

// Script models the persisted show script document.
type Script struct {
	ScriptID               string `gorm:"column:script_id;primaryKey;size:190;not null"`
	OwnerID                string `gorm:"column:owner_id;size:190;not null;index:idx_scripts_owner"`
	Title                  string `gorm:"column:title;size:320;not null"`
	Venue                  string `gorm:"column:venue;size:320;not null;default:''"`
	PerformanceDateSeconds int64  `gorm:"column:performance_date_s;not null;default:0"`
	Revision               int64  `gorm:"column:revision;not null;default:0"`
	CreatedAtSeconds       int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds       int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Script) TableName() string {
	return "scripts"
}

// ScriptElement models one cue, scene, or note line within a script.
type ScriptElement struct {
	ScriptID         string `gorm:"column:script_id;primaryKey;size:190;not null;index:idx_elements_script_pos,priority:1"`
	ElementID        string `gorm:"column:element_id;primaryKey;size:190;not null"`
	Position         int    `gorm:"column:position;not null;index:idx_elements_script_pos,priority:2"`
	Kind             string `gorm:"column:kind;size:32;not null;default:'cue'"`
	Label            string `gorm:"column:label;size:320;not null;default:''"`
	Department       string `gorm:"column:department;size:190;not null;default:''"`
	OffsetMS         int64  `gorm:"column:offset_ms;not null;default:0"`
	GroupID          string `gorm:"column:group_id;size:190;not null;default:''"`
	GroupName        string `gorm:"column:group_name;size:320;not null;default:''"`
	Collapsed        bool   `gorm:"column:collapsed;not null;default:false"`
	IsDeleted        bool   `gorm:"column:is_deleted;not null;default:false"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ScriptElement) TableName() string {
	return "script_elements"
}

// ScriptChange captures an append-only audit trail of applied operations.
type ScriptChange struct {
	ChangeID          string        `gorm:"column:change_id;primaryKey;size:190;not null"`
	ScriptID          string        `gorm:"column:script_id;not null;index:idx_script_changes_script,priority:1"`
	UserID            string        `gorm:"column:user_id;size:190;not null"`
	OperationID       string        `gorm:"column:operation_id;size:190;not null"`
	ElementID         string        `gorm:"column:element_id;size:190;not null;default:''"`
	Kind              OperationKind `gorm:"column:op_kind;size:64;not null"`
	Description       string        `gorm:"column:description;size:512;not null;default:''"`
	AppliedAtSeconds  int64         `gorm:"column:applied_at_s;not null;index:idx_script_changes_script,priority:2"`
	ClientTimestampMS int64         `gorm:"column:client_time_ms;not null"`
	OperationJSON     string        `gorm:"column:operation_json;type:text;not null"`
	ResultingRevision int64         `gorm:"column:resulting_revision;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ScriptChange) TableName() string {
	return "script_changes"
}

// ElementState is the wire form of one element inside a reconciled document.
type ElementState struct {
	ElementID  string `json:"element_id"`
	Position   int    `json:"position"`
	Kind       string `json:"kind"`
	Label      string `json:"label"`
	Department string `json:"department,omitempty"`
	OffsetMS   int64  `json:"offset_ms"`
	GroupID    string `json:"group_id,omitempty"`
	GroupName  string `json:"group_name,omitempty"`
	Collapsed  bool   `json:"collapsed"`
}

// ScriptState is the authoritative document returned after a successful
// save; clients replace local state with it wholesale.
type ScriptState struct {
	ScriptID               string         `json:"script_id"`
	OwnerID                string         `json:"owner_id"`
	Title                  string         `json:"title"`
	Venue                  string         `json:"venue,omitempty"`
	PerformanceDateSeconds int64          `json:"performance_date_s,omitempty"`
	Revision               int64          `json:"revision"`
	UpdatedAtSeconds       int64          `json:"updated_at_s"`
	Elements               []ElementState `json:"elements"`
}
