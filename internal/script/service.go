package script

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrScriptNotFound indicates the requested script does not exist.
	ErrScriptNotFound = errors.New("script: not found")
	// ErrEmptyBatch indicates a save request carried no operations.
	ErrEmptyBatch = errors.New("script: empty operation batch")
)

// ServiceError wraps a failure with a stable operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew      = "script.service.new"
	opApplyOperations = "script.apply_operations"
	opCreateScript    = "script.create_script"
	opGetState        = "script.get_state"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues unique identifiers for audit records and new scripts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the script service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service persists script documents and applies ordered edit operation
// batches as the single source of truth.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateScript inserts a new empty script owned by the given user.
func (s *Service) CreateScript(ctx context.Context, ownerID UserID, title string) (ScriptState, error) {
	scriptID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateScript, "id_generation_failed", err)
		return ScriptState{}, newServiceError(opCreateScript, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	row := Script{
		ScriptID:         scriptID,
		OwnerID:          ownerID.String(),
		Title:            title,
		Revision:         0,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		s.logError(opCreateScript, "insert_failed", err, zap.String("script_id", scriptID))
		return ScriptState{}, newServiceError(opCreateScript, "insert_failed", err)
	}

	return ScriptState{
		ScriptID:         row.ScriptID,
		OwnerID:          row.OwnerID,
		Title:            row.Title,
		Revision:         row.Revision,
		UpdatedAtSeconds: row.UpdatedAtSeconds,
		Elements:         []ElementState{},
	}, nil
}

// ApplyOperations applies an ordered operation batch inside one transaction
// and returns the fully reconciled document. A rejected operation aborts the
// entire batch; nothing is persisted.
func (s *Service) ApplyOperations(ctx context.Context, userID UserID, scriptID ScriptID, operations []EditOperation) (ScriptState, error) {
	if len(operations) == 0 {
		return ScriptState{}, newServiceError(opApplyOperations, "empty_batch", ErrEmptyBatch)
	}

	var reconciled ScriptState
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var scriptRow Script
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("script_id = ?", scriptID.String()).
			Take(&scriptRow).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opApplyOperations, "script_not_found", ErrScriptNotFound)
		}
		if err != nil {
			s.logError(opApplyOperations, "script_select_failed", err, zap.String("script_id", scriptID.String()))
			return newServiceError(opApplyOperations, "script_select_failed", err)
		}

		var elementRows []ScriptElement
		if err := tx.Where("script_id = ?", scriptID.String()).Find(&elementRows).Error; err != nil {
			s.logError(opApplyOperations, "element_select_failed", err, zap.String("script_id", scriptID.String()))
			return newServiceError(opApplyOperations, "element_select_failed", err)
		}

		elements := make([]*ScriptElement, 0, len(elementRows))
		for index := range elementRows {
			elements = append(elements, &elementRows[index])
		}

		appliedAt := s.clock().UTC()
		batch := newApplier(&scriptRow, elements, appliedAt.Unix())

		scriptRow.Revision++
		scriptRow.UpdatedAtSeconds = appliedAt.Unix()

		for _, operation := range operations {
			if err := batch.apply(operation); err != nil {
				var rejected *OperationRejectedError
				if errors.As(err, &rejected) {
					return err
				}
				s.logError(opApplyOperations, "apply_failed", err,
					zap.String("script_id", scriptID.String()),
					zap.String("operation_id", operation.ID.String()))
				return newServiceError(opApplyOperations, "apply_failed", err)
			}

			auditRecord, err := s.buildAuditRecord(scriptRow, userID, operation, appliedAt)
			if err != nil {
				return err
			}
			if err := tx.Create(auditRecord).Error; err != nil {
				s.logError(opApplyOperations, "audit_insert_failed", err,
					zap.String("script_id", scriptID.String()),
					zap.String("operation_id", operation.ID.String()))
				return newServiceError(opApplyOperations, "audit_insert_failed", err)
			}
		}

		if err := tx.Save(&scriptRow).Error; err != nil {
			s.logError(opApplyOperations, "script_save_failed", err, zap.String("script_id", scriptID.String()))
			return newServiceError(opApplyOperations, "script_save_failed", err)
		}
		for _, element := range batch.touchedElements() {
			if err := tx.Save(element).Error; err != nil {
				s.logError(opApplyOperations, "element_save_failed", err,
					zap.String("script_id", scriptID.String()),
					zap.String("element_id", element.ElementID))
				return newServiceError(opApplyOperations, "element_save_failed", err)
			}
		}

		reconciled = batch.state()
		return nil
	})

	if txErr != nil {
		return ScriptState{}, txErr
	}

	s.logger.Info("operation batch applied",
		zap.String("script_id", scriptID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("operations", len(operations)),
		zap.Int64("revision", reconciled.Revision))
	return reconciled, nil
}

// GetState returns the current reconciled document for a script.
func (s *Service) GetState(ctx context.Context, scriptID ScriptID) (ScriptState, error) {
	var scriptRow Script
	err := s.db.WithContext(ctx).Where("script_id = ?", scriptID.String()).Take(&scriptRow).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ScriptState{}, newServiceError(opGetState, "script_not_found", ErrScriptNotFound)
	}
	if err != nil {
		s.logError(opGetState, "script_select_failed", err, zap.String("script_id", scriptID.String()))
		return ScriptState{}, newServiceError(opGetState, "script_select_failed", err)
	}

	var elementRows []ScriptElement
	if err := s.db.WithContext(ctx).
		Where("script_id = ? AND is_deleted = ?", scriptID.String(), false).
		Order("position ASC").
		Find(&elementRows).Error; err != nil {
		s.logError(opGetState, "element_select_failed", err, zap.String("script_id", scriptID.String()))
		return ScriptState{}, newServiceError(opGetState, "element_select_failed", err)
	}

	elements := make([]ElementState, 0, len(elementRows))
	for _, element := range elementRows {
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
		ScriptID:               scriptRow.ScriptID,
		OwnerID:                scriptRow.OwnerID,
		Title:                  scriptRow.Title,
		Venue:                  scriptRow.Venue,
		PerformanceDateSeconds: scriptRow.PerformanceDateSeconds,
		Revision:               scriptRow.Revision,
		UpdatedAtSeconds:       scriptRow.UpdatedAtSeconds,
		Elements:               elements,
	}, nil
}

func (s *Service) buildAuditRecord(scriptRow Script, userID UserID, operation EditOperation, appliedAt time.Time) (*ScriptChange, error) {
	changeID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opApplyOperations, "id_generation_failed", err)
		return nil, newServiceError(opApplyOperations, "id_generation_failed", err)
	}
	operationJSON, err := operation.MarshalJSON()
	if err != nil {
		s.logError(opApplyOperations, "operation_encode_failed", err,
			zap.String("operation_id", operation.ID.String()))
		return nil, newServiceError(opApplyOperations, "operation_encode_failed", err)
	}
	return &ScriptChange{
		ChangeID:          changeID,
		ScriptID:          scriptRow.ScriptID,
		UserID:            userID.String(),
		OperationID:       operation.ID.String(),
		ElementID:         operation.ElementID,
		Kind:              operation.Kind,
		Description:       operation.Description,
		AppliedAtSeconds:  appliedAt.Unix(),
		ClientTimestampMS: operation.Timestamp.UTC().UnixMilli(),
		OperationJSON:     string(operationJSON),
		ResultingRevision: scriptRow.Revision,
	}, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("script service error", attrs...)
}
