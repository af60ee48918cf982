package docstore

import (
	"errors"
	"fmt"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")

	// ErrRowMissing reports a write that targets a row the project does not hold.
	ErrRowMissing = errors.New("docstore: row not found")
	// ErrPlanLimit reports that the project reached its configured row allowance.
	ErrPlanLimit = errors.New("docstore: plan limit reached")
	// ErrSettingsMissing reports a settings write before the document was seeded.
	ErrSettingsMissing = errors.New("docstore: settings not found")
	// ErrEmptyBatch reports a commit without any writes.
	ErrEmptyBatch = errors.New("docstore: empty batch")
)

// StoreError carries a dotted <operation>.<reason> code alongside the cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew        = "docstore.new"
	opCommit          = "docstore.commit"
	opCreateRow       = "docstore.create_row"
	opDeleteRows      = "docstore.delete_rows"
	opGetRow          = "docstore.get_row"
	opListRows        = "docstore.list_rows"
	opEnsureSettings  = "docstore.ensure_settings"
	opGetSettings     = "docstore.get_settings"
	opSaveSchedule    = "docstore.save_schedule_board"
	opGetSchedule     = "docstore.get_schedule_board"
	opBackfillLogIDs  = "docstore.backfill_log_ids"
	opDecodeRecord    = "docstore.decode_record"
	reasonQueryFailed = "query_failed"
)

func newStoreError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &StoreError{code: code, err: cause}
}

// ErrorCode extracts the dotted code from err, or "" when err is not a StoreError.
func ErrorCode(err error) string {
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		return storeErr.Code()
	}
	return ""
}
