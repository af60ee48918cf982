package editor

import (
	"errors"
	"fmt"
)

var (
	ErrNotSignedIn          = errors.New("editor: not signed in")
	ErrPermissionDenied     = errors.New("editor: permission denied")
	ErrFieldNotEditable     = errors.New("editor: field is not editable")
	ErrInvalidValue         = errors.New("editor: invalid value")
	ErrRowNotFound          = errors.New("editor: row not found")
	ErrNoSelection          = errors.New("editor: no rows selected")
	ErrConfirmationRequired = errors.New("editor: confirmation required")
	ErrNothingToUndo        = errors.New("editor: nothing to undo")
	ErrWriteFailed          = errors.New("editor: write failed")
	ErrPlanLimit            = errors.New("editor: plan limit reached")
	ErrUnknownEvent         = errors.New("editor: unknown event")
	ErrSessionClosed        = errors.New("editor: session closed")
)

// Status classifies the result of a dispatched event.
type Status string

const (
	StatusApplied           Status = "applied"
	StatusIgnored           Status = "ignored"
	StatusRejected          Status = "rejected"
	StatusNeedsConfirmation Status = "needs_confirmation"
	StatusFailed            Status = "failed"
)

const (
	noticeSignIn           = "Sign in to edit."
	noticePermissionDenied = "You do not have permission to change this."
	noticeFieldNotEditable = "This column is calculated automatically."
	noticeInvalidStatus    = "Choose a status from the list."
	noticeInvalidLength    = "Choose a length from the list."
	noticeRowMissing       = "That row no longer exists."
	noticeWriteFailed      = "Could not save. Check your connection and try again."
	noticeNothingToUndo    = "Nothing to undo."
	noticeUndone           = "Undone."
	noticeNoSelection      = "Select one or more rows first."
	noticePlanLimit        = "This project has reached its row limit."
	noticeEmptyLogText     = "Enter some text first."
	noticeEntryMissing     = "That entry could not be found."
	noticeInvalidFrameRate = "Frame rate must be a positive whole number."
	noticeEmptyStatuses    = "Keep at least one status."
	noticeInvalidOrder     = "The new order does not match the current rows."
	noticeGuestOn          = "Viewing as a guest."
	noticeGuestOff         = "Guest view off."
)

// Outcome is the result of one user action. Notice is the transient message for the
// user; Err classifies the result for callers.
type Outcome struct {
	Status Status   `json:"status"`
	Notice string   `json:"notice,omitempty"`
	RowIDs []string `json:"rowIds,omitempty"`
	Err    error    `json:"-"`
}

func applied(notice string, rowIDs ...string) Outcome {
	return Outcome{Status: StatusApplied, Notice: notice, RowIDs: rowIDs}
}

func ignored() Outcome {
	return Outcome{Status: StatusIgnored}
}

func rejected(err error, notice string) Outcome {
	return Outcome{Status: StatusRejected, Notice: notice, Err: err}
}

func needsConfirmation(notice string) Outcome {
	return Outcome{Status: StatusNeedsConfirmation, Notice: notice, Err: ErrConfirmationRequired}
}

func failed(cause error, notice string) Outcome {
	return Outcome{Status: StatusFailed, Notice: notice, Err: fmt.Errorf("%w: %w", ErrWriteFailed, cause)}
}

func confirmDeleteRowsNotice(count int) string {
	if count == 1 {
		return "Delete 1 row? This cannot be undone."
	}
	return fmt.Sprintf("Delete %d rows? This cannot be undone.", count)
}
