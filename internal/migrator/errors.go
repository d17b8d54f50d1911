package migrator

import "errors"

// Kind classifies why a run stopped.
type Kind string

const (
	KindCatalogLoad     Kind = "CatalogLoadError"
	KindIntegrity       Kind = "IntegrityError"
	KindJournalRead     Kind = "JournalReadError"
	KindJournalWrite    Kind = "JournalWriteError"
	KindScriptExecution Kind = "ScriptExecutionError"
	KindLockContention  Kind = "LockContentionError"
)

var (
	ErrCatalogLoad     = errors.New("catalog load failed")
	ErrIntegrity       = errors.New("checksum drift detected")
	ErrJournalRead     = errors.New("journal read failed")
	ErrJournalWrite    = errors.New("journal write failed")
	ErrScriptExecution = errors.New("script execution failed")
	ErrLockContention  = errors.New("migration lock not acquired")

	ErrUnknownScript = errors.New("no such script in catalog")
)

var sentinels = map[Kind]error{
	KindCatalogLoad:     ErrCatalogLoad,
	KindIntegrity:       ErrIntegrity,
	KindJournalRead:     ErrJournalRead,
	KindJournalWrite:    ErrJournalWrite,
	KindScriptExecution: ErrScriptExecution,
	KindLockContention:  ErrLockContention,
}

// Error is the structured failure carried by a Report. errors.Is matches
// both the wrapped cause and the sentinel of its Kind.
type Error struct {
	Kind     Kind
	ScriptID string
	Err      error
}

// newError wraps err unless it already is an *Error, which is passed
// through unchanged.
func newError(kind Kind, scriptID string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: kind, ScriptID: scriptID, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.ScriptID != "" {
		msg += " [" + e.ScriptID + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Message is the cause without the kind prefix.
func (e *Error) Message() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return sentinels[e.Kind] == target
}
