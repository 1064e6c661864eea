package model

import "errors"

// Fatal integrity errors. These are never downgraded to warnings.
var (
	ErrInvalidPassphraseOrCorruptState = errors.New("brain: invalid passphrase or corrupt state")
	ErrCorruptOrTamperedBrain          = errors.New("brain: corrupt or tampered brain")
	ErrSchemaVersionUnsupported        = errors.New("brain: schema version unsupported")
	ErrImportVerifyOnlyFailure         = errors.New("brain: import verification failed")
	ErrImportSignatureMismatch         = errors.New("brain: import signature mismatch")
)

// Operational errors.
var (
	ErrBranchNotFound      = errors.New("brain: branch not found")
	ErrDuplicateBranchName = errors.New("brain: duplicate branch name")
	ErrStaleBranchHead     = errors.New("brain: stale branch head")
	ErrBrokenLineage       = errors.New("brain: broken lineage")
	ErrBrainLocked         = errors.New("brain: locked by another process")
	ErrBrainNotFound       = errors.New("brain: not found")
	ErrBrainExists         = errors.New("brain: already exists")
	ErrNotFound            = errors.New("brain: memory not found")
	ErrUnresolvedConflict  = errors.New("brain: unresolved conflict")
	ErrPermissionDenied    = errors.New("brain: permission denied")
	ErrReadOnly            = errors.New("brain: handle is read-only")
	ErrHandleClosed        = errors.New("brain: handle is closed")
	ErrInvalidArgument     = errors.New("brain: invalid argument")
)
