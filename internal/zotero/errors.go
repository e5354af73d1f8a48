package zotero

import "errors"

var (
	// ErrInvalidCredential marks a permanent failure: the key/owner pair was
	// rejected by the remote service and retrying will not help.
	ErrInvalidCredential = errors.New("invalid zotero credential")
	// ErrTransient marks a retryable failure (timeout, network error, 5xx).
	ErrTransient = errors.New("transient zotero error")
	// ErrCollectionNotFound is returned when a named collection does not
	// exist in the owner's library.
	ErrCollectionNotFound = errors.New("collection not found")
	// ErrUpstream covers other upstream fetch failures on the read path.
	ErrUpstream = errors.New("upstream fetch failed")
)
