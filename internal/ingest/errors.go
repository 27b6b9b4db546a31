package ingest

import "errors"

// Kind classifies why an upload session ended without publishing a file.
type Kind string

const (
	// MalformedMetadata covers bad indices, counts, folders and sizes.
	MalformedMetadata Kind = "malformed_metadata"
	// Cancelled is an explicit client cancel or a server shutdown.
	Cancelled Kind = "cancelled"
	// TimedOut is a watchdog expiry.
	TimedOut Kind = "timed_out"
	// SinkError is an I/O failure writing the temp file.
	SinkError Kind = "sink_error"
	// NoChunksReceived is end of stream with zero accepted payloads.
	NoChunksReceived Kind = "no_chunks_received"
	// ContentRejected is a sniffed type outside the allow-list or on the deny-list.
	ContentRejected Kind = "content_rejected"
	// StorageMoveError is a failed publish after validation; the temp file is kept.
	StorageMoveError Kind = "storage_move_error"
	// RecordError is a failed FileRecord upsert after a successful publish.
	RecordError Kind = "record_error"
)

// KeepsTempFile reports whether the temp file survives a failure of this kind.
func (k Kind) KeepsTempFile() bool {
	return k == StorageMoveError || k == RecordError
}

// Sentinels for errors.Is; an *Error matches the sentinel of its Kind.
var (
	ErrMalformedMetadata = &Error{Kind: MalformedMetadata}
	ErrCancelled         = &Error{Kind: Cancelled}
	ErrTimedOut          = &Error{Kind: TimedOut}
	ErrSinkError         = &Error{Kind: SinkError}
	ErrNoChunksReceived  = &Error{Kind: NoChunksReceived}
	ErrContentRejected   = &Error{Kind: ContentRejected}
	ErrStorageMoveError  = &Error{Kind: StorageMoveError}
	ErrRecordError       = &Error{Kind: RecordError}
)

// Error is a terminal session error. Message is safe to show to clients;
// Err carries the internal cause for logs.
type Error struct {
	Kind     Kind
	UploadID string
	Message  string
	Err      error
}

func newError(kind Kind, uploadID, message string, err error) *Error {
	return &Error{Kind: kind, UploadID: uploadID, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the Kind of err, or "" when err is not an ingest error.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return ""
}

// clientMessage returns the message reported in upload_error.
func clientMessage(err error) string {
	var ie *Error
	if errors.As(err, &ie) && ie.Message != "" {
		return ie.Message
	}
	return "Upload failed"
}
