package ingest

import (
	"github.com/nimeninja/ingestd/internal/models"
)

// Notifier delivers events to the connection that started a session.
// Emit must not block: implementations drop events they cannot deliver.
type Notifier interface {
	Emit(event string, payload any)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(event string, payload any)

// Emit calls f.
func (f NotifierFunc) Emit(event string, payload any) {
	f(event, payload)
}

// discard is used when a session has no connection to report to.
var discard = NotifierFunc(func(string, any) {})

func emitError(n Notifier, uploadID string, err error) {
	n.Emit(models.EventUploadError, models.UploadErrorEvent{
		UploadID: uploadID,
		Message:  clientMessage(err),
	})
}
