package transaction

import (
	"context"
	"log"
)

// LogAuditLog is the default AuditLog: it writes action lifecycle
// lines to the process log. Durable audit storage beyond these
// start/complete/giveUp calls is a downstream concern.
type LogAuditLog struct{}

func (LogAuditLog) Start(_ context.Context, action string) {
	log.Printf("audit: start %s", action)
}

func (LogAuditLog) Complete(_ context.Context, action string) {
	log.Printf("audit: complete %s", action)
}

func (LogAuditLog) GiveUp(_ context.Context, action string, reason error) {
	log.Printf("audit: give up %s: %v", action, reason)
}
