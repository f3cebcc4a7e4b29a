// Package dapserver is the DAP Handler Surface: a TCP listener speaking
// the Debug Adapter Protocol (length-prefixed JSON, via google/go-dap)
// and one handler per supported request, each translating into a
// DebugBridge operation. Handlers never touch the VM directly: reads
// are marshalled onto the VM thread through Bridge.Submit, breakpoint
// mutations go through the Task Pool when the VM is running.
package dapserver

import (
	"github.com/sssooonnnggg/luaud/internal/breakpoints"
	"github.com/sssooonnnggg/luaud/internal/bridge"
	"github.com/sssooonnnggg/luaud/internal/eval"
	"github.com/sssooonnnggg/luaud/internal/logging"
	"github.com/sssooonnnggg/luaud/internal/metrics"
	"github.com/sssooonnnggg/luaud/internal/pathmap"
	"github.com/sssooonnnggg/luaud/internal/scopes"
	"github.com/sssooonnnggg/luaud/internal/stepping"
	"github.com/sssooonnnggg/luaud/internal/vmglue"
	"github.com/sssooonnnggg/luaud/internal/vmhost"
	"github.com/sssooonnnggg/luaud/internal/vmreg"
)

// AuditRecorder receives break-episode records for the session audit
// log. internal/audit satisfies it.
type AuditRecorder interface {
	RecordBreak(sessionID, reason, path string, line int)
	RecordDisconnect(sessionID string)
}

// HistoryRecorder receives evaluate transcripts. internal/evalhistory
// satisfies it.
type HistoryRecorder interface {
	Record(sessionID string, frameID int, context, expression, resultType string, results []string)
}

// EventPublisher fans debug events out to spectators. internal/observer
// satisfies it.
type EventPublisher interface {
	Publish(event string, data interface{})
}

// Host bundles everything a Session needs to serve a client. Metrics,
// Audit, History and Observer are optional; a nil field disables that
// integration.
type Host struct {
	VM     *vmhost.VM
	Bridge *bridge.Bridge
	Files  *breakpoints.Store
	Scopes *scopes.Registry
	Step   *stepping.Controller
	Eval   *eval.Evaluator
	Paths  *pathmap.Mapper
	Glue   *vmglue.Glue
	Reg    *vmreg.Registry
	Log    *logging.Logger

	Metrics  *metrics.Metrics
	Audit    AuditRecorder
	History  HistoryRecorder
	Observer EventPublisher

	// OnLaunchExit runs after a disconnect response when the session
	// kind was Launch: launch implies the process exits on disconnect.
	OnLaunchExit func()
}
