package eventbus

import "time"

// Event types published by the poller and dispatchers.
const (
	TypeCycleStarted  = "cycle.started"
	TypeCycleFinished = "cycle.finished"
	TypeFetchOK       = "fetch.ok"
	TypeFetchFailed   = "fetch.failed"
	TypeChange        = "change.detected"
	TypeThrottled     = "notify.throttled"
	TypeNotifySent    = "notify.sent"
	TypeNotifyFailed  = "notify.failed"
	TypeNotifyDeduped = "notify.deduped"
	TypePersistFailed = "state.persist_failed"
)

// CycleEvent is the payload of cycle.* events.
type CycleEvent struct {
	ID       string        `json:"id"`
	Accounts int           `json:"accounts"`
	Took     time.Duration `json:"took,omitempty"`
}

// ProviderEvent is the payload of fetch.*, change.*, notify.throttled and
// state.* events.
type ProviderEvent struct {
	CycleID  string        `json:"cycle_id"`
	Account  string        `json:"account"`
	Provider string        `json:"provider,omitempty"`
	Kind     string        `json:"kind,omitempty"`
	Took     time.Duration `json:"took,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// NotifyEvent is the payload of notify.sent/failed/deduped.
type NotifyEvent struct {
	Dispatcher string        `json:"dispatcher"`
	Key        string        `json:"key,omitempty"`
	Took       time.Duration `json:"took,omitempty"`
	Error      string        `json:"error,omitempty"`
}
