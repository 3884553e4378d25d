package casework

import "github.com/noosi159/Hospital1-backend/internal/platform/apperr"

type Status string

const (
	StatusNew             Status = "NEW"
	StatusAssignedAuditor Status = "ASSIGNED_AUDITOR"
	StatusAuditing        Status = "AUDITING"
	StatusSentToCoder     Status = "SENT_TO_CODER"
	StatusCoderWorking    Status = "CODER_WORKING"
	StatusCoderSent       Status = "CODER_SENT"
	StatusConfirmed       Status = "CONFIRMED"
	StatusReturned        Status = "RETURNED"
)

// AllStatuses is the display order used by status counts.
var AllStatuses = []Status{
	StatusNew, StatusAssignedAuditor, StatusAuditing, StatusSentToCoder,
	StatusCoderWorking, StatusCoderSent, StatusConfirmed, StatusReturned,
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type Event string

const (
	EventAssignAuditor   Event = "ASSIGN_AUDITOR"
	EventAuditorSave     Event = "AUDITOR_SAVE"
	EventReturn          Event = "RETURN"
	EventExportToCoder   Event = "EXPORT_TO_CODER"
	EventClaim           Event = "CLAIM"
	EventCoderSave       Event = "CODER_SAVE"
	EventExportToAuditor Event = "EXPORT_TO_AUDITOR"
	EventConfirm         Event = "CONFIRM"
)

type transition struct {
	from []Status
	to   Status
}

var transitions = map[Event]transition{
	EventAssignAuditor:   {from: []Status{StatusNew, StatusReturned}, to: StatusAssignedAuditor},
	EventAuditorSave:     {from: []Status{StatusAssignedAuditor, StatusAuditing}, to: StatusAuditing},
	EventReturn:          {from: []Status{StatusAssignedAuditor, StatusAuditing}, to: StatusReturned},
	EventExportToCoder:   {from: []Status{StatusAssignedAuditor, StatusAuditing}, to: StatusSentToCoder},
	EventClaim:           {from: []Status{StatusSentToCoder}, to: StatusCoderWorking},
	EventCoderSave:       {from: []Status{StatusCoderWorking}, to: StatusCoderWorking},
	EventExportToAuditor: {from: []Status{StatusCoderWorking}, to: StatusCoderSent},
	EventConfirm:         {from: []Status{StatusCoderSent}, to: StatusConfirmed},
}

// Once a case reaches the coder it can no longer be returned by the auditor.
var returnBlocked = map[Status]bool{
	StatusSentToCoder:  true,
	StatusCoderWorking: true,
	StatusConfirmed:    true,
}

// Next returns the status ev moves a case in status from to, or a conflict
// naming why the transition is not allowed.
func Next(from Status, ev Event) (Status, error) {
	t, ok := transitions[ev]
	if !ok {
		return from, apperr.Validation("unknown event %q", ev)
	}
	for _, s := range t.from {
		if s == from {
			return t.to, nil
		}
	}
	if ev == EventReturn && returnBlocked[from] {
		return from, apperr.Conflict("case has already been sent to the coder and cannot be returned")
	}
	if ev == EventClaim && from == StatusCoderWorking {
		return from, apperr.Conflict("case already claimed by another coder")
	}
	if ev == EventClaim {
		return from, apperr.Conflict("case must be %s to claim", StatusSentToCoder)
	}
	return from, apperr.Conflict("cannot %s a case in status %s", ev.verb(), from)
}

func (e Event) verb() string {
	switch e {
	case EventAssignAuditor:
		return "assign"
	case EventAuditorSave, EventCoderSave:
		return "save"
	case EventReturn:
		return "return"
	case EventExportToCoder:
		return "export to coder"
	case EventExportToAuditor:
		return "export to auditor"
	case EventConfirm:
		return "confirm"
	default:
		return string(e)
	}
}
