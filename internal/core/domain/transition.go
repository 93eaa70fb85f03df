package domain

type TransitionKind uint8

const (
	TransitionDeny TransitionKind = iota
	// TransitionMove moves the event to Next.
	TransitionMove
	// TransitionKeep leaves the status untouched.
	TransitionKeep
	// TransitionRestore returns to the status held before the pending correction.
	TransitionRestore
)

type Transition struct {
	Kind TransitionKind
	Next EventStatus
}

func (t Transition) Allowed() bool {
	return t.Kind != TransitionDeny
}

func move(next EventStatus) Transition { return Transition{Kind: TransitionMove, Next: next} }

var transitions = map[EventStatus]map[ActionType]Transition{
	StatusUnspecified: {
		ActionCreate: move(StatusCreated),
	},
	StatusCreated: {
		ActionNotify:  move(StatusNotified),
		ActionDeclare: move(StatusDeclared),
		ActionArchive: move(StatusArchived),
	},
	StatusNotified: {
		ActionDeclare:  move(StatusDeclared),
		ActionValidate: move(StatusValidated),
		ActionReject:   move(StatusRejected),
		ActionArchive:  move(StatusArchived),
	},
	StatusDeclared: {
		ActionValidate: move(StatusValidated),
		ActionRegister: move(StatusRegistered),
		ActionReject:   move(StatusRejected),
		ActionArchive:  move(StatusArchived),
	},
	StatusValidated: {
		ActionRegister: move(StatusRegistered),
		ActionReject:   move(StatusRejected),
		ActionArchive:  move(StatusArchived),
	},
	StatusRejected: {
		ActionNotify:   move(StatusNotified),
		ActionDeclare:  move(StatusDeclared),
		ActionValidate: move(StatusValidated),
		ActionArchive:  move(StatusArchived),
	},
	StatusRegistered: {
		ActionPrintCertificate:  move(StatusCertified),
		ActionRequestCorrection: move(StatusCorrectionRequested),
		ActionArchive:           move(StatusArchived),
	},
	StatusCertified: {
		ActionPrintCertificate:  move(StatusCertified),
		ActionRequestCorrection: move(StatusCorrectionRequested),
	},
	StatusCorrectionRequested: {
		ActionApproveCorrection: move(StatusRegistered),
		ActionRejectCorrection:  {Kind: TransitionRestore},
	},
	StatusArchived: {},
}

func init() {
	for status, row := range transitions {
		if status == StatusUnspecified {
			continue
		}
		row[ActionRead] = Transition{Kind: TransitionKeep}
		row[ActionAssign] = Transition{Kind: TransitionKeep}
		row[ActionUnassign] = Transition{Kind: TransitionKeep}
		if status != StatusArchived {
			row[ActionCustom] = Transition{Kind: TransitionKeep}
		}
	}
}

// NextStatus is the transition table. It is total: every pair not listed is denied.
func NextStatus(current EventStatus, t ActionType) Transition {
	row, ok := transitions[current]
	if !ok {
		return Transition{}
	}
	return row[t]
}

// IllegalActionTypes lists the action types that can no longer be submitted
// from status.
func IllegalActionTypes(status EventStatus) []ActionType {
	var out []ActionType
	for _, t := range ActionTypes {
		if !NextStatus(status, t).Allowed() {
			out = append(out, t)
		}
	}
	return out
}
