package domain

// AutomationAction is the verdict of a rule evaluation.
type AutomationAction string

const (
	ActionNone    AutomationAction = "NONE"
	ActionPromote AutomationAction = "PROMOTE"
	ActionDemote  AutomationAction = "DEMOTE"
	ActionSuspend AutomationAction = "SUSPEND"
	ActionBan     AutomationAction = "BAN"
)

// AutomationDecision is the outcome returned to callers.
type AutomationDecision struct {
	Action     AutomationAction `json:"action"`
	Reason     string           `json:"reason"`
	TargetRank *string          `json:"targetRank"`
	Apply      bool             `json:"apply"`
	RequestID  string           `json:"requestId"`
}

// Applicable reports whether applying the decision changes anything.
func (d AutomationDecision) Applicable() bool {
	return d.Action != ActionNone
}
