package policy

import "github.com/rle/grps/internal/domain"

// Warning thresholds for automated punishment.
const (
	SevereWarningThreshold = 7
	TrialWarningThreshold  = 4
)

// Default decision messages. A caller-supplied reason replaces them.
const (
	MsgSevere           = "Warnings exceed severe threshold"
	MsgTrial            = "Trial punishment in effect"
	MsgAlreadySuspended = "Player already suspended"
	MsgPromotion        = "Eligible for promotion"
	MsgDemotion         = "Rank points below threshold"
	MsgNoAction         = "No action required"
)

// AutomationState is the slice of a player record the rules look at.
type AutomationState struct {
	Rank             string
	RankPoints       int64
	Warnings         int64
	PunishmentStatus string
}

// AutomationOutcome is the pure result of EvaluateAutomation.
type AutomationOutcome struct {
	Action     domain.AutomationAction
	TargetRank string
	Message    string
}

// StateOf extracts the rule inputs from a player.
func StateOf(p *domain.Player) AutomationState {
	s := AutomationState{
		Rank:       p.Rank,
		RankPoints: p.RankPoints,
		Warnings:   p.Warnings,
	}
	if p.PunishmentStatus != nil {
		s.PunishmentStatus = *p.PunishmentStatus
	}
	return s
}

// EvaluateAutomation applies the decision rules in priority order; the first match wins.
// Promotion is only proposed when the current or next rank is privileged.
func EvaluateAutomation(p *RankPolicy, s AutomationState) AutomationOutcome {
	if s.Warnings >= SevereWarningThreshold || s.PunishmentStatus == domain.PunishmentSevere {
		return AutomationOutcome{Action: domain.ActionBan, Message: MsgSevere}
	}
	if s.Warnings >= TrialWarningThreshold || s.PunishmentStatus == domain.PunishmentTrial {
		if s.Rank != domain.RankSuspended {
			return AutomationOutcome{Action: domain.ActionSuspend, TargetRank: domain.RankSuspended, Message: MsgTrial}
		}
		return AutomationOutcome{Action: domain.ActionNone, Message: MsgAlreadySuspended}
	}

	current, ok := p.RankByName(s.Rank)
	if !ok {
		current, ok = p.RankForPoints(s.RankPoints)
	}
	if ok {
		next, hasNext := p.NextRankByName(current.Name)
		if hasNext && s.RankPoints >= next.MinPoints && (current.Privileged || next.Privileged) {
			return AutomationOutcome{Action: domain.ActionPromote, TargetRank: next.Name, Message: MsgPromotion}
		}
		prev, hasPrev := p.PreviousRankByName(current.Name)
		if hasPrev && s.RankPoints < current.MinPoints {
			return AutomationOutcome{Action: domain.ActionDemote, TargetRank: prev.Name, Message: MsgDemotion}
		}
	}

	return AutomationOutcome{Action: domain.ActionNone, Message: MsgNoAction}
}
