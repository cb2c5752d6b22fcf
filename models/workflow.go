package models

import "strings"

// WorkflowState is the position of an order in the production workflow
type WorkflowState string

const (
	StateReceived        WorkflowState = "RECEIVED"
	StateQueuedDraw      WorkflowState = "QUEUED_DRAW"
	StateInDraw          WorkflowState = "IN_DRAW"
	StateSubmittedDraw   WorkflowState = "SUBMITTED_DRAW"
	StateQueuedCheck     WorkflowState = "QUEUED_CHECK"
	StateInCheck         WorkflowState = "IN_CHECK"
	StateRejectedByCheck WorkflowState = "REJECTED_BY_CHECK"
	StateSubmittedCheck  WorkflowState = "SUBMITTED_CHECK"
	StateQueuedQA        WorkflowState = "QUEUED_QA"
	StateInQA            WorkflowState = "IN_QA"
	StateRejectedByQA    WorkflowState = "REJECTED_BY_QA"
	StateApprovedQA      WorkflowState = "APPROVED_QA"
	StateQueuedDesign    WorkflowState = "QUEUED_DESIGN"
	StateInDesign        WorkflowState = "IN_DESIGN"
	StateSubmittedDesign WorkflowState = "SUBMITTED_DESIGN"
	StateDelivered       WorkflowState = "DELIVERED"
	StateOnHold          WorkflowState = "ON_HOLD"
	StateCancelled       WorkflowState = "CANCELLED"
)

// IsTerminal reports whether no further transitions are possible
func (s WorkflowState) IsTerminal() bool {
	return s == StateDelivered || s == StateCancelled
}

// Layer is one stage of a project's workflow, named after the role that works it
type Layer string

const (
	LayerDrawer   Layer = "drawer"
	LayerChecker  Layer = "checker"
	LayerQA       Layer = "qa"
	LayerDesigner Layer = "designer"
)

// layerStates maps each layer to its queued, in-progress, submitted and rejected states.
// Layers without a rejection state use the empty string.
var layerStates = map[Layer]struct {
	queued, active, submitted, rejected WorkflowState
}{
	LayerDrawer:   {StateQueuedDraw, StateInDraw, StateSubmittedDraw, ""},
	LayerChecker:  {StateQueuedCheck, StateInCheck, StateSubmittedCheck, StateRejectedByCheck},
	LayerQA:       {StateQueuedQA, StateInQA, StateApprovedQA, StateRejectedByQA},
	LayerDesigner: {StateQueuedDesign, StateInDesign, StateSubmittedDesign, ""},
}

// AllLayers lists every known layer in canonical pipeline order
var AllLayers = []Layer{LayerDrawer, LayerChecker, LayerQA, LayerDesigner}

// ParseLayer accepts both layer names ("drawer") and stage short names ("draw")
func ParseLayer(s string) (Layer, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "drawer", "draw":
		return LayerDrawer, true
	case "checker", "check":
		return LayerChecker, true
	case "qa":
		return LayerQA, true
	case "designer", "design":
		return LayerDesigner, true
	}
	return "", false
}

// Valid reports whether the layer is known
func (l Layer) Valid() bool {
	_, ok := layerStates[l]
	return ok
}

// QueuedState returns QUEUED_<layer>
func (l Layer) QueuedState() WorkflowState { return layerStates[l].queued }

// ActiveState returns IN_<layer>
func (l Layer) ActiveState() WorkflowState { return layerStates[l].active }

// SubmittedState returns the transient state reached on submit (APPROVED_QA for qa)
func (l Layer) SubmittedState() WorkflowState { return layerStates[l].submitted }

// RejectedState returns REJECTED_BY_<layer>, empty for layers that cannot reject
func (l Layer) RejectedState() WorkflowState { return layerStates[l].rejected }

// CanReject reports whether work on this layer can be rejected back upstream
func (l Layer) CanReject() bool { return layerStates[l].rejected != "" }

// LayerOfQueued returns the layer whose queue the state represents
func LayerOfQueued(s WorkflowState) (Layer, bool) {
	for l, st := range layerStates {
		if st.queued == s {
			return l, true
		}
	}
	return "", false
}

// LayerOfActive returns the layer being worked when the order is in state s
func LayerOfActive(s WorkflowState) (Layer, bool) {
	for l, st := range layerStates {
		if st.active == s {
			return l, true
		}
	}
	return "", false
}

// IsActive reports whether s is one of the IN_<layer> states
func (s WorkflowState) IsActive() bool {
	_, ok := LayerOfActive(s)
	return ok
}

// IsQueued reports whether s is one of the QUEUED_<layer> states
func (s WorkflowState) IsQueued() bool {
	_, ok := LayerOfQueued(s)
	return ok
}

// Priority levels, highest rank drawn first
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// PriorityRank returns the queue rank of a priority; unknown values rank as medium
func PriorityRank(p string) int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityLow:
		return 1
	default:
		return 2
	}
}

// ValidPriority reports whether p is one of the known priorities
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}
