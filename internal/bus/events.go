package bus

import "github.com/scrypster/riya/pkg/types"

// Event is implemented by every payload the bus carries. The set is closed:
// only the types in this file satisfy it.
type Event interface {
	EventName() string
	event()
}

// AnalyzeInteraction asks the background pipeline to process a finished
// conversation.
type AnalyzeInteraction struct {
	UserID     string
	SessionID  string
	Transcript types.Transcript
}

// MemoryCreated is published once per persisted memory.
type MemoryCreated struct {
	Memory *types.Memory
}

// StageChanged is published when a recomputed relationship stage differs
// from the stored one.
type StageChanged struct {
	UserID string
	From   types.RelationshipStage
	To     types.RelationshipStage
	Depth  *types.RelationshipDepth
}

// TriggerDispatched is published after a trigger was marked sent.
type TriggerDispatched struct {
	Trigger   *types.EngagementTrigger
	SessionID string
}

func (AnalyzeInteraction) EventName() string { return "analyze_interaction" }
func (MemoryCreated) EventName() string      { return "memory_created" }
func (StageChanged) EventName() string       { return "stage_changed" }
func (TriggerDispatched) EventName() string  { return "trigger_dispatched" }

func (AnalyzeInteraction) event() {}
func (MemoryCreated) event()      {}
func (StageChanged) event()       {}
func (TriggerDispatched) event()  {}
