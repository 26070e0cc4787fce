package types

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders JobModel dispatch. Ordinal order IS dispatch order:
// urgent > standard > background > delayed, and the int values below are
// chosen so sorting ascending gives that order.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityStandard
	PriorityBackground
	PriorityDelayed
)

func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityStandard:
		return "standard"
	case PriorityBackground:
		return "background"
	case PriorityDelayed:
		return "delayed"
	default:
		return "unknown"
	}
}

// TaskKind tags JobModel.Task: inbound stream processing or outbound write.
type TaskKind int

const (
	TaskKindInboundStream TaskKind = iota
	TaskKindOutboundWrite
)

// InboundTaskMessage is the payload of an inbound-stream job.
type InboundTaskMessage struct {
	Message         SignedRatchetMessage
	SenderSecretName SecretName
	SenderDeviceID  DeviceID
	SharedMessageID SharedID
}

// OutboundTaskMessage is the payload of an outbound-write job.
type OutboundTaskMessage struct {
	RecipientIdentityID uuid.UUID
	Message             CryptoMessage
	SharedID            SharedID
	LocalID             uuid.UUID
}

// Task is the tagged payload a JobModel carries; exactly one of Inbound /
// Outbound is set, matching TaskKind.
type Task struct {
	Kind     TaskKind
	Inbound  *InboundTaskMessage
	Outbound *OutboundTaskMessage
}

func InboundTask(msg InboundTaskMessage) Task {
	return Task{Kind: TaskKindInboundStream, Inbound: &msg}
}

func OutboundTask(msg OutboundTaskMessage) Task {
	return Task{Kind: TaskKindOutboundWrite, Outbound: &msg}
}

// JobModel is the durable task record a queued job is persisted as:
// before dispatch, removed only on success or permanent (poison) failure.
type JobModel struct {
	ID                uuid.UUID `bson:"_id"`
	SequenceID        int64     `bson:"sequence_id"`
	Task              Task      `bson:"task"`
	Priority          Priority  `bson:"priority"`
	ScheduledAt       time.Time `bson:"scheduled_at"`
	DelayedUntil      *time.Time `bson:"delayed_until,omitempty"`
	Attempts          int       `bson:"attempts"`
	IsBackgroundTask  bool      `bson:"is_background_task"`
}

// IsDue reports whether the job's delay (if any) has elapsed as of now.
func (j JobModel) IsDue(now time.Time) bool {
	return j.DelayedUntil == nil || !now.Before(*j.DelayedUntil)
}
