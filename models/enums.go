package models

// LPStatus is the lifecycle state of a license plate.
// Consumed and Shipped are terminal: such LPs are immutable except audit fields;
// further change is recorded only as new, genealogically-linked LPs.
type LPStatus string

const (
	LPStatusAvailable LPStatus = "A"
	LPStatusReserved  LPStatus = "R"
	LPStatusBlocked   LPStatus = "B"
	LPStatusConsumed  LPStatus = "C"
	LPStatusShipped   LPStatus = "S"
)

func (s LPStatus) IsTerminal() bool {
	return s == LPStatusConsumed || s == LPStatusShipped
}

type QAStatus string

const (
	QAStatusPending     QAStatus = "PND"
	QAStatusPassed      QAStatus = "PAS"
	QAStatusFailed      QAStatus = "FLD"
	QAStatusQuarantined QAStatus = "QRN"
)

// MoveType classifies stock ledger entries.
type MoveType string

const (
	MoveTypeReceipt    MoveType = "RCPT"
	MoveTypePutaway    MoveType = "PTWY"
	MoveTypeMove       MoveType = "MOVE"
	MoveTypeSplitOut   MoveType = "SPLO"
	MoveTypeSplitIn    MoveType = "SPLI"
	MoveTypeMergeOut   MoveType = "MRGO"
	MoveTypeMergeIn    MoveType = "MRGI"
	MoveTypeConsume    MoveType = "CONS"
	MoveTypeOutput     MoveType = "OUTP"
	MoveTypeReserve    MoveType = "RSRV"
	MoveTypeRelease    MoveType = "RLSE"
	MoveTypeShip       MoveType = "SHIP"
	MoveTypeAdjustment MoveType = "ADJM"
)

// LinkRelation is the kind of genealogy edge.
type LinkRelation string

const (
	LinkRelationConsume LinkRelation = "CNS"
	LinkRelationSplit   LinkRelation = "SPL"
	LinkRelationMerge   LinkRelation = "MRG"
)

type LinkRole string

const (
	LinkRoleSource LinkRole = "S"
	LinkRoleTarget LinkRole = "T"
)

// AllocationStrategy selects picking order.
type AllocationStrategy string

const (
	StrategyFIFO AllocationStrategy = "FIFO"
	StrategyFEFO AllocationStrategy = "FEFO"
)

// SourceKind records how an LP came into existence.
type SourceKind string

const (
	SourceKindReceipt SourceKind = "RCPT"
	SourceKindSplit   SourceKind = "SPLT"
	SourceKindMerge   SourceKind = "MRGE"
	SourceKindOutput  SourceKind = "OUTP"
)

type AuditAction string

const (
	AuditActionCreate AuditAction = "C"
	AuditActionUpdate AuditAction = "U"
	AuditActionDelete AuditAction = "D"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)
