package domain

// ConflictType classifies how a local and remote position diverge.
type ConflictType string

const (
	ConflictNone     ConflictType = "none"
	ConflictQuantity ConflictType = "quantity"
	ConflictPrice    ConflictType = "price"
	ConflictData     ConflictType = "data"
	ConflictVersion  ConflictType = "version"
)

// ResolutionStrategy selects how a detected conflict is resolved.
type ResolutionStrategy string

const (
	ResolveLastWriteWins ResolutionStrategy = "last_write_wins"
	ResolveServerWins    ResolutionStrategy = "server_wins"
	ResolveClientWins    ResolutionStrategy = "client_wins"
	ResolveAdditive      ResolutionStrategy = "additive"
	ResolveManual        ResolutionStrategy = "manual"
)

// ConflictRecord documents one detection + resolution. It is ephemeral
// (scoped to a sync cycle) but loggable and reportable.
type ConflictRecord struct {
	EntityID      string
	LocalVersion  int64
	RemoteVersion int64
	DetectedType  ConflictType
	StrategyUsed  ResolutionStrategy
	Resolved      Position
	// Deferred marks a manual resolution: the resolved value is the remote
	// side as a safe default and must not be treated as final.
	Deferred bool
}
