// Package resolver reconciles a locally computed position with the version
// most recently known on the remote system. Resolution is a pure function of
// its arguments: no wall-clock reads, so identical inputs always produce
// identical output.
package resolver

import (
	"log/slog"

	"github.com/alanyoungcy/tradeledger/internal/domain"
	"github.com/alanyoungcy/tradeledger/internal/ledger"
)

// Resolver detects and resolves local/remote position divergence.
type Resolver struct {
	logger *slog.Logger
}

// New creates a Resolver.
func New(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger.With(slog.String("component", "resolver"))}
}

// Detect classifies the divergence between local and remote. Versions equal
// means no conflict; otherwise quantity divergence dominates, then average
// cost, then any other field difference.
func (r *Resolver) Detect(local, remote domain.Position) domain.ConflictType {
	if local.Version == remote.Version {
		return domain.ConflictNone
	}
	if local.Quantity != remote.Quantity {
		return domain.ConflictQuantity
	}
	if !local.AverageCost.Equal(remote.AverageCost) {
		return domain.ConflictPrice
	}
	return domain.ConflictData
}

// Resolve produces the surviving position under the given strategy, together
// with the record documenting the decision.
func (r *Resolver) Resolve(local, remote domain.Position, strategy domain.ResolutionStrategy) (domain.Position, domain.ConflictRecord) {
	record := domain.ConflictRecord{
		EntityID:      local.Symbol,
		LocalVersion:  local.Version,
		RemoteVersion: remote.Version,
		DetectedType:  r.Detect(local, remote),
		StrategyUsed:  strategy,
	}

	var resolved domain.Position
	switch strategy {
	case domain.ResolveServerWins:
		resolved = remote
	case domain.ResolveClientWins:
		resolved = local
	case domain.ResolveManual:
		// Deferred to an external collaborator; the remote value is a safe
		// provisional default, not a final answer.
		resolved = remote
		record.Deferred = true
	case domain.ResolveAdditive:
		return r.resolveAdditive(local, remote, record)
	case domain.ResolveLastWriteWins:
		resolved = lastWriteWins(local, remote)
	default:
		resolved = lastWriteWins(local, remote)
		record.StrategyUsed = domain.ResolveLastWriteWins
	}

	record.Resolved = resolved
	return resolved, record
}

// resolveAdditive merges concurrent quantity changes made on two replicas
// that diverged from a common base: each side's delta from its base-quantity
// snapshot is summed onto the remote baseline. Anything other than a pure
// two-sided concurrent quantity change falls back to last-write-wins; that
// ambiguity is logged, never surfaced as an error.
func (r *Resolver) resolveAdditive(local, remote domain.Position, record domain.ConflictRecord) (domain.Position, domain.ConflictRecord) {
	localDelta := local.Quantity - local.BaseQuantity
	remoteDelta := remote.Quantity - remote.BaseQuantity

	if record.DetectedType != domain.ConflictQuantity || localDelta == 0 || remoteDelta == 0 {
		r.logger.Warn("additive strategy not applicable, falling back to last_write_wins",
			slog.String("symbol", local.Symbol),
			slog.String("detected", string(record.DetectedType)),
			slog.Int64("local_delta", localDelta),
			slog.Int64("remote_delta", remoteDelta),
		)
		record.StrategyUsed = domain.ResolveLastWriteWins
		resolved := lastWriteWins(local, remote)
		record.Resolved = resolved
		return resolved, record
	}

	resolved := remote
	resolved.Quantity = remote.BaseQuantity + localDelta + remoteDelta
	resolved.Version = max(local.Version, remote.Version) + 1
	if local.LastModified.After(remote.LastModified) {
		resolved.LastModified = local.LastModified
	}
	// The merged quantity becomes the new common base for the next cycle.
	resolved.BaseQuantity = resolved.Quantity
	resolved = ledger.UpdatePrice(resolved, resolved.CurrentPrice)

	record.Resolved = resolved
	return resolved, record
}

// lastWriteWins picks the side with the newer LastModified; the remote side
// wins exact ties so both replicas converge on the same value.
func lastWriteWins(local, remote domain.Position) domain.Position {
	if local.LastModified.After(remote.LastModified) {
		return local
	}
	return remote
}
