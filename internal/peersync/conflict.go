package peersync

// Conflict resolution. Two nodes resolving the same pair of records must
// reach the same verdict without coordination, so every rule is a pure
// comparison and the final tiebreak is the node id: lexicographically
// smaller wins. The convention is arbitrary but both peers must share it
// ("huginn" beats "muninn" because h < m).

// ConflictRecord is the scored view of one side of a conflict.
type ConflictRecord struct {
	SourceNode      string
	UpdatedAt       int64 // ms since epoch
	LastConfirmedAt int64 // ms since epoch; 0 = never confirmed
	Confidence      float64
	Sequence        SequenceNum
}

// ResolutionPolicy selects which rule (or the full precedence chain)
// decides a conflict.
type ResolutionPolicy string

const (
	// PolicyPrecedence applies the full chain: last confirmed, then
	// confidence, then updated-at, then source priority.
	PolicyPrecedence      ResolutionPolicy = "precedence"
	PolicyLastConfirmed   ResolutionPolicy = "last_confirmed_wins"
	PolicyHighestConfidence ResolutionPolicy = "highest_confidence"
	PolicyLastWriter      ResolutionPolicy = "last_writer_wins"
	PolicySourcePriority  ResolutionPolicy = "source_priority"
)

// Winner names which side won.
type Winner string

const (
	WinnerLocal  Winner = "local"
	WinnerRemote Winner = "remote"
)

// Outcome reports the verdict and the rule that decided it.
type Outcome struct {
	Winner    Winner
	DecidedBy ResolutionPolicy
}

// Resolve applies the policy to a local/remote pair. With PolicyPrecedence
// (or ""), rules are tried in order and the first that discriminates wins.
// Single-rule policies fall through to source priority only when their own
// field ties; identical node ids default to local.
func Resolve(local, remote ConflictRecord, policy ResolutionPolicy) Outcome {
	switch policy {
	case PolicyLastConfirmed:
		if out, ok := byLastConfirmed(local, remote); ok {
			return out
		}
	case PolicyHighestConfidence:
		if out, ok := byConfidence(local, remote); ok {
			return out
		}
	case PolicyLastWriter:
		if out, ok := byUpdatedAt(local, remote); ok {
			return out
		}
	case PolicySourcePriority:
		// Fall through to the final tiebreak below.
	default: // PolicyPrecedence or unset
		if out, ok := byLastConfirmed(local, remote); ok {
			return out
		}
		if out, ok := byConfidence(local, remote); ok {
			return out
		}
		if out, ok := byUpdatedAt(local, remote); ok {
			return out
		}
	}
	return bySourcePriority(local, remote)
}

func byLastConfirmed(local, remote ConflictRecord) (Outcome, bool) {
	if local.LastConfirmedAt == remote.LastConfirmedAt {
		return Outcome{}, false
	}
	w := WinnerLocal
	if remote.LastConfirmedAt > local.LastConfirmedAt {
		w = WinnerRemote
	}
	return Outcome{Winner: w, DecidedBy: PolicyLastConfirmed}, true
}

func byConfidence(local, remote ConflictRecord) (Outcome, bool) {
	if local.Confidence == remote.Confidence {
		return Outcome{}, false
	}
	w := WinnerLocal
	if remote.Confidence > local.Confidence {
		w = WinnerRemote
	}
	return Outcome{Winner: w, DecidedBy: PolicyHighestConfidence}, true
}

func byUpdatedAt(local, remote ConflictRecord) (Outcome, bool) {
	if local.UpdatedAt == remote.UpdatedAt {
		return Outcome{}, false
	}
	w := WinnerLocal
	if remote.UpdatedAt > local.UpdatedAt {
		w = WinnerRemote
	}
	return Outcome{Winner: w, DecidedBy: PolicyLastWriter}, true
}

// bySourcePriority is the deterministic final tiebreak: smaller node id
// wins; identical ids default to local.
func bySourcePriority(local, remote ConflictRecord) Outcome {
	w := WinnerLocal
	if remote.SourceNode < local.SourceNode {
		w = WinnerRemote
	}
	return Outcome{Winner: w, DecidedBy: PolicySourcePriority}
}
