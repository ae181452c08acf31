// Package watermark tracks how far each upstream source has been ingested.
//
// The tracker is pure: callers load the persisted snapshot, pass it to
// Evaluate together with this run's events, and persist the returned Plan.
// Nothing is cached between runs.
package watermark

import (
	"sort"
	"time"

	"github.com/hoangnb24/logit-sub000/pkg/agentlog"
)

// State is the staleness of one source.
type State string

const (
	StateFresh State = "fresh"
	StateStale State = "stale"
)

// RunState is the staleness summary reported for a whole run.
type RunState string

const (
	RunUnknown RunState = "unknown"
	RunStale   RunState = "stale"
	RunFresh   RunState = "fresh"
)

// Decision is the incremental verdict for one observed source. It is
// recorded for diagnostics and never gates work.
type Decision string

const (
	DecisionProcess Decision = "process"
	DecisionSkip    Decision = "skip"
)

// Reason explains a Decision.
type Reason string

const (
	ReasonNoPriorWatermark       Reason = "no_prior_watermark"
	ReasonNoPriorTimestamp       Reason = "no_prior_timestamp"
	ReasonAdvancedTimestamp      Reason = "advanced_timestamp"
	ReasonRegressedTimestamp     Reason = "regressed_timestamp"
	ReasonChangedMarker          Reason = "changed_marker"
	ReasonUnchangedFrontier      Reason = "unchanged_frontier"
	ReasonMissingInLatestRefresh Reason = "missing_in_latest_refresh"
)

// Candidate is the frontier of one source observed in the current run.
type Candidate struct {
	SourceKey   string
	SourceKind  agentlog.SourceKind
	SourcePath  string
	Locator     string
	Hash        *string
	TimestampMs uint64
}

// Prior is the persisted watermark of a source before this run.
type Prior struct {
	Locator     *string
	Hash        *string
	TimestampMs *uint64
	State       State
}

// DecisionMetadata is stored alongside each watermark row.
type DecisionMetadata struct {
	ObservedInRefresh        bool     `json:"observed_in_refresh"`
	IncrementalDecision      Decision `json:"incremental_decision"`
	DecisionReason           Reason   `json:"decision_reason"`
	PreRefreshStalenessState State    `json:"pre_refresh_staleness_state"`
}

// Upsert writes a full watermark row for an observed source.
type Upsert struct {
	Candidate
	RunID       string
	RefreshedAt time.Time
	State       State
	Metadata    DecisionMetadata
}

// StaleMark flips a previously known, now absent, source to stale. Only
// the staleness state and decision metadata change.
type StaleMark struct {
	SourceKey string
	Metadata  DecisionMetadata
}

// Plan is everything a run must persist for watermarks.
type Plan struct {
	Upserts    []Upsert
	StaleMarks []StaleMark
	RunState   RunState
}

// Candidates returns, per source, the record with the greatest timestamp.
// Ties keep the first record seen at that timestamp. Output is sorted by
// source key.
func Candidates(events []agentlog.Event) []Candidate {
	byKey := make(map[string]*Candidate)
	for i := range events {
		ev := &events[i]
		key := ev.SourceKey()
		current, ok := byKey[key]
		if ok && ev.TimestampUnixMs <= current.TimestampMs {
			continue
		}
		byKey[key] = &Candidate{
			SourceKey:   key,
			SourceKind:  ev.SourceKind,
			SourcePath:  ev.SourcePath,
			Locator:     ev.SourceRecordLocator,
			Hash:        markerHash(ev),
			TimestampMs: ev.TimestampUnixMs,
		}
	}

	out := make([]Candidate, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceKey < out[j].SourceKey })
	return out
}

func markerHash(ev *agentlog.Event) *string {
	if ev.SourceRecordHash != nil && *ev.SourceRecordHash != "" {
		return agentlog.Ptr(*ev.SourceRecordHash)
	}
	if ev.RawHash == "" {
		return nil
	}
	return agentlog.Ptr(ev.RawHash)
}

// Decide classifies one observed candidate against its prior watermark,
// which is nil for a source seen for the first time.
func Decide(prior *Prior, c Candidate) (Decision, Reason) {
	switch {
	case prior == nil:
		return DecisionProcess, ReasonNoPriorWatermark
	case prior.TimestampMs == nil:
		return DecisionProcess, ReasonNoPriorTimestamp
	case c.TimestampMs > *prior.TimestampMs:
		return DecisionProcess, ReasonAdvancedTimestamp
	case c.TimestampMs < *prior.TimestampMs:
		return DecisionProcess, ReasonRegressedTimestamp
	case !equalOpt(prior.Locator, &c.Locator) || !equalOpt(prior.Hash, c.Hash):
		return DecisionProcess, ReasonChangedMarker
	default:
		return DecisionSkip, ReasonUnchangedFrontier
	}
}

func equalOpt(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Evaluate builds the watermark plan for one run.
func Evaluate(prior map[string]Prior, candidates []Candidate, runID string, refreshedAt time.Time) Plan {
	plan := Plan{Upserts: make([]Upsert, 0, len(candidates))}
	observed := make(map[string]struct{}, len(candidates))

	for _, c := range candidates {
		var p *Prior
		if existing, ok := prior[c.SourceKey]; ok {
			p = &existing
		}
		decision, reason := Decide(p, c)
		pre := StateStale
		if decision == DecisionSkip {
			pre = StateFresh
		}
		plan.Upserts = append(plan.Upserts, Upsert{
			Candidate:   c,
			RunID:       runID,
			RefreshedAt: refreshedAt,
			State:       StateFresh,
			Metadata: DecisionMetadata{
				ObservedInRefresh:        true,
				IncrementalDecision:      decision,
				DecisionReason:           reason,
				PreRefreshStalenessState: pre,
			},
		})
		observed[c.SourceKey] = struct{}{}
	}

	keys := make([]string, 0, len(prior))
	for key := range prior {
		if _, ok := observed[key]; !ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		plan.StaleMarks = append(plan.StaleMarks, StaleMark{
			SourceKey: key,
			Metadata: DecisionMetadata{
				ObservedInRefresh:        false,
				IncrementalDecision:      DecisionProcess,
				DecisionReason:           ReasonMissingInLatestRefresh,
				PreRefreshStalenessState: StateStale,
			},
		})
	}

	switch {
	case len(candidates) == 0 && len(prior) == 0:
		plan.RunState = RunUnknown
	case len(plan.StaleMarks) > 0:
		plan.RunState = RunStale
	default:
		plan.RunState = RunFresh
	}
	return plan
}

// Regressed returns the upserts whose source moved backwards in time.
func (p Plan) Regressed() []Upsert {
	var out []Upsert
	for _, u := range p.Upserts {
		if u.Metadata.DecisionReason == ReasonRegressedTimestamp {
			out = append(out, u)
		}
	}
	return out
}
