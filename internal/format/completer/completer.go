// Package completer implements the Completer (spec §4.2, component C2): a
// two-phase repair engine that turns a truncated JSON fragment into valid
// JSON, producing a typed repair trace and a confidence score. It never
// raises on malformed input — failures come back as Result.Valid == false
// with a populated Trace (spec §4.2.1).
package completer

import (
	"strings"

	"github.com/ailijian/AgentlyFormat/internal/format/path"
	"github.com/ailijian/AgentlyFormat/internal/format/tree"
)

// Suggestion is one schema-hook suggestion (spec §6, "Schema hook").
type Suggestion struct {
	Path       path.Path
	Value      tree.Value
	Confidence float64
}

// SchemaHook is invoked after a successful completion with the repaired
// tree and its root path. The core ships no validator — only this call
// site (spec §1, Non-goals; §6, Schema hook).
type SchemaHook func(v tree.Value, root path.Path) []Suggestion

// Options configures one Complete call.
type Options struct {
	// Strategy is the strategy to attempt first. The zero value is Smart.
	Strategy Strategy
	// SchemaHook, if non-nil, is invoked once after a valid repair.
	SchemaHook SchemaHook
	// HistoricalSuccessRate, if non-nil, folds the Adaptive Strategy
	// Selector's (C7) historical success rate for Strategy into the
	// confidence formula (spec §4.2.3 factor 6). Callers that don't run
	// an adaptive selector may leave this nil.
	HistoricalSuccessRate *float64
}

// Result is what Complete returns (spec §3, CompletionResult).
type Result struct {
	RepairedText          string
	Valid                 bool
	Confidence            float64
	Strategy              Strategy
	Trace                 Trace
	SuggestionsApplied    int
	HistoricalSuccessRate float64
}

// Complete runs the two-phase repair algorithm over input (spec §4.2.2).
func Complete(input string, opts Options) Result {
	trace := Trace{Original: input, Strategy: opts.Strategy}

	if strings.TrimSpace(input) == "" {
		confidence := 0.0
		if opts.Strategy == Aggressive {
			confidence = 1.0
		}
		trace.Repaired = "null"
		trace.Confidence = confidence
		trace.Severity = SeverityMinor
		trace.add(Step{
			Phase:       PhaseSyntactic,
			Operation:   "empty-input",
			Description: "empty input synthesized as null",
			Confidence:  confidence,
			Applied:     true,
		})
		return Result{RepairedText: "null", Valid: true, Confidence: confidence, Strategy: opts.Strategy, Trace: trace}
	}

	if v, err := tree.Parse([]byte(strings.TrimSpace(input))); err == nil {
		trace.Repaired = input
		trace.Confidence = 1.0
		trace.Severity = SeverityMinor
		trace.add(Step{
			Phase:       PhaseSyntactic,
			Operation:   "already-valid",
			Description: "input was already valid JSON",
			Confidence:  1.0,
			Applied:     true,
		})
		applied := applySchemaHook(v, opts)
		return Result{
			RepairedText:          input,
			Valid:                 true,
			Confidence:            1.0,
			Strategy:              opts.Strategy,
			Trace:                 trace,
			SuggestionsApplied:    applied,
			HistoricalSuccessRate: rateOrZero(opts.HistoricalSuccessRate),
		}
	}

	return attempt(input, opts, opts.Strategy)
}

// attempt runs lexical+syntactic repair at strategy and, on a failed
// round-trip, retries at the next more-conservative strategy (spec
// §4.2.2: "the completer retries with the next more-conservative
// strategy. If all three fail, is_valid=false is returned and the best
// attempt is still provided.").
func attempt(input string, opts Options, strategy Strategy) Result {
	lexed, lexSteps := runLexical(input)
	synText, synSteps, irrecoverable := runSyntactic(lexed, strategy)

	trace := Trace{Original: input, Strategy: strategy}
	trace.Steps = append(append(trace.Steps, lexSteps...), synSteps...)
	trace.Repaired = synText

	parsed, err := tree.Parse([]byte(synText))
	valid := err == nil && !irrecoverable

	if !valid {
		if next, ok := strategy.nextMoreConservative(); ok {
			fallback := attempt(input, opts, next)
			if fallback.Valid {
				return fallback
			}
			// Neither strategy round-tripped; keep whichever attempt is
			// more informative (this one, since it's the caller's
			// original choice) but report failure.
		}
		trace.Severity = SeverityCritical
		trace.Confidence = computeConfidence(input, &trace, opts, 0, true)
		return Result{
			RepairedText:          synText,
			Valid:                 false,
			Confidence:            trace.Confidence,
			Strategy:              strategy,
			Trace:                 trace,
			HistoricalSuccessRate: rateOrZero(opts.HistoricalSuccessRate),
		}
	}

	applied := applySchemaHook(parsed, opts)

	trace.Severity = severityFor(irrecoverable, &trace)
	trace.Confidence = computeConfidence(input, &trace, opts, applied, false)

	return Result{
		RepairedText:          synText,
		Valid:                 true,
		Confidence:            trace.Confidence,
		Strategy:              strategy,
		Trace:                 trace,
		SuggestionsApplied:    applied,
		HistoricalSuccessRate: rateOrZero(opts.HistoricalSuccessRate),
	}
}

func severityFor(irrecoverable bool, trace *Trace) Severity {
	if irrecoverable {
		return SeverityCritical
	}
	syntactic := 0
	for _, s := range trace.appliedSteps() {
		if s.Phase == PhaseSyntactic {
			syntactic++
		}
	}
	switch {
	case syntactic <= 1:
		return SeverityMinor
	case syntactic <= 3:
		return SeverityModerate
	default:
		return SeverityMajor
	}
}

// computeConfidence implements spec §4.2.3: the arithmetic mean of
// whichever contributing factors are available.
func computeConfidence(original string, trace *Trace, opts Options, suggestionsApplied int, failed bool) float64 {
	var factors []float64

	origLen := float64(len(original))
	addedLen := float64(len(trace.Repaired) - len(original))
	var base float64
	if origLen == 0 {
		base = 0.1
	} else {
		ratio := addedLen / origLen
		if ratio < 0 {
			ratio = 0
		}
		base = 1.0 - ratio
		if base < 0.1 {
			base = 0.1
		}
		if ratio > 0.9 {
			base = 0.1
		}
	}
	factors = append(factors, base)

	if len(trace.appliedSteps()) > 0 {
		factors = append(factors, 0.7+0.3*trace.lexicalShare())
		factors = append(factors, trace.meanStepConfidence())
	}

	factors = append(factors, trace.Severity.penalty())

	if opts.SchemaHook != nil {
		factors = append(factors, clamp01(0.8+0.04*float64(suggestionsApplied)))
	}

	if opts.HistoricalSuccessRate != nil {
		factors = append(factors, clamp01(*opts.HistoricalSuccessRate))
	}

	if failed {
		return 0.0
	}

	if len(factors) == 0 {
		return 0
	}
	sum := 0.0
	for _, f := range factors {
		sum += f
	}
	return clamp01(sum / float64(len(factors)))
}

func applySchemaHook(v tree.Value, opts Options) int {
	if opts.SchemaHook == nil {
		return 0
	}
	suggestions := opts.SchemaHook(v, path.Root())
	applied := 0
	for _, sug := range suggestions {
		found, _ := path.Traverse(v, sug.Path)
		if !found {
			applied++
			continue
		}
		if opts.Strategy == Aggressive {
			applied++
		}
	}
	return applied
}

func rateOrZero(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
