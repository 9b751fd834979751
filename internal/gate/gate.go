package gate

import (
	"math"

	"jomiage/internal/domain"
)

const (
	DefaultConfidenceThreshold = 0.5
	DefaultMinLength           = 2
	DefaultSimilarityPercent   = 60
)

// DefaultIgnoreList holds literals OCR emits for caption box borders.
var DefaultIgnoreList = []string{"｛"}

// Config is read-only for the lifetime of a gate.
type Config struct {
	ConfidenceThreshold float64
	MinLength           int
	SimilarityPercent   float64
	IgnoreList          []string
}

func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		MinLength:           DefaultMinLength,
		SimilarityPercent:   DefaultSimilarityPercent,
		IgnoreList:          append([]string(nil), DefaultIgnoreList...),
	}
}

// Gate decides whether each candidate is new content worth speaking.
//
// Rules run in a fixed order and the first match rejects. The gate is not
// safe for concurrent use.
type Gate struct {
	cfg     Config
	ignore  map[string]struct{}
	history History
}

func New(cfg Config, history History) *Gate {
	if history == nil {
		history = NewMemoryHistory()
	}
	ignore := make(map[string]struct{}, len(cfg.IgnoreList))
	for _, literal := range cfg.IgnoreList {
		ignore[literal] = struct{}{}
	}
	cfg.IgnoreList = append([]string(nil), cfg.IgnoreList...)
	return &Gate{cfg: cfg, ignore: ignore, history: history}
}

// Evaluate applies the rules to candidate and records it in history when
// accepted. Rejections never touch history.
func (g *Gate) Evaluate(candidate domain.Candidate) domain.Decision {
	decision := g.check(candidate)
	if decision.Accepted() {
		g.history.Add(candidate.Text)
	}
	return decision
}

func (g *Gate) check(candidate domain.Candidate) domain.Decision {
	text := candidate.Text
	reject := func(reason domain.RejectReason) domain.Decision {
		return domain.Decision{Candidate: candidate, Verdict: domain.VerdictReject, Reason: reason}
	}

	confidence := candidate.Confidence
	if math.IsNaN(confidence) || confidence > 1 {
		return reject(domain.RejectMalformed)
	}
	if confidence < g.cfg.ConfidenceThreshold {
		return reject(domain.RejectLowConfidence)
	}
	if g.history.Contains(text) {
		return reject(domain.RejectExactRepeat)
	}
	if _, ok := g.ignore[text]; ok {
		return reject(domain.RejectIgnored)
	}
	if charCount(text) < g.cfg.MinLength {
		return reject(domain.RejectTooShort)
	}

	last := g.history.LastAccepted()
	if mutuallyContained(text, last) {
		return reject(domain.RejectContainment)
	}

	ratio := Similarity(last, text)
	if ratio >= g.cfg.SimilarityPercent/100 {
		decision := reject(domain.RejectSimilar)
		decision.Similarity = ratio
		return decision
	}

	return domain.Decision{Candidate: candidate, Verdict: domain.VerdictAccept, Similarity: ratio}
}

// Config returns the gate configuration.
func (g *Gate) Config() Config {
	cfg := g.cfg
	cfg.IgnoreList = append([]string(nil), g.cfg.IgnoreList...)
	return cfg
}

func (g *Gate) LastAccepted() string { return g.history.LastAccepted() }

func (g *Gate) AcceptedCount() int { return g.history.Len() }

// Accepted returns every accepted fragment in insertion order.
func (g *Gate) Accepted() []string { return g.history.Snapshot() }
