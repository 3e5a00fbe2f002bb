// ABOUTME: Probability-weighted selection between reasoning, normal and minor models
// ABOUTME: Each reply rolls which model answers; the minor model serves cheap judgments

package llm

import "math/rand"

// Picker rolls which model answers a given reply. The reasoning model is
// slower and wordier, the normal model is the workhorse, and the minor
// model handles cheap auxiliary judgments (emotion tags, follow-up checks).
type Picker struct {
	reasoning Client
	normal    Client
	minor     Client

	reasoningProb float64
	normalProb    float64

	rand func() float64
}

// NewPicker builds a picker. Probabilities are the chance of the reasoning
// and normal model respectively; the remainder goes to the minor model.
// randFn may be nil to use the default source.
func NewPicker(reasoning, normal, minor Client, reasoningProb, normalProb float64, randFn func() float64) *Picker {
	if randFn == nil {
		randFn = rand.Float64
	}
	return &Picker{
		reasoning:     reasoning,
		normal:        normal,
		minor:         minor,
		reasoningProb: reasoningProb,
		normalProb:    normalProb,
		rand:          randFn,
	}
}

// Pick rolls a model for the next reply.
func (p *Picker) Pick() Client {
	roll := p.rand()
	switch {
	case roll < p.reasoningProb:
		return p.reasoning
	case roll < p.reasoningProb+p.normalProb:
		return p.normal
	default:
		return p.minor
	}
}

// Minor returns the cheap auxiliary model directly.
func (p *Picker) Minor() Client {
	return p.minor
}
