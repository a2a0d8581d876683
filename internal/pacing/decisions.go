package pacing

import (
	"math"
	"time"

	"github.com/baseleldalil/Morsel-App-sub000/internal/pkg/clock"
)

// Settings sources, recorded on every decision for log and API visibility.
const (
	SourceManual   = "manual"
	SourceUser     = "user"
	SourcePlan     = "plan"
	SourceGlobal   = "global"
	SourceFallback = "fallback"
)

// Settings is the effective pacing policy for one campaign run, after tier
// resolution. It is immutable for the life of the run.
type Settings struct {
	Source string `json:"source"`

	MinDelaySeconds int `json:"min_delay_seconds"`
	MaxDelaySeconds int `json:"max_delay_seconds"`

	// StrongRandomization layers micro-variation and integer jitter on top
	// of the uniform base draw so delay sequences never look machine-steady.
	StrongRandomization bool `json:"strong_randomization"`

	EnableBreaks     bool `json:"enable_breaks"`
	MinMessagesBreak int  `json:"min_messages_before_break"`
	MaxMessagesBreak int  `json:"max_messages_before_break"`
	MinBreakMinutes  int  `json:"min_break_minutes"`
	MaxBreakMinutes  int  `json:"max_break_minutes"`

	UseDecimalRandomization bool `json:"use_decimal_randomization"`
	DecimalPrecision        int  `json:"decimal_precision"`
}

// DelayDecision is one inter-message wait.
type DelayDecision struct {
	Wait   time.Duration `json:"wait"`
	Source string        `json:"source"`
}

// BreakDecision describes one long rest: how long to sleep now and how many
// messages to send before the next one.
type BreakDecision struct {
	Duration      time.Duration `json:"duration"`
	NextThreshold int           `json:"next_threshold"`
}

// NextDelay draws one inter-message wait from the settings. The base is
// uniform over [min,max] seconds; strong randomization adds micro-variation
// in [0.1,1.0]s and an integer jitter in [-2,+3]. The result never drops
// below one second.
func (s Settings) NextDelay(rng clock.Rand) DelayDecision {
	min, max := float64(s.MinDelaySeconds), float64(s.MaxDelaySeconds)
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}

	secs := min + rng.Float64()*(max-min)
	if s.StrongRandomization {
		secs += 0.1 + rng.Float64()*0.9
		secs += float64(rng.Intn(6) - 2)
	}
	if s.UseDecimalRandomization && s.DecimalPrecision > 0 {
		p := math.Pow(10, float64(s.DecimalPrecision))
		secs = math.Round(secs*p) / p
	}
	if secs < 1 {
		secs = 1
	}
	return DelayDecision{
		Wait:   time.Duration(secs * float64(time.Second)),
		Source: s.Source,
	}
}

// NextBreakThreshold re-draws how many messages to send before the next
// break. Re-drawn after every break so the cadence never settles into a
// fixed modulus.
func (s Settings) NextBreakThreshold(rng clock.Rand) int {
	lo, hi := s.MinMessagesBreak, s.MaxMessagesBreak
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	return lo + rng.Intn(hi-lo+1)
}

// NextBreak draws a full break decision: uniform minutes in [min,max],
// jittered by -10%..+15%, plus up to 30 extra seconds, never under 30s.
func (s Settings) NextBreak(rng clock.Rand) BreakDecision {
	lo, hi := float64(s.MinBreakMinutes), float64(s.MaxBreakMinutes)
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}

	mins := lo + rng.Float64()*(hi-lo)
	factor := 0.90 + rng.Float64()*0.25
	secs := mins*60*factor + rng.Float64()*30
	if secs < 30 {
		secs = 30
	}
	return BreakDecision{
		Duration:      time.Duration(secs * float64(time.Second)),
		NextThreshold: s.NextBreakThreshold(rng),
	}
}
