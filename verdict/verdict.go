package verdict

import (
	"errors"
	"math"

	"github.com/MrEthical07/paradox/behavior"
	"github.com/MrEthical07/paradox/internal/fingerprint"
)

// Decision is the outcome of scoring one round.
type Decision uint8

const (
	Escalate Decision = iota
	Accept
	Reject
	Fallback
)

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Reject:
		return "reject"
	case Fallback:
		return "fallback"
	default:
		return "escalate"
	}
}

// Weights combine the three sub-scores.
type Weights struct {
	Correct     float64 `yaml:"correct"`
	Humanness   float64 `yaml:"humanness"`
	Consistency float64 `yaml:"consistency"`
}

// HumanWeights combine normalized behavioral features.
type HumanWeights struct {
	Latency    float64 `yaml:"latency"`
	Entropy    float64 `yaml:"entropy"`
	Hesitation float64 `yaml:"hesitation"`
}

// Config tunes the engine. Thresholds are on the fused score in [0,1].
type Config struct {
	Weights          Weights      `yaml:"weights"`
	HumanWeights     HumanWeights `yaml:"human_weights"`
	AcceptThreshold  float64      `yaml:"accept_threshold"`
	RejectThreshold  float64      `yaml:"reject_threshold"`
	MinPassingRounds int          `yaml:"min_passing_rounds"`
	MinTrustScore    float64      `yaml:"min_trust_score"`
	MaxRounds        int          `yaml:"max_rounds"`
	// SimilarityLower and SimilarityUpper bound the exclusive band of
	// human-plausible similarity to a prior answer.
	SimilarityLower float64 `yaml:"similarity_lower"`
	SimilarityUpper float64 `yaml:"similarity_upper"`
	// ReplaySimilarity marks a verbatim repeat of a prior answer.
	ReplaySimilarity float64 `yaml:"replay_similarity"`
	// HesitationSaturation is the hesitation count that earns full credit.
	HesitationSaturation int `yaml:"hesitation_saturation"`
}

// DefaultConfig returns the stock tuning. RejectThreshold sits below the
// score of a wrong answer given with plainly human timing and movement, so a
// single mistake escalates instead of ending the session.
func DefaultConfig() Config {
	return Config{
		Weights:              Weights{Correct: 0.45, Humanness: 0.35, Consistency: 0.20},
		HumanWeights:         HumanWeights{Latency: 0.4, Entropy: 0.4, Hesitation: 0.2},
		AcceptThreshold:      0.70,
		RejectThreshold:      0.20,
		MinPassingRounds:     3,
		MinTrustScore:        0.5,
		MaxRounds:            20,
		SimilarityLower:      0.2,
		SimilarityUpper:      0.8,
		ReplaySimilarity:     0.999,
		HesitationSaturation: 3,
	}
}

// Validate checks ranges and ordering.
func (c Config) Validate() error {
	if c.Weights.Correct < 0 || c.Weights.Humanness < 0 || c.Weights.Consistency < 0 {
		return errors.New("verdict weights must be >= 0")
	}
	if c.Weights.Correct+c.Weights.Humanness <= 0 {
		return errors.New("verdict correct+humanness weight must be > 0")
	}
	hw := c.HumanWeights
	if hw.Latency < 0 || hw.Entropy < 0 || hw.Hesitation < 0 || hw.Latency+hw.Entropy+hw.Hesitation <= 0 {
		return errors.New("verdict human weights must be >= 0 with a positive sum")
	}
	if c.RejectThreshold < 0 || c.AcceptThreshold > 1 || c.RejectThreshold >= c.AcceptThreshold {
		return errors.New("verdict thresholds must satisfy 0 <= reject < accept <= 1")
	}
	if c.MinPassingRounds < 1 {
		return errors.New("verdict min passing rounds must be >= 1")
	}
	if c.MaxRounds < 1 {
		return errors.New("verdict max rounds must be >= 1")
	}
	if c.MinPassingRounds > c.MaxRounds+1 {
		return errors.New("verdict min passing rounds cannot exceed max rounds + 1")
	}
	if c.MinTrustScore < 0 || c.MinTrustScore > 1 {
		return errors.New("verdict min trust score must be within [0,1]")
	}
	if c.SimilarityLower < 0 || c.SimilarityUpper > 1 || c.SimilarityLower >= c.SimilarityUpper {
		return errors.New("verdict similarity band must satisfy 0 <= lower < upper <= 1")
	}
	if c.ReplaySimilarity < c.SimilarityUpper || c.ReplaySimilarity > 1 {
		return errors.New("verdict replay similarity must be within [upper, 1]")
	}
	if c.HesitationSaturation < 1 {
		return errors.New("verdict hesitation saturation must be >= 1")
	}
	return nil
}

// History is the slice of session state the engine reads.
type History struct {
	// RoundIndex is the index of the round being scored. It also counts the
	// rounds already folded into TrustScore.
	RoundIndex        uint32
	EscalationDepth   uint32
	ConsecutivePasses uint32
	TrustScore        float64
	Difficulty        int
	// ReferencesPrior marks rounds whose answer should relate to an earlier one.
	ReferencesPrior bool
	PriorDigests    []fingerprint.Digest
}

// Input is everything needed to score a round.
type Input struct {
	Correct  bool
	Features behavior.Features
	Answer   fingerprint.Digest
	History  History
}

// Verdict is the scored outcome of one round.
type Verdict struct {
	Decision       Decision
	Confidence     float64
	NextDifficulty int

	Score       float64
	Humanness   float64
	Consistency float64
	// ContextApplied is false when the round had no prior answer to compare.
	ContextApplied bool
	Similarity     float64

	Passed            bool
	ConsecutivePasses uint32
	TrustScore        float64
	Flags             behavior.Flag
	QuotaExceeded     bool
	// Reason is for logs and audit only and must never reach clients.
	Reason string
}

// Engine scores rounds under a fixed Config.
type Engine struct {
	cfg Config
}

// New validates cfg and returns an Engine.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Score computes the verdict for one round.
func (e *Engine) Score(in Input) Verdict {
	cfg := e.cfg
	v := Verdict{Flags: in.Features.Flags}

	v.Humanness = e.humanness(in.Features)

	if in.History.ReferencesPrior && len(in.History.PriorDigests) > 0 {
		v.ContextApplied = true
		v.Similarity = maxSimilarity(in.Answer, in.History.PriorDigests)
		v.Consistency = e.consistency(v.Similarity)
		if v.Similarity >= cfg.ReplaySimilarity {
			v.Flags |= behavior.FlagReplay
		}
	}

	correct := 0.0
	if in.Correct {
		correct = 1
	}
	wC, wH, wK := cfg.Weights.Correct, cfg.Weights.Humanness, cfg.Weights.Consistency
	if !v.ContextApplied {
		wK = 0
	}
	total := wC + wH + wK
	v.Score = clamp01((wC*correct + wH*v.Humanness + wK*v.Consistency) / total)

	n := float64(in.History.RoundIndex)
	v.TrustScore = clamp01((in.History.TrustScore*n + v.Score) / (n + 1))

	anomalous := v.Flags.Anomalous()
	v.Passed = in.Correct && v.Score >= cfg.AcceptThreshold && !anomalous
	if v.Passed {
		v.ConsecutivePasses = in.History.ConsecutivePasses + 1
	}

	switch {
	case v.Score < cfg.RejectThreshold:
		v.Decision = Reject
		v.Reason = "score below reject threshold"
	case v.Passed && int(v.ConsecutivePasses) >= cfg.MinPassingRounds && v.TrustScore >= cfg.MinTrustScore:
		v.Decision = Accept
		v.Reason = "pass quota met"
	case v.Passed:
		v.Decision = Escalate
		v.Reason = "pass quota not met"
	case anomalous:
		v.Decision = Escalate
		v.Reason = "behavioral anomaly: " + v.Flags.String()
	case !in.Correct:
		v.Decision = Escalate
		v.Reason = "incorrect answer"
	default:
		v.Decision = Escalate
		v.Reason = "score below accept threshold"
	}

	step := 1
	if anomalous {
		step = 2
	}
	v.NextDifficulty = in.History.Difficulty + step

	if v.Decision == Escalate && int(in.History.EscalationDepth) >= cfg.MaxRounds {
		v.Decision = Fallback
		v.QuotaExceeded = true
		v.Reason = "escalation ceiling reached"
	}

	v.Confidence = e.confidence(v.Decision, v.Score)
	return v
}

func (e *Engine) humanness(f behavior.Features) float64 {
	hw := e.cfg.HumanWeights
	hes := math.Min(float64(f.Hesitations)/float64(e.cfg.HesitationSaturation), 1)
	sum := hw.Latency*clamp01(f.LatencyScore) + hw.Entropy*clamp01(f.Entropy) + hw.Hesitation*hes
	return clamp01(sum / (hw.Latency + hw.Entropy + hw.Hesitation))
}

// consistency maps similarity to a prior answer onto [0,1]. Verbatim repeats
// score zero, unrelated answers score low and partial overlap scores high.
func (e *Engine) consistency(similarity float64) float64 {
	cfg := e.cfg
	switch {
	case similarity >= cfg.ReplaySimilarity:
		return 0
	case similarity <= cfg.SimilarityLower:
		return 0.2
	case similarity < cfg.SimilarityUpper:
		return 1
	default:
		return 0.4
	}
}

func (e *Engine) confidence(d Decision, score float64) float64 {
	accept, reject := e.cfg.AcceptThreshold, e.cfg.RejectThreshold
	switch d {
	case Accept:
		if accept >= 1 {
			return 1
		}
		return clamp01(0.5 + 0.5*(score-accept)/(1-accept))
	case Reject:
		if reject <= 0 {
			return 1
		}
		return clamp01(0.5 + 0.5*(reject-score)/reject)
	default:
		half := (accept - reject) / 2
		dist := math.Min(math.Abs(score-accept), math.Abs(score-reject))
		return clamp01(0.5 * math.Min(dist/half, 1))
	}
}

func maxSimilarity(answer fingerprint.Digest, prior []fingerprint.Digest) float64 {
	best := 0.0
	for _, p := range prior {
		if s := fingerprint.Similarity(answer, p); s > best {
			best = s
		}
	}
	return best
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
