package challenge

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
)

// Built-in challenge kinds.
const (
	KindCreativeInput    = "creative_input"
	KindMetaLoop         = "meta_loop"
	KindRecursiveParadox = "recursive_paradox"
	KindQuantumState     = "quantum_state"
	KindTemporalParadox  = "temporal_paradox"
	KindInfiniteRegress  = "infinite_regress"
	KindSequence         = "sequence"
)

// TrapDifficulty is the difficulty from which rounds are served with time dilation.
const TrapDifficulty = 6

const timeDilation = 1.5

// Catalog is the built-in generator. Safe for concurrent use.
type Catalog struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewCatalog returns a catalogue. A nil src seeds from the runtime.
func NewCatalog(src rand.Source) *Catalog {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Catalog{rng: rand.New(src)}
}

type factory func(c *Catalog, req Request) Challenge

// Generate picks a kind suited to the difficulty and builds it.
func (c *Catalog) Generate(ctx context.Context, req Request) (Challenge, error) {
	if err := ctx.Err(); err != nil {
		return Challenge{}, err
	}
	if req.Difficulty < 1 {
		req.Difficulty = 1
	}

	pool := []factory{creativeInput, quantumState, infiniteRegress}
	if req.Difficulty >= 2 {
		pool = append(pool, recursiveParadox, sequence)
	}
	if len(req.PriorDigests) > 0 && req.Difficulty >= 3 {
		pool = append(pool, metaLoop, temporalParadox, metaLoop)
	}

	c.mu.Lock()
	pick := pool[c.rng.IntN(len(pool))]
	ch := pick(c, req)
	c.mu.Unlock()

	ch.Difficulty = req.Difficulty
	if ch.Payload == nil {
		ch.Payload = map[string]any{}
	}
	ch.Payload["round"] = req.RoundIndex
	if req.Difficulty >= TrapDifficulty {
		ch.TimeDilation = timeDilation
		ch.Payload["time_dilation"] = timeDilation
	}
	return ch, nil
}

func creativeInput(_ *Catalog, _ Request) Challenge {
	return Challenge{
		Kind:   KindCreativeInput,
		Prompt: "Name something that doesn't exist but should",
		Input:  true,
	}
}

// metaLoop refers back to the previous answer through a random reference. The
// answer's fingerprint stays on the server.
func metaLoop(c *Catalog, _ Request) Challenge {
	ref := fmt.Sprintf("%08x", c.rng.Uint32())
	return Challenge{
		Kind:            KindMetaLoop,
		Prompt:          fmt.Sprintf("The answer to this is related to your previous answer (ref %s). Rephrase what you entered before.", ref),
		Input:           true,
		Payload:         map[string]any{"ref": ref},
		ReferencesPrior: true,
	}
}

func temporalParadox(_ *Catalog, _ Request) Challenge {
	return Challenge{
		Kind:            KindTemporalParadox,
		Prompt:          "You solved this a moment ago. What was your answer, in different words?",
		Input:           true,
		ReferencesPrior: true,
	}
}

func recursiveParadox(_ *Catalog, req Request) Challenge {
	n := strconv.Itoa(int(req.RoundIndex))
	return Challenge{
		Kind:     KindRecursiveParadox,
		Prompt:   fmt.Sprintf("This statement has exactly %s correct answers in this session.", n),
		Options:  []string{"True", "False", n, "It's impossible"},
		Verifier: VerifierFor(n, "It's impossible"),
	}
}

func quantumState(c *Catalog, _ Request) Challenge {
	states := []string{"superposition", "collapsed", "entangled"}
	options := []string{"YES", "NO", "MAYBE", "SCHRÖDINGER"}
	return Challenge{
		Kind:     KindQuantumState,
		Prompt:   "If you choose YES, you'll get an easier challenge next. What do you choose?",
		Options:  options,
		Payload:  map[string]any{"state": states[c.rng.IntN(len(states))]},
		Verifier: VerifierFor(options...),
	}
}

func infiniteRegress(_ *Catalog, _ Request) Challenge {
	return Challenge{
		Kind:     KindInfiniteRegress,
		Prompt:   "The correct answer is the first option of the next challenge",
		Options:  []string{"Continue"},
		Verifier: VerifierFor("Continue"),
	}
}

// sequence asks for the next term of an arithmetic-geometric sequence whose
// length grows with difficulty.
func sequence(c *Catalog, req Request) Challenge {
	terms := 3 + req.Difficulty/2
	if terms > 8 {
		terms = 8
	}
	start := c.rng.IntN(9) + 1
	step := c.rng.IntN(5) + 1
	mul := 1
	if req.Difficulty >= 4 {
		mul = 2
	}

	seq := make([]int, terms+1)
	seq[0] = start
	for i := 1; i <= terms; i++ {
		seq[i] = seq[i-1]*mul + step
	}

	shown := make([]string, terms)
	for i := 0; i < terms; i++ {
		shown[i] = strconv.Itoa(seq[i])
	}
	return Challenge{
		Kind:     KindSequence,
		Prompt:   "What comes next in this loop?",
		Input:    true,
		Payload:  map[string]any{"terms": shown},
		Verifier: VerifierFor(strconv.Itoa(seq[terms])),
	}
}
