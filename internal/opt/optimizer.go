package opt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/blackbox/internal/param"
)

// maxConstraintTrials bounds how often an ask is resampled against cheap
// constraints before giving up with a warning.
const maxConstraintTrials = 100

// Objective evaluates a candidate and returns its loss. Evaluations happen
// outside the optimizer, possibly concurrently.
type Objective func(cand *Candidate) float64

// VectorObjective adapts a plain vector function to an Objective.
func VectorObjective(f func(x []float64) float64) Objective {
	return func(c *Candidate) float64 {
		switch v := c.Value.(type) {
		case []float64:
			return f(v)
		case float64:
			return f([]float64{v})
		default:
			return f(c.Data)
		}
	}
}

// Optimizer is the ask/tell state machine wrapping a strategy engine. It is
// safe for concurrent callers: a mutex guards the archive, the counters and
// the outstanding-ask set, while the engine itself stays single-owner.
type Optimizer struct {
	mu sync.Mutex

	name       string
	p          *param.Parametrization
	budget     int
	numWorkers int

	env    *Env
	method Method

	archive *Archive
	bests   map[Rank]string // archive key of the current best per rank

	asked map[string]*Candidate // outstanding asks by UID

	numAsk          int
	numTell         int
	numTellNotAsked int
}

// New constructs an optimizer for the named strategy.
//
// Non-parallel strategies reject numWorkers > 1 here, at construction, so
// misconfiguration never survives into the ask/tell phase.
func New(name string, p *param.Parametrization, budget, numWorkers int) (*Optimizer, error) {
	reg, ok := lookup(name)
	if !ok {
		return nil, &UnknownStrategyError{Name: name}
	}
	return build(reg, p, budget, numWorkers)
}

// build validates the configuration and assembles the optimizer around the
// registration's factory. Composers reuse it with ad-hoc registrations.
func build(reg Registration, p *param.Parametrization, budget, numWorkers int) (*Optimizer, error) {
	if p == nil {
		return nil, &ConfigurationError{Field: "parametrization", Reason: "cannot be nil"}
	}
	if budget <= 0 {
		return nil, &ConfigurationError{Field: "budget", Reason: "must be positive"}
	}
	if numWorkers < 1 {
		return nil, &ConfigurationError{Field: "numWorkers", Reason: "must be at least 1"}
	}
	if reg.NoParallelization && numWorkers > 1 {
		return nil, &ConfigurationError{
			Field:  "numWorkers",
			Reason: fmt.Sprintf("strategy %s does not support parallel evaluation", reg.Name),
		}
	}

	o := &Optimizer{
		name:       reg.Name,
		p:          p,
		budget:     budget,
		numWorkers: numWorkers,
		archive:    NewArchive(),
		bests:      make(map[Rank]string),
		asked:      make(map[string]*Candidate),
	}
	o.env = &Env{
		Param:        p,
		Budget:       budget,
		NumWorkers:   numWorkers,
		newCandidate: o.childCandidate,
	}

	method, err := reg.Factory(o.env)
	if err != nil {
		return nil, fmt.Errorf("failed to build strategy %s: %w", reg.Name, err)
	}
	o.method = method
	return o, nil
}

// NewFromDimension constructs an optimizer over a bare unbounded continuous
// space of the given dimensionality.
func NewFromDimension(name string, dimension, budget, numWorkers int) (*Optimizer, error) {
	return New(name, param.FromDimension(dimension), budget, numWorkers)
}

// childCandidate creates a candidate from standardized data, decoding the
// value and stamping identity and generation.
func (o *Optimizer) childCandidate(data []float64) *Candidate {
	value, err := o.p.Value(data)
	if err != nil {
		// Methods only produce data of the right dimension; a mismatch here
		// is a programming error in the method itself.
		panic(fmt.Sprintf("opt: method produced invalid data: %v", err))
	}
	return &Candidate{
		UID:        newUID(),
		Data:       append([]float64(nil), data...),
		Value:      value,
		Generation: o.numAsk + 1,
		Origin:     o.name,
	}
}

// CandidateFromData builds an external candidate for injection via Tell.
// The returned candidate is not part of the outstanding-ask set.
func (o *Optimizer) CandidateFromData(data []float64) (*Candidate, error) {
	value, err := o.p.Value(data)
	if err != nil {
		return nil, &ConfigurationError{Field: "data", Reason: err.Error()}
	}
	return &Candidate{
		UID:   newUID(),
		Data:  append([]float64(nil), data...),
		Value: value,
	}, nil
}

// Name returns the strategy name.
func (o *Optimizer) Name() string { return o.name }

// Budget returns the total evaluation budget fixed at construction.
func (o *Optimizer) Budget() int { return o.budget }

// NumWorkers returns the configured external parallelism bound.
func (o *Optimizer) NumWorkers() int { return o.numWorkers }

// Dimension returns the standardized dimension of the search space.
func (o *Optimizer) Dimension() int { return o.p.Dimension() }

// Parametrization returns the search-space description.
func (o *Optimizer) Parametrization() *param.Parametrization { return o.p }

// Archive returns the evaluation archive. Callers must not mutate it.
func (o *Optimizer) Archive() *Archive { return o.archive }

// NumAsk returns the number of asks issued so far.
func (o *Optimizer) NumAsk() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.numAsk
}

// NumTell returns the number of tells received so far.
func (o *Optimizer) NumTell() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.numTell
}

// NumTellNotAsked returns the number of externally injected tells.
func (o *Optimizer) NumTellNotAsked() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.numTellNotAsked
}

// Outstanding returns the number of asked-but-untold candidates.
func (o *Optimizer) Outstanding() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.asked)
}

// closer is implemented by methods holding live resources, i.e. the recast
// bridge whose engine goroutine must be told to wind down when the
// optimizer is abandoned mid-run. Combinators forward Close to their
// members.
type closer interface {
	Close() error
}

// Close releases any live resources held by the strategy. Only
// engine-wrapping strategies hold such resources; for everything else Close
// is a no-op. An optimizer remains usable afterwards, though a closed
// engine degrades to prior sampling.
func (o *Optimizer) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.method.(closer); ok {
		return c.Close()
	}
	return nil
}

// Ask produces the next candidate to evaluate.
//
// Asking past the budget or beyond numWorkers outstanding candidates is
// tolerated (the optimizer state never corrupts) but logged, since it
// signals a caller driving the loop incorrectly.
func (o *Optimizer) Ask() (*Candidate, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.numAsk >= o.budget {
		w := &BudgetWarning{NumAsk: o.numAsk, Budget: o.budget}
		slog.Warn("Ask past budget", "strategy", o.name, "warning", w.Error())
	}

	cand, err := o.askWithConstraints()
	if err != nil {
		return nil, fmt.Errorf("strategy %s failed to propose a candidate: %w", o.name, err)
	}

	o.asked[cand.UID] = cand
	o.numAsk++

	if len(o.asked) > o.numWorkers {
		slog.Debug("Outstanding asks exceed num_workers",
			"strategy", o.name, "outstanding", len(o.asked), "num_workers", o.numWorkers)
	}
	return cand, nil
}

// askWithConstraints resamples the method until the cheap constraints are
// satisfied, up to maxConstraintTrials attempts.
func (o *Optimizer) askWithConstraints() (*Candidate, error) {
	cand, err := o.method.Ask()
	if err != nil || !o.p.HasConstraints() {
		return cand, err
	}
	for trial := 1; trial < maxConstraintTrials; trial++ {
		if o.p.Satisfied(cand.Value) {
			return cand, nil
		}
		// Resolve the infeasible candidate as a failed trial so the method
		// does not accumulate stale outstanding state for it.
		o.method.Tell(cand, math.Inf(1))
		cand, err = o.method.Ask()
		if err != nil {
			return nil, err
		}
	}
	if !o.p.Satisfied(cand.Value) {
		slog.Warn("Constraint resampling exhausted, returning infeasible candidate",
			"strategy", o.name, "trials", maxConstraintTrials)
	}
	return cand, nil
}

// Tell reports the observed loss for a candidate.
//
// The candidate may be a previously asked one (removed from the outstanding
// set) or an external injection, in which case strategies unable to fold
// foreign points return ErrTellNotAskedNotSupported. Tells may arrive in any
// order relative to asks.
func (o *Optimizer) Tell(cand *Candidate, loss float64) error {
	return o.tell(cand, loss, nil)
}

// TellMulti reports a multi-objective loss vector, folded to a scalar for
// ranking by averaging the components. Non-finite components make the
// folded value +Inf so the point never ranks.
func (o *Optimizer) TellMulti(cand *Candidate, losses []float64) error {
	if len(losses) == 0 {
		return &ConfigurationError{Field: "losses", Reason: "cannot be empty"}
	}
	sum := 0.0
	for _, l := range losses {
		if math.IsNaN(l) || math.IsInf(l, 0) {
			sum = math.Inf(1)
			break
		}
		sum += l
	}
	folded := sum
	if !math.IsInf(sum, 1) {
		folded = sum / float64(len(losses))
	}
	return o.tell(cand, folded, losses)
}

func (o *Optimizer) tell(cand *Candidate, loss float64, losses []float64) error {
	if cand == nil {
		return &ConfigurationError{Field: "candidate", Reason: "cannot be nil"}
	}
	if len(cand.Data) != o.p.Dimension() {
		return &ConfigurationError{
			Field:  "candidate",
			Reason: fmt.Sprintf("dimension %d does not match parametrization dimension %d", len(cand.Data), o.p.Dimension()),
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// Non-finite losses are recorded but never enter ranking arithmetic.
	effective := loss
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		effective = math.Inf(1)
	}

	attached := loss
	cand.Loss = &attached
	cand.Losses = losses

	key := o.archive.Add(cand.Data, loss)
	o.updateBests(key)

	if _, wasAsked := o.asked[cand.UID]; wasAsked {
		delete(o.asked, cand.UID)
		o.method.Tell(cand, effective)
		o.numTell++
		return nil
	}

	if err := o.method.TellNotAsked(cand, effective); err != nil {
		return fmt.Errorf("strategy %s: %w", o.name, err)
	}
	o.numTellNotAsked++
	o.numTell++
	return nil
}

// updateBests keeps the current-bests index equal to the archive minimum
// under every rank. When the updated entry was the incumbent its score may
// have degraded, so the archive is rescanned; otherwise a single comparison
// suffices.
func (o *Optimizer) updateBests(key string) {
	entry := o.archive.get(key)
	for _, r := range ranks {
		bestKey, ok := o.bests[r]
		switch {
		case !ok:
			o.bests[r] = key
		case bestKey == key:
			if minKey, _, found := o.archive.MinScore(r); found {
				o.bests[r] = minKey
			}
		default:
			if entry.stats.score(r) < o.archive.get(bestKey).stats.score(r) {
				o.bests[r] = key
			}
		}
	}
}

// BestPoint is an entry of the current-bests index.
type BestPoint struct {
	Data  []float64
	Stats Stats
}

// CurrentBest returns the best archive point under the given rank, or false
// when nothing has been told yet.
func (o *Optimizer) CurrentBest(r Rank) (BestPoint, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key, ok := o.bests[r]
	if !ok {
		return BestPoint{}, false
	}
	entry := o.archive.get(key)
	return BestPoint{
		Data:  append([]float64(nil), entry.data...),
		Stats: entry.stats,
	}, true
}

// Recommend returns the current best estimate without consuming budget. It
// is callable at any point, including before the first ask, in which case
// the parametrization's centroid is returned.
//
// The default ranking is the pessimistic confidence bound; strategies with
// a model-based estimate (e.g. distribution means) override it.
func (o *Optimizer) Recommend() *Candidate {
	o.mu.Lock()
	defer o.mu.Unlock()

	if rec, ok := o.method.(recommender); ok {
		if data, valid := rec.RecommendData(); valid {
			return o.recommendation(data, nil)
		}
	}

	if key, ok := o.bests[RankPessimistic]; ok {
		entry := o.archive.get(key)
		mean := entry.stats.Average()
		return o.recommendation(entry.data, &mean)
	}

	// Nothing told yet: centroid of the standardized space.
	return o.recommendation(make([]float64, o.p.Dimension()), nil)
}

func (o *Optimizer) recommendation(data []float64, loss *float64) *Candidate {
	value, err := o.p.Value(data)
	if err != nil {
		value = nil
	}
	return &Candidate{
		UID:    newUID(),
		Data:   append([]float64(nil), data...),
		Value:  value,
		Origin: o.name,
		Loss:   loss,
	}
}

// Minimize drives the full budget against the objective, evaluating up to
// numWorkers candidates concurrently. The optimizer core stays a
// synchronous state machine; concurrency lives entirely in the evaluation
// workers. On return every ask has been told.
func (o *Optimizer) Minimize(ctx context.Context, objective Objective) (*Candidate, error) {
	if objective == nil {
		return nil, &ConfigurationError{Field: "objective", Reason: "cannot be nil"}
	}

	var (
		slotMu sync.Mutex
		issued int
	)
	takeSlot := func() bool {
		slotMu.Lock()
		defer slotMu.Unlock()
		if issued >= o.budget {
			return false
		}
		issued++
		return true
	}

	g, ctx := errgroup.WithContext(ctx)
	workers := o.numWorkers
	if workers > o.budget {
		workers = o.budget
	}
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for takeSlot() {
				if err := ctx.Err(); err != nil {
					return err
				}
				cand, err := o.Ask()
				if err != nil {
					return err
				}
				loss := objective(cand)
				if err := o.Tell(cand, loss); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	recom := o.Recommend()
	if recom.Loss != nil && (math.IsNaN(*recom.Loss) || math.IsInf(*recom.Loss, 0)) && !IsLenient(o.name) {
		slog.Warn("Recommendation has non-finite loss", "strategy", o.name)
	}
	return recom, nil
}

// Info returns structured introspection data. Dispatchers and combinators
// contribute a "sub-optim" key naming their concrete sub-strategies.
func (o *Optimizer) Info() map[string]any {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := map[string]any{
		"name":        o.name,
		"budget":      o.budget,
		"num_workers": o.numWorkers,
		"dimension":   o.p.Dimension(),
	}
	if inf, ok := o.method.(infoer); ok {
		inf.Info(out)
	}
	return out
}

// optimizerState is the serialized form of the full state machine. It is
// shared between top-level dumps and the snapshots of combinators that
// nest optimizers.
type optimizerState struct {
	Name            string              `json:"name"`
	Budget          int                 `json:"budget"`
	NumWorkers      int                 `json:"numWorkers"`
	NumAsk          int                 `json:"numAsk"`
	NumTell         int                 `json:"numTell"`
	NumTellNotAsked int                 `json:"numTellNotAsked"`
	RNG             json.RawMessage     `json:"rng"`
	Archive         []archiveEntryState `json:"archive"`
	Asked           []candidateState    `json:"asked"`
	Method          json.RawMessage     `json:"method"`
}

func (o *Optimizer) state() (*optimizerState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	methodState, err := o.method.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot strategy %s: %w", o.name, err)
	}
	rngState, err := json.Marshal(o.p.RNG())
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot random state: %w", err)
	}

	asked := make([]candidateState, 0, len(o.asked))
	for _, cand := range o.asked {
		asked = append(asked, cand.state())
	}

	return &optimizerState{
		Name:            o.name,
		Budget:          o.budget,
		NumWorkers:      o.numWorkers,
		NumAsk:          o.numAsk,
		NumTell:         o.numTell,
		NumTellNotAsked: o.numTellNotAsked,
		RNG:             rngState,
		Archive:         o.archive.state(),
		Asked:           asked,
		Method:          methodState,
	}, nil
}

func (o *Optimizer) restoreState(st *optimizerState) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if st.Name != o.name {
		return &ConfigurationError{
			Field:  "state",
			Reason: fmt.Sprintf("saved strategy %s does not match %s", st.Name, o.name),
		}
	}

	if err := json.Unmarshal(st.RNG, o.p.RNG()); err != nil {
		return fmt.Errorf("failed to restore random state: %w", err)
	}

	o.numAsk = st.NumAsk
	o.numTell = st.NumTell
	o.numTellNotAsked = st.NumTellNotAsked

	o.archive.restore(st.Archive)
	o.bests = make(map[Rank]string)
	for _, r := range ranks {
		if key, _, ok := o.archive.MinScore(r); ok {
			o.bests[r] = key
		}
	}

	o.asked = make(map[string]*Candidate, len(st.Asked))
	for _, cs := range st.Asked {
		cand, err := o.restoreCandidate(cs)
		if err != nil {
			return err
		}
		o.asked[cand.UID] = cand
	}

	if err := o.method.Restore(st.Method); err != nil {
		return fmt.Errorf("failed to restore strategy %s: %w", o.name, err)
	}
	return nil
}

func (o *Optimizer) restoreCandidate(cs candidateState) (*Candidate, error) {
	value, err := o.p.Value(cs.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to restore candidate %s: %w", cs.UID, err)
	}
	return &Candidate{
		UID:        cs.UID,
		Data:       cs.Data,
		Value:      value,
		Generation: cs.Generation,
		Origin:     cs.Origin,
		Loss:       cs.Loss,
		Losses:     cs.Losses,
	}, nil
}
