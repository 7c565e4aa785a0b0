package seeding

import (
	"context"
	"math"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"dtiseed/internal/logging"
	"dtiseed/internal/models"
	"dtiseed/pkg/field"
)

// noCandidate is the score of a round in which no candidate survived.
const noCandidate = -1.0

// Score is the breakdown of an accepted seed's score.
type Score struct {
	// Dist is the distance between the start and the end of the streamline
	Dist float64

	// Spread is the summed distance to earlier seeds raised to sqrt(round)
	Spread float64

	// Value is Dist + Dist*Spread
	Value float64
}

// Result is the outcome of Search.
type Result struct {
	// Seeds are the accepted seed points in discovery order
	Seeds []models.SeedPoint

	// Trails holds the voxel indices of each accepted seed's streamline
	Trails [][]int

	// Scores holds the score of each accepted seed
	Scores []Score
}

type candidate struct {
	x, y, z int
	order   int
}

type evaluation struct {
	cand  candidate
	trail []int
	score Score
}

func (e evaluation) beats(o evaluation) bool {
	if e.score.Value != o.score.Value {
		return e.score.Value > o.score.Value
	}
	return e.cand.order < o.cand.order
}

type searcher struct {
	grid     *field.Grid
	params   Params
	logger   *zap.SugaredLogger
	lattice  []candidate
	visited  trailSet
	accepted map[[3]int]struct{}
	result   *Result
}

// Search finds up to params.NumPoints seeding points in g.
//
// Rounds run sequentially. The context is checked between rounds; on
// cancellation the seeds accepted so far are returned with the context
// error. Fewer seeds than requested is a normal outcome.
func Search(ctx context.Context, g *field.Grid, params Params, logger *zap.SugaredLogger) (*Result, error) {
	w, h, d := g.Dims()
	if err := params.Validate(w, h, d); err != nil {
		return nil, err
	}
	if params.NumWorkers < 1 {
		params.NumWorkers = runtime.NumCPU()
	}

	s := &searcher{
		grid:     g,
		params:   params,
		logger:   logging.OrNop(logger),
		lattice:  lattice(w, h, d, params.StepSize),
		visited:  trailSet{},
		accepted: map[[3]int]struct{}{},
		result:   &Result{},
	}

	for i := 0; i < params.NumPoints; i++ {
		if err := ctx.Err(); err != nil {
			return s.result, err
		}
		best, ok := s.round(i)
		if !ok {
			s.logger.Debugw("no candidate qualified", "round", i)
			continue
		}
		s.accept(i, best)
	}
	return s.result, nil
}

// lattice enumerates candidate start points in z, y, x order, skipping a
// border of one step on every axis.
func lattice(width, height, depth, step int) []candidate {
	var out []candidate
	for z := step; z < depth-step; z += step {
		for y := step; y < height-step; y += step {
			for x := step; x < width-step; x += step {
				out = append(out, candidate{x: x, y: y, z: z, order: len(out)})
			}
		}
	}
	return out
}

// round evaluates every candidate and returns the best. Workers share the
// read-only grid and trail set; ties go to the earliest lattice point so the
// outcome does not depend on scheduling.
func (s *searcher) round(i int) (evaluation, bool) {
	numWorkers := s.params.NumWorkers
	if numWorkers > len(s.lattice) {
		numWorkers = len(s.lattice)
	}

	bests := make([]evaluation, numWorkers)
	var wg sync.WaitGroup
	for wk := 0; wk < numWorkers; wk++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			best := evaluation{score: Score{Value: noCandidate}}
			for j := worker; j < len(s.lattice); j += numWorkers {
				e, ok := s.evaluate(i, s.lattice[j])
				if ok && e.beats(best) {
					best = e
				}
			}
			bests[worker] = best
		}(wk)
	}
	wg.Wait()

	best := evaluation{score: Score{Value: noCandidate}}
	for _, b := range bests {
		if b.score.Value > noCandidate && (best.score.Value == noCandidate || b.beats(best)) {
			best = b
		}
	}
	return best, best.score.Value > noCandidate
}

func (s *searcher) evaluate(i int, c candidate) (evaluation, bool) {
	if _, dup := s.accepted[[3]int{c.x, c.y, c.z}]; dup {
		return evaluation{}, false
	}
	if coherence(s.grid, c.x, c.y, c.z) < s.params.FAAreaThreshold {
		return evaluation{}, false
	}

	start := r3.Vec{X: float64(c.x), Y: float64(c.y), Z: float64(c.z)}
	trail, disp, ok := trace(s.grid, start, s.params.MaxSteps, s.visited)
	if !ok {
		return evaluation{}, false
	}

	dist := r3.Norm(disp)
	sum := 0.0
	for _, p := range s.result.Seeds {
		sum += r3.Norm(r3.Sub(start, r3.Vec{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}))
	}
	spread := math.Pow(sum, math.Sqrt(float64(i)))
	return evaluation{
		cand:  c,
		trail: trail,
		score: Score{Dist: dist, Spread: spread, Value: dist + dist*spread},
	}, true
}

func (s *searcher) accept(i int, e evaluation) {
	c := e.cand
	seed := models.SeedPoint{X: float32(c.x), Y: float32(c.y), Z: float32(c.z)}

	s.accepted[[3]int{c.x, c.y, c.z}] = struct{}{}
	s.visited.add(e.trail)
	s.result.Seeds = append(s.result.Seeds, seed)
	s.result.Trails = append(s.result.Trails, e.trail)
	s.result.Scores = append(s.result.Scores, e.score)

	s.logger.Infow("found seed point",
		"round", i,
		"x", c.x, "y", c.y, "z", c.z,
		"dist", e.score.Dist,
		"spread", e.score.Spread,
		"score", e.score.Value,
		"fa", s.grid.At(c.x, c.y, c.z).FA,
	)
}
