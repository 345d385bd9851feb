package search

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/core/trial"
)

// Proposal is one configuration to evaluate.
type Proposal struct {
	Family string
	Params model.Params
}

// Sampler proposes the configuration for trial id. Implementations must be
// pure: the same state, id and families always give the same proposal.
type Sampler interface {
	Propose(st State, id int, families []model.Family) Proposal
}

func trialRand(st State, id int) *rand.Rand {
	return rand.New(rand.NewPCG(st.Seed(), uint64(id)*0x9e3779b97f4a7c15+1))
}

// RandomSampler draws a family uniformly and every parameter uniformly in
// unit space.
type RandomSampler struct{}

// Propose implements Sampler.
func (RandomSampler) Propose(st State, id int, families []model.Family) Proposal {
	r := trialRand(st, id)
	f := families[r.IntN(len(families))]
	return Proposal{Family: f.Name(), Params: f.Space().Sample(r)}
}

// Defaults for AdaptiveSampler.
const (
	DefaultStartup    = 6
	DefaultGamma      = 0.25
	DefaultCandidates = 24
	DefaultBandwidth  = 0.15
)

// AdaptiveSampler is a tree-structured Parzen estimator. Once Startup scored
// trials exist, history is split into the best Gamma share ("good") and the
// rest. The family is drawn in proportion to its smoothed share of good
// trials, then each parameter independently takes the candidate, among
// Candidates draws from the good density, that maximises good/bad density.
// Unset fields take the Default* values.
type AdaptiveSampler struct {
	Startup    int
	Gamma      float64
	Candidates int
	Bandwidth  float64
}

func (a AdaptiveSampler) withDefaults() AdaptiveSampler {
	if a.Startup <= 0 {
		a.Startup = DefaultStartup
	}
	if a.Gamma <= 0 || a.Gamma >= 1 {
		a.Gamma = DefaultGamma
	}
	if a.Candidates <= 0 {
		a.Candidates = DefaultCandidates
	}
	if a.Bandwidth <= 0 {
		a.Bandwidth = DefaultBandwidth
	}
	return a
}

// Propose implements Sampler.
func (a AdaptiveSampler) Propose(st State, id int, families []model.Family) Proposal {
	a = a.withDefaults()
	allowed := make(map[string]bool, len(families))
	for _, f := range families {
		allowed[f.Name()] = true
	}
	var scored []*trial.Trial
	for _, t := range st.History() {
		if t.State == trial.Scored && allowed[t.Family] {
			scored = append(scored, t)
		}
	}
	if len(scored) < a.Startup {
		return RandomSampler{}.Propose(st, id, families)
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Mean != scored[j].Mean {
			return scored[i].Mean > scored[j].Mean
		}
		return scored[i].ID < scored[j].ID
	})
	nGood := int(math.Ceil(a.Gamma * float64(len(scored))))
	good, bad := scored[:nGood], scored[nGood:]

	r := trialRand(st, id)
	f := a.pickFamily(r, families, good, scored)
	goodF, badF := byFamily(good, f.Name()), byFamily(bad, f.Name())

	params := make(model.Params, len(f.Space()))
	for _, p := range f.Space() {
		if len(goodF) == 0 {
			params[p.Name] = p.FromUnit(r.Float64())
			continue
		}
		if p.Kind == model.CategoricalParam {
			params[p.Name] = a.pickChoice(r, p, goodF, badF)
			continue
		}
		params[p.Name] = p.FromUnit(a.pickUnit(r, p, goodF, badF))
	}
	return Proposal{Family: f.Name(), Params: params}
}

// pickFamily weights each family by (good+1)/(all+2).
func (a AdaptiveSampler) pickFamily(r *rand.Rand, families []model.Family, good, all []*trial.Trial) model.Family {
	weights := make([]float64, len(families))
	total := 0.0
	for i, f := range families {
		g, n := len(byFamily(good, f.Name())), len(byFamily(all, f.Name()))
		weights[i] = float64(g+1) / float64(n+2)
		total += weights[i]
	}
	u := r.Float64() * total
	for i, w := range weights {
		if u < w {
			return families[i]
		}
		u -= w
	}
	return families[len(families)-1]
}

func (a AdaptiveSampler) pickUnit(r *rand.Rand, p model.Param, good, bad []*trial.Trial) float64 {
	gu, bu := units(p, good), units(p, bad)
	best, bestRatio := 0.5, math.Inf(-1)
	for i := 0; i < a.Candidates; i++ {
		centre := gu[r.IntN(len(gu))]
		x := math.Min(math.Max(centre+r.NormFloat64()*a.Bandwidth, 0), 1)
		ratio := math.Log(parzen(x, gu, a.Bandwidth)) - math.Log(parzen(x, bu, a.Bandwidth))
		if ratio > bestRatio {
			best, bestRatio = x, ratio
		}
	}
	return best
}

func (a AdaptiveSampler) pickChoice(r *rand.Rand, p model.Param, good, bad []*trial.Trial) string {
	gc, bc := choiceCounts(p, good), choiceCounts(p, bad)
	k := float64(len(p.Choices))
	best, bestRatio := p.Choices[0], math.Inf(-1)
	for i := 0; i < a.Candidates; i++ {
		// Draw from the smoothed good frequencies.
		u := r.Float64() * (float64(len(good)) + k)
		c := 0
		for ; c < len(p.Choices)-1; c++ {
			if u < gc[c]+1 {
				break
			}
			u -= gc[c] + 1
		}
		l := (gc[c] + 1) / (float64(len(good)) + k)
		g := (bc[c] + 1) / (float64(len(bad)) + k)
		if ratio := l / g; ratio > bestRatio {
			best, bestRatio = p.Choices[c], ratio
		}
	}
	return best
}

// parzen is a Gaussian mixture over points plus one uniform prior
// component on [0, 1].
func parzen(x float64, points []float64, bw float64) float64 {
	norm := 1 / (bw * math.Sqrt(2*math.Pi))
	sum := 1.0
	for _, p := range points {
		d := (x - p) / bw
		sum += norm * math.Exp(-0.5*d*d)
	}
	return sum / float64(len(points)+1)
}

func units(p model.Param, ts []*trial.Trial) []float64 {
	out := make([]float64, len(ts))
	for i, t := range ts {
		out[i] = p.ToUnit(t.Params[p.Name])
	}
	return out
}

func choiceCounts(p model.Param, ts []*trial.Trial) []float64 {
	counts := make([]float64, len(p.Choices))
	for _, t := range ts {
		v := t.Params.String(p.Name, "")
		for i, c := range p.Choices {
			if c == v {
				counts[i]++
			}
		}
	}
	return counts
}

func byFamily(ts []*trial.Trial, family string) []*trial.Trial {
	var out []*trial.Trial
	for _, t := range ts {
		if t.Family == family {
			out = append(out, t)
		}
	}
	return out
}
