package model

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/otter-ml/otter/pkg/errors"
)

// ParamKind is the domain type of a hyperparameter.
type ParamKind string

const (
	FloatParam       ParamKind = "float"
	IntParam         ParamKind = "int"
	CategoricalParam ParamKind = "categorical"
)

// Param describes the range of one hyperparameter.
type Param struct {
	Name    string    `json:"name"`
	Kind    ParamKind `json:"kind"`
	Low     float64   `json:"low,omitempty"`
	High    float64   `json:"high,omitempty"`
	Log     bool      `json:"log,omitempty"`
	Choices []string  `json:"choices,omitempty"`
}

// Float declares a float parameter sampled uniformly in [low, high].
func Float(name string, low, high float64) Param {
	return Param{Name: name, Kind: FloatParam, Low: low, High: high}
}

// LogFloat declares a float parameter sampled uniformly in log space.
func LogFloat(name string, low, high float64) Param {
	return Param{Name: name, Kind: FloatParam, Low: low, High: high, Log: true}
}

// Int declares an integer parameter in [low, high] inclusive.
func Int(name string, low, high int) Param {
	return Param{Name: name, Kind: IntParam, Low: float64(low), High: float64(high)}
}

// Categorical declares a parameter taking one of choices.
func Categorical(name string, choices ...string) Param {
	return Param{Name: name, Kind: CategoricalParam, Choices: append([]string(nil), choices...)}
}

// Validate checks bounds and choices.
func (p Param) Validate() error {
	field := "space." + p.Name
	switch p.Kind {
	case FloatParam, IntParam:
		if math.IsNaN(p.Low) || math.IsNaN(p.High) || p.Low > p.High {
			return errors.NewConfigError(field, "low must not exceed high", [2]float64{p.Low, p.High})
		}
		if p.Log && p.Low <= 0 {
			return errors.NewConfigError(field, "log-scaled bounds must be positive", p.Low)
		}
	case CategoricalParam:
		if len(p.Choices) == 0 {
			return errors.NewConfigError(field, "categorical parameter needs at least one choice", nil)
		}
	default:
		return errors.NewConfigError(field, "unknown parameter kind", p.Kind)
	}
	return nil
}

// FromUnit maps u in [0, 1] onto the parameter's domain. Float parameters
// return float64, Int parameters int and Categorical parameters string.
func (p Param) FromUnit(u float64) any {
	u = math.Min(math.Max(u, 0), 1)
	switch p.Kind {
	case IntParam:
		span := p.High - p.Low + 1
		v := p.Low + math.Floor(u*span)
		return int(math.Min(v, p.High))
	case CategoricalParam:
		i := int(u * float64(len(p.Choices)))
		if i >= len(p.Choices) {
			i = len(p.Choices) - 1
		}
		return p.Choices[i]
	default:
		if p.Log {
			lo, hi := math.Log(p.Low), math.Log(p.High)
			return math.Exp(lo + u*(hi-lo))
		}
		return p.Low + u*(p.High-p.Low)
	}
}

// ToUnit is the inverse of FromUnit. Int and Categorical values map to the
// centre of their cell. Unknown values map to 0.5.
func (p Param) ToUnit(v any) float64 {
	switch p.Kind {
	case CategoricalParam:
		s, _ := v.(string)
		for i, c := range p.Choices {
			if c == s {
				return (float64(i) + 0.5) / float64(len(p.Choices))
			}
		}
		return 0.5
	case IntParam:
		f, ok := toFloat(v)
		if !ok {
			return 0.5
		}
		span := p.High - p.Low + 1
		return math.Min(math.Max((f-p.Low+0.5)/span, 0), 1)
	default:
		f, ok := toFloat(v)
		if !ok {
			return 0.5
		}
		if p.High == p.Low {
			return 0.5
		}
		if p.Log {
			lo, hi := math.Log(p.Low), math.Log(p.High)
			return math.Min(math.Max((math.Log(f)-lo)/(hi-lo), 0), 1)
		}
		return math.Min(math.Max((f-p.Low)/(p.High-p.Low), 0), 1)
	}
}

// Space is the ordered set of hyperparameters a family declares.
type Space []Param

// Validate checks every parameter and rejects duplicate names.
func (s Space) Validate() error {
	seen := make(map[string]bool, len(s))
	for _, p := range s {
		if p.Name == "" {
			return errors.NewConfigError("space", "parameter name must not be empty", nil)
		}
		if seen[p.Name] {
			return errors.NewConfigError("space."+p.Name, "duplicate parameter", nil)
		}
		seen[p.Name] = true
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Sample draws every parameter uniformly in unit space.
func (s Space) Sample(r *rand.Rand) Params {
	out := make(Params, len(s))
	for _, p := range s {
		out[p.Name] = p.FromUnit(r.Float64())
	}
	return out
}

// Params is one concrete hyperparameter assignment.
type Params map[string]any

// Float returns a float parameter or def.
func (p Params) Float(name string, def float64) float64 {
	if f, ok := toFloat(p[name]); ok {
		return f
	}
	return def
}

// Int returns an integer parameter or def. JSON-decoded float64 values are
// accepted.
func (p Params) Int(name string, def int) int {
	if f, ok := toFloat(p[name]); ok {
		return int(math.Round(f))
	}
	return def
}

// String returns a string parameter or def.
func (p Params) String(name string, def string) string {
	if s, ok := p[name].(string); ok {
		return s
	}
	return def
}

// Clone returns a shallow copy. Values are scalars so this is a full copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Names returns the parameter names sorted.
func (p Params) Names() []string {
	names := make([]string, 0, len(p))
	for k := range p {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Key returns a canonical encoding usable for equality checks.
func (p Params) Key() string {
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(b)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
