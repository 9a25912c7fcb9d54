package model

import (
	"math"
	"sort"
)

// Params are the boosting hyper-parameters.
type Params struct {
	Rounds              int     `json:"rounds" yaml:"rounds" default:"100" validate:"gte=1"`
	LearningRate        float64 `json:"learning_rate" yaml:"learning_rate" default:"0.1" validate:"gt=0,lte=1"`
	MaxDepth            int     `json:"max_depth" yaml:"max_depth" default:"4" validate:"gte=1,lte=12"`
	MinSamplesLeaf      int     `json:"min_samples_leaf" yaml:"min_samples_leaf" default:"5" validate:"gte=1"`
	Lambda              float64 `json:"lambda" yaml:"lambda" default:"1" validate:"gte=0"`
	Bins                int     `json:"bins" yaml:"bins" default:"32" validate:"gte=2,lte=256"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds" yaml:"early_stopping_rounds" default:"10" validate:"gte=0"`
}

// DefaultParams returns the default boosting parameters
func DefaultParams() Params {
	return Params{
		Rounds:              100,
		LearningRate:        0.1,
		MaxDepth:            4,
		MinSamplesLeaf:      5,
		Lambda:              1,
		Bins:                32,
		EarlyStoppingRounds: 10,
	}
}

const minHessian = 1e-9

type treeNode struct {
	Leaf      bool    `json:"leaf"`
	Value     float64 `json:"value,omitempty"`
	Feature   int     `json:"feature,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
}

type tree struct {
	Nodes []treeNode `json:"nodes"`
}

func (t tree) predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// booster is a binary logistic gradient-boosted tree ensemble.
type booster struct {
	BaseScore    float64 `json:"base_score"`
	LearningRate float64 `json:"learning_rate"`
	NumFeatures  int     `json:"num_features"`
	Trees        []tree  `json:"trees"`
}

func (b *booster) margin(x []float64) float64 {
	m := b.BaseScore
	for _, t := range b.Trees {
		m += b.LearningRate * t.predict(x)
	}
	return m
}

func (b *booster) predict(x []float64) float64 {
	return sigmoid(b.margin(x))
}

type fitResult struct {
	booster       *booster
	gains         []float64
	bestIteration int
	trainLoss     float64
	valLoss       float64
}

// trainer holds the binned training data for one fit.
type trainer struct {
	params     Params
	x          [][]float64
	y          []int
	w          []float64
	thresholds [][]float64 // per feature, ascending cut points
	bins       [][]int     // bins[f][i]: smallest b with x[i][f] <= thresholds[f][b], len(thresholds[f]) if none
	gains      []float64
}

func fit(params Params, x [][]float64, y []int, posWeight float64, valX [][]float64, valY []int) *fitResult {
	nFeat := len(x[0])
	t := &trainer{
		params: params,
		x:      x,
		y:      y,
		w:      make([]float64, len(y)),
		gains:  make([]float64, nFeat),
	}
	sumW, sumWY := 0.0, 0.0
	for i, label := range y {
		t.w[i] = 1
		if label == 1 {
			t.w[i] = posWeight
		}
		sumW += t.w[i]
		sumWY += t.w[i] * float64(label)
	}
	t.buildBins(nFeat)

	// Laplace-smoothed prior keeps the base score finite for single-class data.
	prior := (sumWY + 1) / (sumW + 2)
	b := &booster{
		BaseScore:    math.Log(prior / (1 - prior)),
		LearningRate: params.LearningRate,
		NumFeatures:  nFeat,
	}

	margins := make([]float64, len(y))
	for i := range margins {
		margins[i] = b.BaseScore
	}
	var valMargins []float64
	if len(valX) > 0 {
		valMargins = make([]float64, len(valX))
		for i := range valMargins {
			valMargins[i] = b.BaseScore
		}
	}

	grad := make([]float64, len(y))
	hess := make([]float64, len(y))
	bestLoss := math.Inf(1)
	bestIter := 0
	treeGains := make([][]float64, 0, params.Rounds)

	for round := 0; round < params.Rounds; round++ {
		for i := range y {
			p := sigmoid(margins[i])
			grad[i] = t.w[i] * (p - float64(y[i]))
			hess[i] = math.Max(t.w[i]*p*(1-p), minHessian)
		}
		idx := make([]int, len(y))
		for i := range idx {
			idx[i] = i
		}
		roundGains := make([]float64, nFeat)
		tr := tree{}
		t.grow(&tr, idx, grad, hess, 0, roundGains)
		b.Trees = append(b.Trees, tr)
		treeGains = append(treeGains, roundGains)

		for i := range margins {
			margins[i] += params.LearningRate * tr.predict(x[i])
		}
		if valMargins == nil {
			bestIter = round + 1
			continue
		}
		for i := range valMargins {
			valMargins[i] += params.LearningRate * tr.predict(valX[i])
		}
		loss := logLossFromMargins(valMargins, valY)
		if loss < bestLoss-1e-12 {
			bestLoss = loss
			bestIter = round + 1
		} else if params.EarlyStoppingRounds > 0 && round+1-bestIter >= params.EarlyStoppingRounds {
			break
		}
	}

	b.Trees = b.Trees[:bestIter]
	for _, g := range treeGains[:bestIter] {
		for f, v := range g {
			t.gains[f] += v
		}
	}

	res := &fitResult{booster: b, gains: t.gains, bestIteration: bestIter}
	res.trainLoss = logLoss(b, x, y)
	if len(valX) > 0 {
		res.valLoss = logLoss(b, valX, valY)
	}
	return res
}

func (t *trainer) buildBins(nFeat int) {
	n := len(t.x)
	t.thresholds = make([][]float64, nFeat)
	t.bins = make([][]int, nFeat)
	col := make([]float64, n)
	for f := 0; f < nFeat; f++ {
		for i := range t.x {
			col[i] = t.x[i][f]
		}
		sorted := append([]float64(nil), col...)
		sort.Float64s(sorted)
		uniq := sorted[:0:0]
		for i, v := range sorted {
			if math.IsNaN(v) {
				continue
			}
			if i == 0 || v != sorted[i-1] {
				uniq = append(uniq, v)
			}
		}
		var cuts []float64
		if len(uniq) <= t.params.Bins {
			// midpoints between distinct values
			for i := 0; i+1 < len(uniq); i++ {
				cuts = append(cuts, uniq[i]+(uniq[i+1]-uniq[i])/2)
			}
		} else {
			for b := 1; b < t.params.Bins; b++ {
				q := uniq[b*len(uniq)/t.params.Bins]
				if len(cuts) == 0 || q > cuts[len(cuts)-1] {
					cuts = append(cuts, q)
				}
			}
		}
		t.thresholds[f] = cuts
		bins := make([]int, n)
		for i, v := range col {
			bins[i] = sort.SearchFloat64s(cuts, v)
		}
		t.bins[f] = bins
	}
}

func (t *trainer) grow(tr *tree, idx []int, grad, hess []float64, depth int, gains []float64) int {
	g, h := 0.0, 0.0
	for _, i := range idx {
		g += grad[i]
		h += hess[i]
	}
	nodeID := len(tr.Nodes)
	tr.Nodes = append(tr.Nodes, treeNode{Leaf: true, Value: -g / (h + t.params.Lambda)})

	if depth >= t.params.MaxDepth || len(idx) < 2*t.params.MinSamplesLeaf {
		return nodeID
	}

	parentScore := g * g / (h + t.params.Lambda)
	bestGain, bestFeature, bestBin := 0.0, -1, -1
	for f := range t.thresholds {
		nb := len(t.thresholds[f])
		if nb == 0 {
			continue
		}
		hg := make([]float64, nb+1)
		hh := make([]float64, nb+1)
		hc := make([]int, nb+1)
		for _, i := range idx {
			b := t.bins[f][i]
			hg[b] += grad[i]
			hh[b] += hess[i]
			hc[b]++
		}
		gl, hl, cl := 0.0, 0.0, 0
		for b := 0; b < nb; b++ {
			gl += hg[b]
			hl += hh[b]
			cl += hc[b]
			cr := len(idx) - cl
			if cl < t.params.MinSamplesLeaf {
				continue
			}
			if cr < t.params.MinSamplesLeaf {
				break
			}
			gr, hr := g-gl, h-hl
			gain := gl*gl/(hl+t.params.Lambda) + gr*gr/(hr+t.params.Lambda) - parentScore
			if gain > bestGain+1e-12 {
				bestGain, bestFeature, bestBin = gain, f, b
			}
		}
	}
	if bestFeature < 0 {
		return nodeID
	}

	var left, right []int
	for _, i := range idx {
		if t.bins[bestFeature][i] <= bestBin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	gains[bestFeature] += bestGain

	l := t.grow(tr, left, grad, hess, depth+1, gains)
	r := t.grow(tr, right, grad, hess, depth+1, gains)
	tr.Nodes[nodeID] = treeNode{
		Feature:   bestFeature,
		Threshold: t.thresholds[bestFeature][bestBin],
		Left:      l,
		Right:     r,
	}
	return nodeID
}

func sigmoid(m float64) float64 {
	return 1 / (1 + math.Exp(-m))
}

func logLoss(b *booster, x [][]float64, y []int) float64 {
	margins := make([]float64, len(x))
	for i := range x {
		margins[i] = b.margin(x[i])
	}
	return logLossFromMargins(margins, y)
}

func logLossFromMargins(margins []float64, y []int) float64 {
	if len(y) == 0 {
		return 0
	}
	const eps = 1e-15
	sum := 0.0
	for i, m := range margins {
		p := math.Min(math.Max(sigmoid(m), eps), 1-eps)
		if y[i] == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(len(y))
}
