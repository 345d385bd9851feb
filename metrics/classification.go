package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/pkg/errors"
)

const probaEps = 1e-15

// Accuracy is the share of exact label matches.
func Accuracy(yTrue, yPred []float64) (float64, error) {
	if err := checkPair("Accuracy", yTrue, yPred); err != nil {
		return 0, err
	}
	correct := 0
	for i, y := range yTrue {
		if y == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// F1 returns the F1 score of class 1 for binary problems and the unweighted
// mean over classes otherwise. A class with no true or predicted rows
// contributes 0.
func F1(yTrue, yPred []float64, numClasses int) (float64, error) {
	if err := checkPair("F1", yTrue, yPred); err != nil {
		return 0, err
	}
	if numClasses <= 2 {
		return f1ForClass(yTrue, yPred, 1), nil
	}
	var sum float64
	for c := 0; c < numClasses; c++ {
		sum += f1ForClass(yTrue, yPred, float64(c))
	}
	return sum / float64(numClasses), nil
}

func f1ForClass(yTrue, yPred []float64, class float64) float64 {
	var tp, fp, fn float64
	for i, y := range yTrue {
		switch {
		case y == class && yPred[i] == class:
			tp++
		case y != class && yPred[i] == class:
			fp++
		case y == class && yPred[i] != class:
			fn++
		}
	}
	if tp == 0 {
		return 0
	}
	return 2 * tp / (2*tp + fp + fn)
}

// ROCAUC computes the area under the ROC curve from class probabilities.
// Binary problems use the class-1 column; multiclass problems average the
// one-vs-rest AUCs. Ties share their average rank.
func ROCAUC(yTrue []float64, proba *mat.Dense) (float64, error) {
	if proba == nil {
		return 0, errors.NewValidationError("ROCAUC", "probabilities required", nil)
	}
	rows, cols := proba.Dims()
	if rows != len(yTrue) {
		return 0, errors.NewDimensionError("ROCAUC", len(yTrue), rows, 0)
	}
	if cols < 2 {
		return 0, errors.NewDimensionError("ROCAUC", 2, cols, 1)
	}
	if cols == 2 {
		return binaryAUC(yTrue, mat.Col(nil, 1, proba), 1)
	}
	var sum float64
	for c := 0; c < cols; c++ {
		auc, err := binaryAUC(yTrue, mat.Col(nil, c, proba), float64(c))
		if err != nil {
			return 0, err
		}
		sum += auc
	}
	return sum / float64(cols), nil
}

func binaryAUC(yTrue, scores []float64, positive float64) (float64, error) {
	n := len(yTrue)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] < scores[order[b]] })

	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && scores[order[j+1]] == scores[order[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}
		i = j + 1
	}

	var pos, rankSum float64
	for i, y := range yTrue {
		if y == positive {
			pos++
			rankSum += ranks[i]
		}
	}
	neg := float64(n) - pos
	if pos == 0 || neg == 0 {
		return 0, errors.NewValidationError("ROCAUC", "both classes must be present", pos)
	}
	return (rankSum - pos*(pos+1)/2) / (pos * neg), nil
}

// LogLoss is the mean negative log-likelihood of the true class.
// Probabilities are clipped to [1e-15, 1-1e-15].
func LogLoss(yTrue []float64, proba *mat.Dense) (float64, error) {
	if proba == nil {
		return 0, errors.NewValidationError("LogLoss", "probabilities required", nil)
	}
	rows, cols := proba.Dims()
	if rows != len(yTrue) || rows == 0 {
		return 0, errors.NewDimensionError("LogLoss", len(yTrue), rows, 0)
	}
	var sum float64
	for i, y := range yTrue {
		c := int(y)
		if c < 0 || c >= cols {
			return 0, errors.NewValidationError("LogLoss", "class index out of range", y)
		}
		p := math.Min(math.Max(proba.At(i, c), probaEps), 1-probaEps)
		sum -= math.Log(p)
	}
	return sum / float64(rows), nil
}

// OneHot turns class predictions into a degenerate probability matrix.
func OneHot(yPred []float64, numClasses int) *mat.Dense {
	out := mat.NewDense(len(yPred), numClasses, nil)
	for i, y := range yPred {
		if c := int(y); c >= 0 && c < numClasses {
			out.Set(i, c, 1)
		}
	}
	return out
}
