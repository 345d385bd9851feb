package candidates

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/linear"
	"github.com/otter-ml/otter/neighbors"
	"github.com/otter-ml/otter/pkg/errors"
	"github.com/otter-ml/otter/tree"
)

// Logistic is L2-regularised logistic regression.
type Logistic struct{}

func (Logistic) Name() string                  { return "logistic_regression" }
func (Logistic) Supports(task model.Task) bool { return task == model.Classification }

func (Logistic) Space() model.Space {
	return model.Space{
		model.LogFloat("C", 1e-3, 1e2),
		model.Int("max_iter", 50, 400),
	}
}

func (Logistic) Fit(ctx context.Context, X mat.Matrix, y []float64, p model.Params, opt model.FitOptions) (model.Fitted, error) {
	lr := linear.NewLogisticRegression(
		linear.WithC(p.Float("C", 1)),
		linear.WithMaxIter(p.Int("max_iter", 200)),
	)
	if err := lr.Fit(ctx, X, y, opt.NumClasses); err != nil {
		return nil, err
	}
	return logisticFitted{lr}, nil
}

type logisticFitted struct{ *linear.LogisticRegression }

func (f logisticFitted) FittedParams() map[string]any {
	return map[string]any{
		"coef":      f.Coef(),
		"intercept": f.Intercept(),
		"n_iter":    f.NIter(),
	}
}

func (logisticFitted) ImportanceMethod() string { return "coefficient" }

// Ridge is closed-form ridge regression.
type Ridge struct{}

func (Ridge) Name() string                  { return "ridge" }
func (Ridge) Supports(task model.Task) bool { return task == model.Regression }

func (Ridge) Space() model.Space {
	return model.Space{model.LogFloat("alpha", 1e-4, 1e3)}
}

func (Ridge) Fit(ctx context.Context, X mat.Matrix, y []float64, p model.Params, _ model.FitOptions) (model.Fitted, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	r := linear.NewRidge(linear.WithAlpha(p.Float("alpha", 1)))
	if err := r.Fit(X, y); err != nil {
		return nil, err
	}
	return ridgeFitted{r}, nil
}

type ridgeFitted struct{ *linear.Ridge }

func (f ridgeFitted) FittedParams() map[string]any {
	return map[string]any{"coef": f.Coef(), "intercept": f.Intercept()}
}

func (ridgeFitted) ImportanceMethod() string { return "coefficient" }

// DecisionTree is a single CART tree.
type DecisionTree struct{}

func (DecisionTree) Name() string             { return "decision_tree" }
func (DecisionTree) Supports(model.Task) bool { return true }

func (DecisionTree) Space() model.Space {
	return model.Space{
		model.Int("max_depth", 1, 12),
		model.Int("min_samples_leaf", 1, 20),
		model.Categorical("criterion", "gini", "entropy"),
	}
}

func (DecisionTree) Fit(ctx context.Context, X mat.Matrix, y []float64, p model.Params, opt model.FitOptions) (model.Fitted, error) {
	t, err := tree.Fit(ctx, X, y, treeConfig(p, opt))
	if err != nil {
		return nil, err
	}
	return treeFitted{t}, nil
}

func treeConfig(p model.Params, opt model.FitOptions) tree.Config {
	cfg := tree.Config{
		MaxDepth:       p.Int("max_depth", 0),
		MinSamplesLeaf: p.Int("min_samples_leaf", 1),
		Seed:           opt.Seed,
	}
	if opt.Task == model.Classification {
		cfg.NumClasses = opt.NumClasses
		cfg.Criterion = tree.Criterion(p.String("criterion", string(tree.Gini)))
	} else {
		cfg.Criterion = tree.Variance
	}
	return cfg
}

type treeFitted struct{ *tree.Tree }

func (f treeFitted) FittedParams() map[string]any {
	return map[string]any{"node_count": f.NodeCount(), "depth": f.Depth(), "leaves": f.Leaves()}
}

func (treeFitted) ImportanceMethod() string { return "impurity" }

// RandomForest is a bagged ensemble of CART trees.
type RandomForest struct{}

func (RandomForest) Name() string             { return "random_forest" }
func (RandomForest) Supports(model.Task) bool { return true }

func (RandomForest) Space() model.Space {
	return model.Space{
		model.Int("n_estimators", 10, 120),
		model.Int("max_depth", 2, 16),
		model.Int("min_samples_leaf", 1, 10),
		model.Categorical("max_features", "sqrt", "log2", "third", "all"),
	}
}

func (RandomForest) Fit(ctx context.Context, X mat.Matrix, y []float64, p model.Params, opt model.FitOptions) (model.Fitted, error) {
	_, cols := X.Dims()
	tcfg := treeConfig(p, opt)
	if opt.Task == model.Classification {
		tcfg.Criterion = tree.Gini
	}
	tcfg.MaxFeatures = tree.MaxFeatures(p.String("max_features", "sqrt"), cols)

	workers := opt.Workers
	if workers <= 0 {
		workers = 1
	}
	f, err := tree.FitForest(ctx, X, y, tree.ForestConfig{
		Tree:      tcfg,
		NumTrees:  p.Int("n_estimators", 50),
		Bootstrap: true,
		Workers:   workers,
	})
	if err != nil {
		return nil, err
	}
	return forestFitted{f}, nil
}

type forestFitted struct{ *tree.Forest }

func (f forestFitted) FittedParams() map[string]any {
	return map[string]any{"n_trees": f.NumTrees(), "mean_depth": f.MeanDepth()}
}

func (forestFitted) ImportanceMethod() string { return "impurity" }

// KNN is k-nearest-neighbours on standardised features.
type KNN struct{}

func (KNN) Name() string             { return "knn" }
func (KNN) Supports(model.Task) bool { return true }

func (KNN) Space() model.Space {
	return model.Space{
		model.Int("n_neighbors", 1, 30),
		model.Categorical("weights", "uniform", "distance"),
		model.Categorical("metric", "euclidean", "manhattan"),
	}
}

func (KNN) Fit(ctx context.Context, X mat.Matrix, y []float64, p model.Params, opt model.FitOptions) (model.Fitted, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	m := &neighbors.KNN{
		K:       p.Int("n_neighbors", 5),
		Weights: neighbors.Weighting(p.String("weights", string(neighbors.Uniform))),
		Metric:  neighbors.Metric(p.String("metric", string(neighbors.Euclidean))),
		Workers: 1,
	}
	if opt.Task == model.Classification {
		m.NumClasses = opt.NumClasses
	}
	if err := m.Fit(X, y); err != nil {
		return nil, err
	}
	return knnFitted{m}, nil
}

type knnFitted struct{ *neighbors.KNN }

func (f knnFitted) FittedParams() map[string]any {
	return map[string]any{"n_neighbors": f.K, "training_rows": f.TrainingRows()}
}
