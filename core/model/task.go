// Package model defines the capability contract every candidate model family
// satisfies and the hyperparameter search-space types they declare.
package model

import "github.com/otter-ml/otter/pkg/errors"

// Task is the learning problem a target column implies.
type Task string

const (
	// Auto lets the feature engineer infer the task from the target column.
	Auto Task = "auto"
	// Classification predicts one of a finite set of class labels.
	Classification Task = "classification"
	// Regression predicts a real value.
	Regression Task = "regression"
)

// ParseTask validates a task name. The empty string means Auto.
func ParseTask(s string) (Task, error) {
	switch Task(s) {
	case "", Auto:
		return Auto, nil
	case Classification, Regression:
		return Task(s), nil
	default:
		return "", errors.NewConfigError("task", "must be auto, classification or regression", s)
	}
}
