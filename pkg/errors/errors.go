// Package errors はotter全体のエラー分類と警告システムを提供します。
// 学習パイプラインの失敗を DataError / ConfigError / TrialError / RunAbortedError
// の4分類で表現し、cockroachdb/errors によるスタックトレースを付与します。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("otter-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
// zerologが設定されている場合は構造化ログとして出力し、そうでなければ従来のハンドラを使用します。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ConvergenceWarning は反復アルゴリズムが最大反復回数までに収束しなかった場合の警告です。
type ConvergenceWarning struct {
	Algorithm  string
	Iterations int
	Message    string
}

func (w *ConvergenceWarning) Error() string {
	if w.Message != "" {
		return fmt.Sprintf("%s failed to converge after %d iterations: %s", w.Algorithm, w.Iterations, w.Message)
	}
	return fmt.Sprintf("%s failed to converge after %d iterations", w.Algorithm, w.Iterations)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *ConvergenceWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("algorithm", w.Algorithm).
		Int("iterations", w.Iterations).
		Str("message", w.Message).
		Str("type", "ConvergenceWarning")
}

// NewConvergenceWarning は新しいConvergenceWarningを作成します。
func NewConvergenceWarning(algorithm string, iterations int, message string) *ConvergenceWarning {
	return &ConvergenceWarning{Algorithm: algorithm, Iterations: iterations, Message: message}
}

// ===========================================================================
//
//	パイプラインのエラー分類
//
// ===========================================================================

// DataError はデータセットが学習に使えない場合のエラーです。
// 試行が1つも実行される前に実行を失敗させます。
type DataError struct {
	Column string
	Reason string
}

func (e *DataError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("otter: data error: column %q: %s", e.Column, e.Reason)
	}
	return fmt.Sprintf("otter: data error: %s", e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DataError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("column", e.Column).
		Str("reason", e.Reason).
		Str("type", "DataError")
}

// NewDataError は新しいDataErrorを作成し、スタックトレースを付与します。
func NewDataError(column, reason string) error {
	return errors.WithStack(&DataError{Column: column, Reason: reason})
}

// ConfigError は実行パラメータや探索空間が不正な場合のエラーです。初期化時に即座に失敗します。
type ConfigError struct {
	Field  string
	Reason string
	Value  interface{}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("otter: config error: %s: %s (got: %v)", e.Field, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ConfigError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("field", e.Field).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ConfigError")
}

// NewConfigError は新しいConfigErrorを作成し、スタックトレースを付与します。
func NewConfigError(field, reason string, value interface{}) error {
	return errors.WithStack(&ConfigError{Field: field, Reason: reason, Value: value})
}

// TrialErrorKind は試行失敗の原因の分類です。
type TrialErrorKind string

const (
	TrialFit       TrialErrorKind = "fit"
	TrialNumeric   TrialErrorKind = "numeric"
	TrialTimeout   TrialErrorKind = "timeout"
	TrialPanic     TrialErrorKind = "panic"
	TrialPruned    TrialErrorKind = "pruned"
	TrialCancelled TrialErrorKind = "cancelled"
)

// TrialError は1つの試行（またはその中の1fold）の失敗です。
// 試行単位で回復され、実行は継続します。
type TrialError struct {
	TrialID int
	Fold    int // -1 の場合は試行全体
	Kind    TrialErrorKind
	Err     error
}

func (e *TrialError) Error() string {
	where := fmt.Sprintf("trial %d", e.TrialID)
	if e.Fold >= 0 {
		where = fmt.Sprintf("trial %d fold %d", e.TrialID, e.Fold)
	}
	if e.Err != nil {
		return fmt.Sprintf("otter: %s: %s: %v", where, e.Kind, e.Err)
	}
	return fmt.Sprintf("otter: %s: %s", where, e.Kind)
}

func (e *TrialError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *TrialError) MarshalZerologObject(event *zerolog.Event) {
	event.Int("trial_id", e.TrialID).
		Int("fold", e.Fold).
		Str("kind", string(e.Kind)).
		Str("type", "TrialError")
	if e.Err != nil {
		event.Str("cause", e.Err.Error())
	}
}

// NewTrialError は新しいTrialErrorを作成し、スタックトレースを付与します。
func NewTrialError(trialID, fold int, kind TrialErrorKind, err error) error {
	return errors.WithStack(&TrialError{TrialID: trialID, Fold: fold, Kind: kind, Err: err})
}

// AbortReason は実行が中断された理由です。
type AbortReason string

const (
	AbortNoValidModel AbortReason = "no_valid_model"
	AbortCancelled    AbortReason = "cancelled"
	AbortFatal        AbortReason = "fatal"
)

// RunAbortedError は実行全体が致命的に終了した場合のエラーです。
// 予算を使い切っても有効な試行が1つもない場合と、ユーザーによるキャンセルを区別します。
type RunAbortedError struct {
	Reason AbortReason
	Trials int
	Err    error
}

func (e *RunAbortedError) Error() string {
	var msg string
	switch e.Reason {
	case AbortNoValidModel:
		msg = fmt.Sprintf("no valid model found after %d trials", e.Trials)
	case AbortCancelled:
		msg = fmt.Sprintf("cancelled by user after %d trials", e.Trials)
	default:
		msg = "run failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("otter: run aborted: %s: %v", msg, e.Err)
	}
	return fmt.Sprintf("otter: run aborted: %s", msg)
}

func (e *RunAbortedError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *RunAbortedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("reason", string(e.Reason)).
		Int("trials", e.Trials).
		Str("type", "RunAbortedError")
}

// NewRunAbortedError は新しいRunAbortedErrorを作成し、スタックトレースを付与します。
func NewRunAbortedError(reason AbortReason, trials int, err error) error {
	return errors.WithStack(&RunAbortedError{Reason: reason, Trials: trials, Err: err})
}

// IsDataError はエラーチェーンにDataErrorが含まれるかを判定します。
func IsDataError(err error) bool {
	var target *DataError
	return errors.As(err, &target)
}

// IsConfigError はエラーチェーンにConfigErrorが含まれるかを判定します。
func IsConfigError(err error) bool {
	var target *ConfigError
	return errors.As(err, &target)
}

// IsTrialError はエラーチェーンにTrialErrorが含まれるかを判定します。
func IsTrialError(err error) bool {
	var target *TrialError
	return errors.As(err, &target)
}

// IsRunAborted はエラーチェーンにRunAbortedErrorが含まれるかを判定し、その理由を返します。
func IsRunAborted(err error) (AbortReason, bool) {
	var target *RunAbortedError
	if errors.As(err, &target) {
		return target.Reason, true
	}
	return "", false
}

// ===========================================================================
//
//	モデル関連の構造化エラー型
//
// ===========================================================================

// NotFittedError はモデルが未学習の状態で `Predict` を呼び出した場合のエラーです。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("otter: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	return errors.WithStack(&NotFittedError{ModelName: modelName, Method: method})
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	axisName := "features"
	if e.Axis == 0 {
		axisName = "rows"
	}
	return fmt.Sprintf("otter: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, axisName, e.Expected, e.Got)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

// ValidationError は入力パラメータの検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("otter: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// NumericalInstabilityError は数値計算が不安定になった場合のエラーです。
// NaN、Inf などを検出します。
type NumericalInstabilityError struct {
	Operation string
	Values    []float64
	Iteration int
}

func (e *NumericalInstabilityError) Error() string {
	valStr := ""
	for i, v := range e.Values {
		if i > 0 {
			valStr += ", "
		}
		if i >= 5 {
			valStr += "..."
			break
		}
		valStr += fmt.Sprintf("%.6g", v)
	}
	return fmt.Sprintf("otter: numerical instability detected in %s at iteration %d. Values: [%s]",
		e.Operation, e.Iteration, valStr)
}

// NewNumericalInstabilityError は新しいNumericalInstabilityErrorを作成します。
func NewNumericalInstabilityError(operation string, values []float64, iteration int) error {
	return errors.WithStack(&NumericalInstabilityError{
		Operation: operation,
		Values:    values,
		Iteration: iteration,
	})
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// Stacktrace はcockroachdb/errorsが記録したスタックトレースを返します。記録がなければ空文字列です。
func Stacktrace(err error) string {
	details := errors.GetSafeDetails(err).SafeDetails
	if len(details) > 0 {
		return details[0]
	}
	return ""
}

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrSingularMatrix は特異行列の場合のエラーです。
	ErrSingularMatrix = New("singular matrix")
)
