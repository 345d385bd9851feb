package trial

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otter-ml/otter/core/model"
	"github.com/otter-ml/otter/pkg/errors"
)

func TestStateCompleted(t *testing.T) {
	assert.False(t, Pending.Completed())
	assert.False(t, Running.Completed())
	assert.True(t, Scored.Completed())
	assert.True(t, Failed.Completed())
	assert.True(t, Degraded.Completed())
}

func TestCloneIsDeep(t *testing.T) {
	orig := New(3, "knn", model.Params{"k": 5})
	orig.FoldScores = []float64{0.8, 0}
	orig.FoldErrors = []FoldError{{Fold: 1, Kind: errors.TrialFit, Message: "boom"}}
	orig.Cause = &Cause{Kind: errors.TrialFit, Message: "boom"}

	c := orig.Clone()
	c.Params["k"] = 9
	c.FoldScores[0] = 0.1
	c.FoldErrors[0].Message = "changed"
	c.Cause.Message = "changed"

	assert.Equal(t, 5, orig.Params["k"])
	assert.Equal(t, 0.8, orig.FoldScores[0])
	assert.Equal(t, "boom", orig.FoldErrors[0].Message)
	assert.Equal(t, "boom", orig.Cause.Message)
	assert.Equal(t, 1, orig.SucceededFolds())
}

func TestErrBuildsTrialError(t *testing.T) {
	tr := New(4, "ridge", nil)
	tr.State = Scored
	assert.NoError(t, tr.Err())

	tr.State = Degraded
	tr.FoldScores = []float64{0.5, 0}
	tr.FoldErrors = []FoldError{{Fold: 1, Kind: errors.TrialNumeric, Message: "non-finite predictions"}}
	tr.Cause = &Cause{Kind: errors.TrialNumeric, Message: "non-finite predictions"}

	err := tr.Err()
	require.Error(t, err)
	var te *errors.TrialError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 4, te.TrialID)
	assert.Equal(t, 1, te.Fold)
	assert.Equal(t, errors.TrialNumeric, te.Kind)
}
