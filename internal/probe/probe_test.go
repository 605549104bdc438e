package probe

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	ok := Ok(42)
	v, isOk := ok.Value()
	assert.True(t, isOk)
	assert.False(t, ok.IsSkip())
	assert.Equal(t, 42, v)
	assert.NoError(t, ok.Reason())

	denied := errors.New("permission denied")
	skip := Skip[int](denied)
	_, isOk = skip.Value()
	assert.False(t, isOk)
	assert.True(t, skip.IsSkip())
	assert.ErrorIs(t, skip.Reason(), denied)

	assert.ErrorIs(t, Skip[string](nil).Reason(), ErrSkipped)
}

func TestPartition(t *testing.T) {
	gone := errors.New("gone")
	oks, skipped := Partition([]Result[string]{Ok("a"), Skip[string](gone), Ok("b")})
	assert.Equal(t, []string{"a", "b"}, oks)
	assert.Equal(t, []error{gone}, skipped)

	oks, skipped = Partition[string](nil)
	assert.Empty(t, oks)
	assert.Empty(t, skipped)
}
