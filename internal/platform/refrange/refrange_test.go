package refrange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestParse(t *testing.T) {
	r := Parse("3.5~9.5")
	require.True(t, r.Complete())
	assert.Equal(t, 3.5, *r.Lower)
	assert.Equal(t, 9.5, *r.Upper)

	r = Parse("<5.0")
	assert.Nil(t, r.Lower)
	require.NotNil(t, r.Upper)
	assert.Equal(t, 5.0, *r.Upper)

	r = Parse("阴性")
	assert.True(t, r.Empty())

	r = Parse("")
	assert.True(t, r.Empty())

	r = Parse("125-350 (成人)")
	require.True(t, r.Complete())
	assert.Equal(t, 125.0, *r.Lower)
	assert.Equal(t, -350.0, *r.Upper)
}

func TestResolve_SignFixedAndSwapped(t *testing.T) {
	r := Resolve("12-4")
	require.True(t, r.Complete())
	assert.Equal(t, 4.0, *r.Lower)
	assert.Equal(t, 12.0, *r.Upper)

	r = Range{Lower: f(12), Upper: f(-4)}.Repair()
	assert.Equal(t, 4.0, *r.Lower)
	assert.Equal(t, 12.0, *r.Upper)
}

func TestRepair_DoesNotMutateInput(t *testing.T) {
	in := Range{Lower: f(9), Upper: f(-3)}
	_ = in.Repair()
	assert.Equal(t, 9.0, *in.Lower)
	assert.Equal(t, -3.0, *in.Upper)
}

func TestRepair_SingleSided(t *testing.T) {
	r := Range{Upper: f(-10)}.Repair()
	assert.Nil(t, r.Lower)
	assert.Equal(t, 10.0, *r.Upper)

	r = Range{Lower: f(-1)}.Repair()
	assert.Equal(t, -1.0, *r.Lower)
	assert.Nil(t, r.Upper)
}

func TestConsolidate(t *testing.T) {
	complete := Range{Lower: f(1), Upper: f(2)}
	other := Range{Lower: f(3), Upper: f(4)}
	upperOnly := Range{Upper: f(5)}

	assert.Equal(t, complete, Consolidate(complete, other))
	assert.Equal(t, complete, Consolidate(complete, upperOnly))
	assert.Equal(t, complete, Consolidate(upperOnly, complete))
	assert.Equal(t, upperOnly, Consolidate(Range{}, upperOnly))
	assert.Equal(t, upperOnly, Consolidate(upperOnly, Range{Upper: f(9)}))
	assert.True(t, Consolidate(Range{}, Range{}).Empty())
}

func TestClassify(t *testing.T) {
	r := Range{Lower: f(3.5), Upper: f(9.5)}
	pos, ok := r.Classify(10.1)
	assert.True(t, ok)
	assert.Equal(t, 1, pos)
	pos, _ = r.Classify(2)
	assert.Equal(t, -1, pos)
	pos, _ = r.Classify(9.5)
	assert.Equal(t, 0, pos)

	_, ok = Range{}.Classify(1)
	assert.False(t, ok)

	pos, ok = Range{Upper: f(5)}.Classify(-100)
	assert.True(t, ok)
	assert.Equal(t, 0, pos)
}

func TestNumbers(t *testing.T) {
	assert.Equal(t, []float64{-1.5, 0.25, 3}, Numbers("-1.5 ~ .25 / 3"))
	assert.Empty(t, Numbers("none"))
}
