package num_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gridmesh/gridclear/types/num"
)

func TestUintClone(t *testing.T) {
	first := num.NewUint(42)
	second := first.Clone()
	second.AddSum(num.NewUint(1))

	assert.Equal(t, "42", first.String())
	assert.Equal(t, "43", second.String())
}

func TestUintDelta(t *testing.T) {
	d, neg := num.Delta(num.NewUint(10), num.NewUint(4))
	assert.False(t, neg)
	assert.Equal(t, "6", d.String())

	d, neg = num.Delta(num.NewUint(4), num.NewUint(10))
	assert.True(t, neg)
	assert.Equal(t, "6", d.String())
}

func TestUintFromDecimalTruncates(t *testing.T) {
	u, overflow := num.UintFromDecimal(num.MustDecimalFromString("12.9"))
	assert.False(t, overflow)
	assert.Equal(t, "12", u.String())

	_, overflow = num.UintFromDecimal(num.MustDecimalFromString("-1"))
	assert.True(t, overflow)
}

func TestUintComparisons(t *testing.T) {
	a, b := num.NewUint(3), num.NewUint(5)
	assert.True(t, a.LT(b))
	assert.True(t, a.LTE(b))
	assert.True(t, b.GT(a))
	assert.True(t, b.GTE(b.Clone()))
	assert.True(t, a.NEQ(b))
	assert.True(t, num.Min(a, b).EQ(a))
	assert.True(t, num.Max(a, b).EQ(b))
}
