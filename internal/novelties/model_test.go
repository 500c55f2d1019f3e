package novelties

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestAggregatePartitionsBySign(t *testing.T) {
	items := []Novelty{
		{Type: TypeBonus, Value: dec(100_000), Constitutive: true},
		{Type: TypeCommission, Value: dec(40_000), Constitutive: false},
		{Type: TypeAbsence, Value: dec(50_000), Constitutive: true},
		{Type: TypeLoanDeduction, Value: dec(30_000)},
	}

	all := Aggregate(items, VariantAll)
	assert.True(t, dec(140_000).Equal(all.TotalEarnings))
	assert.True(t, dec(80_000).Equal(all.TotalDeductions))
	assert.True(t, dec(60_000).Equal(all.TotalNet))
	assert.True(t, all.HasNovelties)
	assert.Equal(t, 4, all.Count)

	constitutive := Aggregate(items, VariantConstitutive)
	assert.True(t, dec(100_000).Equal(constitutive.TotalEarnings))
	assert.True(t, dec(50_000).Equal(constitutive.TotalDeductions))

	nonConstitutive := Aggregate(items, VariantNonConstitutive)
	assert.True(t, dec(40_000).Equal(nonConstitutive.TotalEarnings))
	assert.True(t, dec(30_000).Equal(nonConstitutive.TotalDeductions))
}

func TestAggregateEmpty(t *testing.T) {
	totals := Aggregate(nil, VariantAll)
	assert.False(t, totals.HasNovelties)
	assert.True(t, totals.TotalNet.IsZero())
}

func TestTypeRules(t *testing.T) {
	assert.True(t, TypeAbsence.IsDeduction())
	assert.True(t, TypeAbsence.DefaultConstitutive())
	assert.False(t, TypeBonus.IsDeduction())
	assert.False(t, TypeLoanDeduction.DefaultConstitutive())
	assert.False(t, Type("tips").IsValid())

	kind, ok := TypeOvertimeNight.SurchargeKind()
	assert.True(t, ok)
	assert.True(t, kind.IsOvertime())
	_, ok = TypeBonus.SurchargeKind()
	assert.False(t, ok)

	assert.True(t, dec(-5).Equal(Novelty{Type: TypeAbsence, Value: dec(5)}.SignedValue()))
}

func TestParseVariant(t *testing.T) {
	v, ok := ParseVariant("")
	assert.True(t, ok)
	assert.Equal(t, VariantAll, v)
	v, ok = ParseVariant("non_constitutive")
	assert.True(t, ok)
	assert.Equal(t, VariantNonConstitutive, v)
	_, ok = ParseVariant("weird")
	assert.False(t, ok)
}
