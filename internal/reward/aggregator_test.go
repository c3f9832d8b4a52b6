package reward

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregate_PinsRosterOrder(t *testing.T) {
	roster := []int{5, 6, 7}
	briefIDs := []string{"a", "b"}
	results := map[string]map[int]float64{
		"a": {6: 10},
		"b": {7: 2.5, 99: 5},
	}

	m := Aggregate(roster, briefIDs, results)
	require.NoError(t, m.Validate())

	assert.Equal(t, roster, m.Roster)
	assert.Equal(t, briefIDs, m.BriefIDs)
	assert.Equal(t, 10.0, m.Values[1][0])
	assert.Equal(t, 2.5, m.Values[2][1])
	assert.Equal(t, 12.5, m.Total(), "identity 99 outside the roster is dropped")
}

func TestAggregate_AbsentBriefsStayZero(t *testing.T) {
	m := Aggregate([]int{0, 1}, []string{"a", "b"}, map[string]map[int]float64{
		"a": {1: 3},
	})

	assert.Equal(t, 3.0, m.ColumnSum(0))
	assert.Zero(t, m.ColumnSum(1))
}

func TestAggregate_EmptyInputs(t *testing.T) {
	m := Aggregate(nil, nil, nil)
	require.NoError(t, m.Validate())
	assert.Zero(t, m.Total())
}
