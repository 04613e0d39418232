package engine

import (
	"testing"
	"time"

	iface "PostkasseVision/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mb(id, klasse string) Mailbox {
	return Mailbox{ID: id, KapasitetKlasse: klasse}
}

func TestAggregate_LargestClassWins(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	stills := [][]Mailbox{
		{mb("PK-1", iface.KapasitetLiten), mb("PK-2", iface.KapasitetStandard), mb("PK-10", iface.KapasitetStor)},
		{mb("PK-1", iface.KapasitetStandard), mb("PK-2", iface.KapasitetStandard)},
		{mb("PK-1", iface.KapasitetLiten), mb("PK-3", iface.KapasitetLiten)},
	}

	got := Aggregate("OPP-1", stills, now)
	require.Len(t, got, 4)

	assert.Equal(t, []string{"PK-1", "PK-2", "PK-3", "PK-10"},
		[]string{got[0].ID, got[1].ID, got[2].ID, got[3].ID})

	assert.Equal(t, iface.KapasitetStandard, got[0].KapasitetKlasse)
	assert.Equal(t, 3, got[0].Observations)
	assert.True(t, got[0].Conservative)

	assert.Equal(t, iface.KapasitetStandard, got[1].KapasitetKlasse)
	assert.Equal(t, 2, got[1].Observations)
	assert.False(t, got[1].Conservative)

	assert.Equal(t, 1, got[3].Observations)
	for _, m := range got {
		assert.Equal(t, "OPP-1", m.StairwellID)
		assert.Equal(t, now, m.AnalyzedAt)
	}
}

func TestAggregate_Empty(t *testing.T) {
	assert.Empty(t, Aggregate("OPP-2", nil, time.Now()))
	assert.Empty(t, Aggregate("OPP-2", [][]Mailbox{{}, {}}, time.Now()))
}

func TestIDNumber(t *testing.T) {
	assert.Equal(t, 12, idNumber("PK-12"))
	assert.Equal(t, 0, idNumber("PK"))
	assert.Equal(t, 0, idNumber("PK-x"))
}
