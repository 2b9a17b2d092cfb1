package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasourceIDDeterminism(t *testing.T) {
	structure := Object{
		"children": Strings("orders", "customers"),
		"grain":    Strings("local.customer_id"),
	}

	id1, err := DatasourceID(structure)
	require.NoError(t, err)
	id2, err := DatasourceID(structure)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.True(t, strings.HasPrefix(id1, "q_"))
	assert.Len(t, id1, 2+idLength)
}

func TestDatasourceIDChangesWithStructure(t *testing.T) {
	base := MustDatasourceID(Object{"children": Strings("orders")})
	grouped := MustDatasourceID(Object{"children": Strings("orders"), "group": Bool(true)})
	other := MustDatasourceID(Object{"children": Strings("customers")})

	assert.NotEqual(t, base, grouped)
	assert.NotEqual(t, base, other)
}

func TestDatasourceIDKeyOrderIndependent(t *testing.T) {
	a := Object{"a": Int(1), "b": Int(2)}
	b := Object{"b": Int(2), "a": Int(1)}
	assert.Equal(t, MustDatasourceID(a), MustDatasourceID(b))
}

func TestDatasourceIDDomainSeparation(t *testing.T) {
	structure := Object{"children": Strings("orders")}
	id := MustDatasourceID(structure)

	fp, err := PlanFingerprint(structure)
	require.NoError(t, err)
	assert.NotEqual(t, strings.TrimPrefix(id, "q_"), fp[:idLength])
}

func TestMustDatasourceIDPanicsOnNull(t *testing.T) {
	assert.Panics(t, func() {
		MustDatasourceID(Object{"bad": Null{}})
	})
}

func TestCTENameStable(t *testing.T) {
	a := CTEName("q_0123456789abcdef")
	b := CTEName("q_0123456789abcdef")
	c := CTEName("q_fedcba9876543210")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "cte_"))
	for _, r := range a {
		assert.True(t, r == '_' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'), "unexpected rune %q", r)
	}
}
