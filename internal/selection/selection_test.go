package selection

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jetsetgo/group-checkout/internal/catalog"
	"github.com/jetsetgo/group-checkout/internal/textfmt"
)

func threeItems() *catalog.Catalog {
	return catalog.New(25000, []catalog.Item{
		{ID: "g1", Name: "One"},
		{ID: "g2", Name: "Two"},
		{ID: "g3", Name: "Three"},
	})
}

func TestToggleTotals(t *testing.T) {
	s := New(threeItems())

	on, err := s.Toggle("g1")
	require.NoError(t, err)
	assert.True(t, on)
	_, err = s.Toggle("g3")
	require.NoError(t, err)

	assert.Equal(t, 2, s.Count())
	assert.Equal(t, int64(50000), s.Total())
	assert.Equal(t, "Rp 50.000", textfmt.FormatRupiah(s.Total()))
	assert.Equal(t, []string{"g1", "g3"}, s.IDs())

	on, err = s.Toggle("g1")
	require.NoError(t, err)
	assert.False(t, on)
	assert.Equal(t, "Rp 25.000", textfmt.FormatRupiah(s.Total()))
}

func TestUnknownIDRejected(t *testing.T) {
	s := New(threeItems())
	_, err := s.Toggle("ghost")
	assert.ErrorIs(t, err, ErrUnknownItem)
	assert.ErrorIs(t, s.Set("ghost", true), ErrUnknownItem)
	assert.Zero(t, s.Count())
}

func TestToggleAll(t *testing.T) {
	s := New(threeItems())
	assert.Equal(t, None, s.AllState())

	assert.Equal(t, All, s.ToggleAll())
	assert.Equal(t, 3, s.Count())

	assert.Equal(t, None, s.ToggleAll())
	assert.Equal(t, 0, s.Count())
}

func TestToggleAllFromMixedSelectsAll(t *testing.T) {
	s := New(threeItems())
	require.NoError(t, s.Set("g2", true))
	assert.Equal(t, Some, s.AllState())

	assert.Equal(t, All, s.ToggleAll())
	assert.Equal(t, []string{"g1", "g2", "g3"}, s.IDs())
}

func TestTotalInvariantUnderRandomOps(t *testing.T) {
	c := threeItems()
	s := New(c)
	r := rand.New(rand.NewSource(7))
	ids := []string{"g1", "g2", "g3"}

	for i := 0; i < 500; i++ {
		switch r.Intn(3) {
		case 0:
			_, err := s.Toggle(ids[r.Intn(len(ids))])
			require.NoError(t, err)
		case 1:
			require.NoError(t, s.Set(ids[r.Intn(len(ids))], r.Intn(2) == 0))
		case 2:
			s.ToggleAll()
		}
		assert.Equal(t, int64(s.Count())*c.UnitPrice, s.Total())
		assert.Len(t, s.IDs(), s.Count())
		for _, id := range s.IDs() {
			assert.True(t, c.Has(id))
		}
	}
}

func TestCanCheckout(t *testing.T) {
	s := New(threeItems())
	assert.False(t, s.CanCheckout(true))

	require.NoError(t, s.Set("g1", true))
	assert.True(t, s.CanCheckout(true))
	assert.False(t, s.CanCheckout(false))

	s.Clear()
	assert.False(t, s.CanCheckout(true))
}

func TestEmptyCatalog(t *testing.T) {
	s := New(catalog.New(25000, nil))
	assert.Equal(t, None, s.AllState())
	assert.Equal(t, None, s.ToggleAll())
	assert.Equal(t, None.String(), "none")
}
