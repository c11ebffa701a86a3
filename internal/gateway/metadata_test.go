package gateway

import (
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepay/payments-reconciler/internal/domain"
)

func testDraft(items int) domain.OrderDraft {
	d := domain.OrderDraft{
		OrderID:      uuid.New(),
		RestaurantID: uuid.New(),
		Currency:     "GBP",
	}
	for i := 0; i < items; i++ {
		d.LineItems = append(d.LineItems, domain.LineItem{Name: "Crème brûlée " + strconv.Itoa(i), Quantity: 1, UnitMinorUnits: 650})
		d.TotalMinorUnits += 650
	}
	return d
}

func TestEncodeDecodeDraft(t *testing.T) {
	tests := []struct {
		name  string
		items int
	}{
		{"single chunk", 1},
		{"many chunks", 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDraft(tt.items)

			md, err := EncodeDraft(d)
			require.NoError(t, err)
			assert.Equal(t, d.OrderID.String(), md[metaOrderID])
			for k, v := range md {
				assert.LessOrEqual(t, len(v), metadataValueLimit, k)
				assert.True(t, utf8.ValidString(v), k)
			}

			got, err := DecodeDraft(md)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, d, *got)
		})
	}
}

func TestEncodeDraft_TooLarge(t *testing.T) {
	d := testDraft(1)
	d.LineItems[0].Name = strings.Repeat("x", metadataValueLimit*metadataMaxParts)

	_, err := EncodeDraft(d)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDecodeDraft(t *testing.T) {
	t.Run("no draft", func(t *testing.T) {
		got, err := DecodeDraft(map[string]string{"other": "x"})
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("missing part", func(t *testing.T) {
		_, err := DecodeDraft(map[string]string{metaDraftParts: "2", "draft_0": "{"})
		assert.Error(t, err)
	})

	t.Run("bad count", func(t *testing.T) {
		_, err := DecodeDraft(map[string]string{metaDraftParts: "abc"})
		assert.Error(t, err)
	})
}
