package validation

import (
	"strings"
	"testing"

	"standings/internal/models"

	"github.com/stretchr/testify/assert"
)

type sampleBody struct {
	EntityID   int64   `json:"entity_id" validate:"gt=0"`
	EntityType string  `json:"entity_type" validate:"required,entitytype"`
	Standing   float64 `json:"standing" validate:"gte=-10,lte=10"`
	Reason     string  `json:"reason" validate:"revocationreason"`
	Note       string  `json:"note" validate:"max=1000"`
}

func TestStruct(t *testing.T) {
	t.Parallel()

	valid := sampleBody{EntityID: 123, EntityType: "Corporation", Standing: 5}
	tests := []struct {
		name    string
		mutate  func(b *sampleBody)
		wantMsg string
	}{
		{"valid", func(*sampleBody) {}, ""},
		{"zero id", func(b *sampleBody) { b.EntityID = 0 }, "entity_id must be greater than 0"},
		{"missing type", func(b *sampleBody) { b.EntityType = "" }, "entity_type is required"},
		{"unknown type", func(b *sampleBody) { b.EntityType = "faction" }, `unknown entity type "faction"`},
		{"standing too high", func(b *sampleBody) { b.Standing = 10.5 }, "standing must be at most 10"},
		{"standing too low", func(b *sampleBody) { b.Standing = -11 }, "standing must be at least -10"},
		{"known reason", func(b *sampleBody) { b.Reason = "missing_token" }, ""},
		{"unknown reason", func(b *sampleBody) { b.Reason = "bored" }, `unknown revocation reason "bored"`},
		{"long note", func(b *sampleBody) { b.Note = strings.Repeat("x", 1001) }, "note must be at most 1000 long"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := valid
			tt.mutate(&b)
			err := Struct(b)
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			assert.True(t, models.HasCode(err, models.CodeValidation))
			assert.EqualError(t, err, tt.wantMsg)
		})
	}
}

func TestIDs(t *testing.T) {
	t.Parallel()

	assert.NoError(t, IDs([]uint{1, 2, 3}))
	assert.Error(t, IDs(nil))
	assert.Error(t, IDs([]uint{1, 0}))

	many := make([]uint, MaxBulkIDs+1)
	for i := range many {
		many[i] = uint(i + 1)
	}
	assert.Error(t, IDs(many))
}
