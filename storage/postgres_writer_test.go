package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"land-collector/models"
)

func TestBuildInsert(t *testing.T) {
	query, args := buildInsert("property_facilities", []string{"listing_id", "facility", "present"}, [][]any{
		{"1", "cctv", true},
		{"1", "parking", false},
	})

	assert.Equal(t,
		"INSERT INTO property_facilities (listing_id,facility,present) VALUES ($1,$2,$3),($4,$5,$6)",
		query)
	assert.Equal(t, []any{"1", "cctv", true, "1", "parking", false}, args)
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(models.UnresolvedField[int64]()))
	assert.Nil(t, nullable(models.Field[string]{}))
	assert.Equal(t, int64(7), nullable(models.Fallback(int64(7), "rule")))
	assert.Equal(t, "서울", nullable(models.Structured("서울", "detail.address")))
}
