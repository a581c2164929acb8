package bakery_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/bakery-ops/bakery"
)

func TestGenerateBatchCode_Example(t *testing.T) {
	// GIVEN: Dosage 25, oil type OG, acronym CHC, oil code DC0123, 2024-03-05
	// WHEN: Generating the batch code
	// THEN: 25OGCHC-DC0123-03-05-24

	code := bakery.GenerateBatchCode(bakery.BatchCodePrefix{
		Dosage:  decimal.NewFromInt(25),
		OilType: "OG",
		Acronym: "CHC",
	}, "DC0123", time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, "25OGCHC-DC0123-03-05-24", code)
}

func TestGenerateBatchCode_IsDeterministic(t *testing.T) {
	prefix := bakery.BatchCodePrefix{Dosage: decimal.NewFromInt(10), OilType: "HY", Acronym: "OAT"}
	date := time.Date(2031, time.December, 31, 23, 0, 0, 0, time.UTC)

	assert.Equal(t,
		bakery.GenerateBatchCode(prefix, "dc-77a", date),
		bakery.GenerateBatchCode(prefix, "dc-77a", date))
	assert.Equal(t, "10HYOAT-DC77-12-31-31", bakery.GenerateBatchCode(prefix, "dc-77a", date))
}

func TestGenerateBatchCode_NoDosage(t *testing.T) {
	code := bakery.GenerateBatchCode(bakery.BatchCodePrefix{OilType: "OG", Acronym: "CHC"},
		"DC0001", time.Date(2024, time.January, 9, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, "OGCHC-DC0001-01-09-24", code)
}

func TestOilBatchNumeric(t *testing.T) {
	tests := []struct {
		code string
		want string
	}{
		{"DC0123", "0123"},
		{"dc0123", "0123"},
		{"DC-01/23", "0123"},
		{"LOT9DC8", "98"},
		{"DC", "0000"},
		{"", "0000"},
		{"no digits", "0000"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, bakery.OilBatchNumeric(tt.code))
		})
	}
}

func TestGenerateBatchCode_DecimalDosage(t *testing.T) {
	code := bakery.GenerateBatchCode(bakery.BatchCodePrefix{
		Dosage: decimal.RequireFromString("2.5"), OilType: "OG", Acronym: "CHC",
	}, "DC0123", time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, "2.5OGCHC-DC0123-03-05-24", code)
}
