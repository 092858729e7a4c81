package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAmountToMinor(t *testing.T) {
	tests := []struct {
		name  string
		total float64
		want  int64
	}{
		{name: "whole dollars", total: 50.00, want: 5000},
		{name: "two decimal places", total: 49.99, want: 4999},
		{name: "single cent", total: 0.01, want: 1},
		{name: "float drift rounds correctly", total: 0.1 + 0.2, want: 30},
		{name: "zero", total: 0, want: 0},
		{name: "large amount", total: 12345.67, want: 1234567},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AmountToMinor(tt.total))
		})
	}
}

func TestComputeTotal(t *testing.T) {
	items := []LineItem{
		{ID: "a", Name: "Rice 5kg", UnitPrice: 12.50, Quantity: 2},
		{ID: "b", Name: "Cooking oil", UnitPrice: 8.00, Quantity: 3},
	}
	assert.InDelta(t, 49.00, ComputeTotal(items), 1e-9)
	assert.Zero(t, ComputeTotal(nil))
}
