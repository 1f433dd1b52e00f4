package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListFilter_Valid(t *testing.T) {
	tests := []struct {
		filter ListFilter
		want   bool
	}{
		{FilterOpen, true},
		{FilterBid, true},
		{FilterArchive, true},
		{"open", false},
		{"SOLD", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.filter.Valid(), "%q", tt.filter)
	}
}
