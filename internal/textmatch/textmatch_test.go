package textmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContains(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		fields []string
		want   bool
	}{
		{name: "Empty", query: "  ", fields: []string{"anything"}, want: true},
		{name: "Title", query: "lamp", fields: []string{"Brass LAMP", ""}, want: true},
		{name: "Description", query: "oak", fields: []string{"Shelf", "Solid Oak"}, want: true},
		{name: "Accented", query: "ÉTÉ", fields: []string{"Un été"}, want: true},
		{name: "Greek", query: "ΣΟΦΙΑ", fields: []string{"σοφια"}, want: true},
		{name: "Miss", query: "chair", fields: []string{"Table", "Wood"}, want: false},
		{name: "NoFields", query: "x", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Contains(tt.query, tt.fields...))
		})
	}
}

func TestFold(t *testing.T) {
	assert.Equal(t, Fold("Hello"), Fold("hELLO"))
	assert.Equal(t, "darn", Fold("DaRn"))
}
