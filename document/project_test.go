package document

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectionApply(t *testing.T) {
	doc := New(F("_id", 1), F("a", 1), F("b", 2), F("c", 3))

	tests := []struct {
		name string
		p    Projection
		want []string
	}{
		{"none", Projection{}, []string{"_id", "a", "b", "c"}},
		{"exclude", Projection{Exclude: []string{"b"}}, []string{"_id", "a", "c"}},
		{"include keeps id", Projection{Include: []string{"a"}}, []string{"_id", "a"}},
		{"exclude wins over include", Projection{Include: []string{"a"}, Exclude: []string{"b"}}, []string{"_id", "a", "c"}},
		{"exclude id", Projection{Exclude: []string{"_id"}}, []string{"a", "b", "c"}},
		{"unknown fields", Projection{Include: []string{"zzz"}}, []string{"_id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.p.Apply(doc).Keys())
		})
	}
}

func TestProjectionIncludeAndExcludeMatchesExcludeOnly(t *testing.T) {
	doc := New(F("a", 1), F("b", 2), F("c", 3))

	both := Projection{Include: []string{"a"}, Exclude: []string{"b"}}.Apply(doc)
	excludeOnly := Projection{Exclude: []string{"b"}}.Apply(doc)

	assert.True(t, both.Equal(excludeOnly))
	assert.True(t, both.Equal(New(F("a", 1), F("c", 3))))
}

func TestProjectionNil(t *testing.T) {
	assert.Nil(t, Projection{Exclude: []string{"a"}}.Apply(nil))
}
