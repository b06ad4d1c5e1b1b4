package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sneldb/sneldb/internal/event"
)

func TestExpandIn(t *testing.T) {
	n := InLeaf("status", event.FromString("a"), event.FromString("b"))
	got := Compile(n)
	assert.Equal(t, KindOr, got.Kind)
	assert.Len(t, got.Children, 2)
}

func TestDeMorganOverAnd(t *testing.T) {
	n := Not(And(Leaf("a", Eq, event.FromInt(1)), Leaf("b", Eq, event.FromInt(2))))
	got := Compile(n)
	assert.Equal(t, KindOr, got.Kind)
	assert.Equal(t, KindNot, got.Children[0].Kind)
	assert.Equal(t, KindNot, got.Children[1].Kind)
}

func TestDoubleNegationElimination(t *testing.T) {
	n := Not(Not(Leaf("a", Eq, event.FromInt(1))))
	got := Compile(n)
	assert.Equal(t, KindLeaf, got.Kind)
}

func TestFlattenNestedAnd(t *testing.T) {
	n := And(And(Leaf("a", Eq, event.FromInt(1)), Leaf("b", Eq, event.FromInt(2))), Leaf("c", Eq, event.FromInt(3)))
	got := Compile(n)
	assert.Equal(t, KindAnd, got.Kind)
	assert.Len(t, got.Children, 3)
}

func TestMatchesRow(t *testing.T) {
	row := MapRow{"amount": event.FromFloat(20.0)}
	assert.True(t, Matches(Leaf("amount", Gt, event.FromFloat(15.0)), row))
	assert.False(t, Matches(Leaf("amount", Lt, event.FromFloat(15.0)), row))
}
