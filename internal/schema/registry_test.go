package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/event"
)

func TestDefineAndLookup(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)
	defer r.Close()

	fields := []FieldDef{
		{Name: "id", Type: event.KindInt},
		{Name: "amount", Type: event.KindFloat},
		{Name: "status", Type: event.KindString},
	}
	s, err := r.Define("orders", fields)
	require.NoError(t, err)
	assert.NotEmpty(t, s.UID)
	assert.Equal(t, 1, s.Version)

	got, ok := r.Lookup("orders")
	require.True(t, ok)
	assert.Equal(t, s.UID, got.UID)
}

func TestDefineIsIdempotentForSameShape(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)
	defer r.Close()

	fields := []FieldDef{{Name: "id", Type: event.KindInt}}
	s1, err := r.Define("orders", fields)
	require.NoError(t, err)
	s2, err := r.Define("orders", fields)
	require.NoError(t, err)
	assert.Equal(t, s1.UID, s2.UID)
	assert.Equal(t, 1, s2.Version)
}

func TestDefineBumpsVersionOnChange(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)
	defer r.Close()

	s1, err := r.Define("orders", []FieldDef{{Name: "id", Type: event.KindInt}})
	require.NoError(t, err)
	s2, err := r.Define("orders", []FieldDef{
		{Name: "id", Type: event.KindInt},
		{Name: "amount", Type: event.KindFloat},
	})
	require.NoError(t, err)
	assert.NotEqual(t, s1.UID, s2.UID)
	assert.Equal(t, 2, s2.Version)

	old, ok := r.ByUID(s1.UID)
	require.True(t, ok)
	assert.Equal(t, 1, old.Version)
}

func TestRegistryPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)
	s, err := r.Define("orders", []FieldDef{{Name: "id", Type: event.KindInt}})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	r2, err := Open(dir)
	require.NoError(t, err)
	defer r2.Close()
	got, ok := r2.Lookup("orders")
	require.True(t, ok)
	assert.Equal(t, s.UID, got.UID)
}

func TestValidateRejectsExtraAndMissingFields(t *testing.T) {
	s := &Schema{EventType: "orders", Fields: []FieldDef{
		{Name: "id", Type: event.KindInt},
		{Name: "nickname", Type: event.KindString, Nullable: true},
	}}

	err := s.Validate(map[string]event.Value{
		"id":    event.FromInt(1),
		"extra": event.FromString("nope"),
	})
	assert.ErrorIs(t, err, ErrSchema)

	err = s.Validate(map[string]event.Value{})
	assert.ErrorIs(t, err, ErrSchema)

	err = s.Validate(map[string]event.Value{"id": event.FromInt(1)})
	assert.NoError(t, err)
}

func TestValidateEnumIsCaseSensitive(t *testing.T) {
	s := &Schema{EventType: "sub", Fields: []FieldDef{
		{Name: "plan", Type: event.KindEnum, Variants: []string{"pro", "basic"}},
	}}
	assert.NoError(t, s.Validate(map[string]event.Value{"plan": event.FromEnum("pro")}))
	assert.ErrorIs(t, s.Validate(map[string]event.Value{"plan": event.FromEnum("Pro")}), ErrSchema)
}
