package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"m3u8capture/pkg/model"
)

func TestRegistry_InsertIdempotent(t *testing.T) {
	r := New()
	a := model.ManifestURL("https://a.test/a.m3u8")
	b := model.ManifestURL("https://b.test/b.m3u8")

	assert.True(t, r.Insert(a))
	assert.True(t, r.Insert(b))
	before := r.Values()

	assert.False(t, r.Insert(a))
	assert.False(t, r.Insert(b))
	assert.Equal(t, 2, r.Size())
	assert.Equal(t, before, r.Values())
	assert.Equal(t, []model.ManifestURL{a, b}, r.Values())
}

func TestRegistry_ExactStringEquality(t *testing.T) {
	r := New()
	assert.True(t, r.Insert("https://a.test/a.m3u8?x=1&y=2"))
	assert.True(t, r.Insert("https://a.test/a.m3u8?y=2&x=1"))
	assert.True(t, r.Insert("https://A.test/a.m3u8?x=1&y=2"))
	assert.Equal(t, 3, r.Size())
}

func TestRegistry_ValuesIsCopy(t *testing.T) {
	r := New()
	r.Insert("https://a.test/a.m3u8")
	v := r.Values()
	v[0] = "mutated"

	assert.False(t, r.Insert("https://a.test/a.m3u8"))
	assert.Equal(t, model.ManifestURL("https://a.test/a.m3u8"), r.Values()[0])
}

func TestRegistry_Empty(t *testing.T) {
	r := New()
	assert.Zero(t, r.Size())
	assert.Empty(t, r.Values())
}
