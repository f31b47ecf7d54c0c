package viewer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlattenSelections(t *testing.T) {
	sel := []Selection{
		{Model: "a", IDs: []ObjectID{4, 2, 9}},
		{Model: "b", IDs: []ObjectID{2, 7}},
	}
	assert.Equal(t, []ObjectID{4, 2, 9, 7}, FlattenSelections(sel))
	assert.Empty(t, FlattenSelections(nil))
	assert.NotNil(t, FlattenSelections(nil), "empty result should marshal as []")
}

func TestRegion_IsFull(t *testing.T) {
	assert.True(t, Region{}.IsFull())
	assert.False(t, Region{Right: 512, Bottom: 512}.IsFull())
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("object 42")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "object 42: not found", err.Error())
}
