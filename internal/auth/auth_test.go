package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAuthorizer(t *testing.T) {
	a := New([]int64{7}, []int64{-100})

	assert.True(t, a.Authorized(1, 7), "trusted user in any chat")
	assert.True(t, a.Authorized(-100, 8), "anyone in allowed chat")
	assert.False(t, a.Authorized(1, 8))

	empty := New(nil, nil)
	assert.False(t, empty.Authorized(1, 7))
}
