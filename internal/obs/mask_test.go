package obs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskValue(t *testing.T) {
	assert.Equal(t, "***", MaskValue("short"))
	assert.Equal(t, "***", MaskValue("12345678"))
	assert.Equal(t, "user***4567", MaskValue("user-1234567"))
}

func TestMaskIdentity(t *testing.T) {
	assert.Equal(t, "", MaskIdentity(""))
	assert.Equal(t, "***", MaskIdentity("u1"))
}
