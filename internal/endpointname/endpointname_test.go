package endpointname

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelSlug(t *testing.T) {
	assert.Equal(t, "black-forest-labs--FLUX.1-schnell", ModelSlug("black-forest-labs/FLUX.1-schnell"))
	assert.Equal(t, "stabilityai--sdxl-turbo", ModelSlug(" stabilityai/sdxl-turbo "))
	assert.Equal(t, "no-slash-model", ModelSlug("no-slash-model"))
}

func TestUserScopedTruncatesHashToTenChars(t *testing.T) {
	name := UserScoped("0123456789abcdef0123456789abcdef", "black-forest-labs/FLUX.1-schnell")
	assert.Equal(t, "visgate-0123456789-black-forest-labs--FLUX.1-schnell", name)

	// A hash shorter than the prefix length is used as-is.
	assert.Equal(t, "visgate-abc-m", UserScoped("abc", "m"))
}

func TestPool(t *testing.T) {
	assert.Equal(t, "visgate-pool-stabilityai--sdxl-turbo", Pool("stabilityai/sdxl-turbo"))
}
