package persona

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDefaults(t *testing.T) {
	got := Normalize(Config{})
	assert.Equal(t, Config{PersonaName: "Luna", Tone: "gentle"}, got)
}

func TestNormalizeTrimsNames(t *testing.T) {
	got := Normalize(Config{PersonaName: "  Nova ", UserName: " Sam\t", Tone: "calm"})
	assert.Equal(t, "Nova", got.PersonaName)
	assert.Equal(t, "Sam", got.UserName)
	assert.Equal(t, "calm", got.Tone)
}

func TestNormalizeBlankPersonaNameFallsBack(t *testing.T) {
	assert.Equal(t, DefaultName, Normalize(Config{PersonaName: "   "}).PersonaName)
}

func TestNormalizeKeepsUnknownToneVerbatim(t *testing.T) {
	assert.Equal(t, " Grumpy ", Normalize(Config{Tone: " Grumpy "}).Tone)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	once := Normalize(Config{PersonaName: " Luna ", Tone: "gentle"})
	assert.Equal(t, once, Normalize(once))
	assert.Equal(t, Normalize(Config{}), once)
}

func TestMemoryStoreRecognized(t *testing.T) {
	store := NewMemoryStore(Seed())
	assert.Len(t, store.List(), 4)
	assert.True(t, store.Recognized("playful"))
	assert.False(t, store.Recognized("grumpy"))
}
