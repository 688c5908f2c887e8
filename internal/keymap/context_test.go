package keymap

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLoadedContext(t *testing.T, maxKeyID int, cfg fakeConfig) (*Context, *fakeEngine, *fakeSender) {
	t.Helper()
	engine := &fakeEngine{maxKeyID: maxKeyID}
	sender := &fakeSender{}
	ctx := NewContext(engine, sender, nil)
	require.NoError(t, ctx.Load(DefaultDescription, cfg))
	return ctx, engine, sender
}

func TestHandleKeyForwardsPress(t *testing.T) {
	ctx, engine, sender := newLoadedContext(t, 255, overrides().withOffset(EngineOffsetKey, 8))

	require.NoError(t, ctx.HandleKey(50, true))
	assert.Equal(t, 1, ctx.Pressed(50))
	assert.Equal(t, []keyUpdate{{id: 58, pressed: true}}, engine.updates)
	assert.Equal(t, []sentKey{{id: 58, pressed: true}}, sender.keys)
}

func TestHandleKeyRecordsModifiers(t *testing.T) {
	ctx, _, _ := newLoadedContext(t, 255, overrides())

	require.NoError(t, ctx.HandleKey(50, true))
	assert.Equal(t, uint32(1), ctx.Modifiers().Depressed)
	require.NoError(t, ctx.HandleKey(50, false))
	assert.Zero(t, ctx.Modifiers().Depressed)
}

func TestHandleKeyReleaseWithoutPressIsDropped(t *testing.T) {
	ctx, engine, sender := newLoadedContext(t, 255, overrides())

	err := ctx.HandleKey(30, false)
	assert.ErrorIs(t, err, ErrSpuriousRelease)
	assert.Empty(t, engine.updates)
	assert.Empty(t, sender.keys)
	assert.Zero(t, ctx.Pressed(30))
}

func TestHandleKeyOutOfRange(t *testing.T) {
	ctx, engine, sender := newLoadedContext(t, 255, overrides())

	for _, key := range []int{256, 1000, -1} {
		for _, pressed := range []bool{true, false} {
			err := ctx.HandleKey(key, pressed)
			require.Error(t, err)
		}
	}
	err := ctx.HandleKey(400, true)
	var oor *OutOfRangeError
	require.ErrorAs(t, err, &oor)
	assert.Equal(t, 400, oor.Key)
	assert.Equal(t, 256, oor.Size)
	assert.ErrorIs(t, err, ErrOutOfRangeKey)

	assert.Empty(t, engine.updates)
	assert.Empty(t, sender.keys)
	assert.Empty(t, ctx.Held())
}

func TestHandleKeyBeforeLoad(t *testing.T) {
	sender := &fakeSender{}
	ctx := NewContext(&fakeEngine{maxKeyID: 255}, sender, nil)

	assert.ErrorIs(t, ctx.HandleKey(10, true), ErrOutOfRangeKey)
	assert.ErrorIs(t, ctx.HandleKey(10, false), ErrSpuriousRelease)
	assert.Zero(t, ctx.ReleaseAll())
	assert.Empty(t, sender.keys)
}

func TestHandleKeyBeyondEngineSkipsModifiers(t *testing.T) {
	ctx, engine, sender := newLoadedContext(t, 255, overrides("20", "300"))

	require.NoError(t, ctx.HandleKey(20, true))
	assert.Empty(t, engine.updates)
	assert.Equal(t, []sentKey{{id: 300, pressed: true}}, sender.keys)
}

func TestHandleKeyCountsOverlappingPresses(t *testing.T) {
	ctx, _, sender := newLoadedContext(t, 255, overrides("300", "10").withOffset(EngineOffsetKey, 8))
	require.Equal(t, 301, ctx.Size())

	for i := 0; i < 3; i++ {
		require.NoError(t, ctx.HandleKey(300, true))
	}
	require.NoError(t, ctx.HandleKey(300, false))
	assert.Equal(t, 2, ctx.Pressed(300))

	sender.keys = nil
	assert.Equal(t, 2, ctx.ReleaseAll())
	assert.Equal(t, []sentKey{{id: 18, pressed: false}, {id: 18, pressed: false}}, sender.keys)
	assert.Zero(t, ctx.Pressed(300))
}

func TestHandleKeySenderFailureKeepsCounters(t *testing.T) {
	ctx, _, sender := newLoadedContext(t, 255, overrides())
	sender.failKeys = true

	require.Error(t, ctx.HandleKey(40, true))
	assert.Equal(t, 1, ctx.Pressed(40))
	require.Error(t, ctx.HandleKey(40, false))
	assert.Zero(t, ctx.Pressed(40))
}

func TestReleaseAllIsIdempotent(t *testing.T) {
	ctx, _, sender := newLoadedContext(t, 255, overrides())
	for _, key := range []int{1, 42, 42, 100, 254} {
		require.NoError(t, ctx.HandleKey(key, true))
	}

	assert.Equal(t, 5, ctx.ReleaseAll())
	assert.Empty(t, ctx.Held())

	sender.keys = nil
	assert.Zero(t, ctx.ReleaseAll())
	assert.Empty(t, sender.keys)
}

func TestReleaseAllSurvivesSenderErrors(t *testing.T) {
	ctx, _, sender := newLoadedContext(t, 255, overrides())
	require.NoError(t, ctx.HandleKey(7, true))
	require.NoError(t, ctx.HandleKey(7, true))
	sender.failKeys = true

	assert.Equal(t, 2, ctx.ReleaseAll())
	assert.Zero(t, ctx.Pressed(7))
}

func TestCountersNeverGoNegative(t *testing.T) {
	ctx, _, sender := newLoadedContext(t, 32, overrides("40", "1"))
	rng := rand.New(rand.NewSource(1))

	expected := make(map[int]int)
	for i := 0; i < 5000; i++ {
		key := rng.Intn(48) - 2
		pressed := rng.Intn(2) == 0
		_ = ctx.HandleKey(key, pressed)

		if key >= 0 && key < ctx.Size() {
			if pressed {
				expected[key]++
			} else if expected[key] > 0 {
				expected[key]--
			}
		}
		for k := -2; k < 48; k++ {
			require.GreaterOrEqual(t, ctx.Pressed(k), 0)
			if k >= 0 && k < ctx.Size() {
				require.Equal(t, expected[k], ctx.Pressed(k), "key %d", k)
			}
		}
	}

	ctx.ReleaseAll()
	assert.Empty(t, ctx.Held())

	presses, releases := 0, 0
	for _, k := range sender.keys {
		if k.pressed {
			presses++
		} else {
			releases++
		}
	}
	assert.Equal(t, presses, releases)
}

func TestLoadReplacesGeneration(t *testing.T) {
	ctx, engine, sender := newLoadedContext(t, 255, overrides())
	require.NoError(t, ctx.HandleKey(30, true))

	require.NoError(t, ctx.Load(DefaultDescription, overrides("400", "1")))
	assert.Equal(t, 401, ctx.Size())
	assert.Zero(t, ctx.Pressed(30), "counters are discarded on reload")
	assert.Equal(t, 1, engine.liveStates, "previous session closed")
	assert.Len(t, sender.keymaps, 2)
}

func TestLoadFailureKeepsPreviousGeneration(t *testing.T) {
	ctx, engine, _ := newLoadedContext(t, 255, overrides())
	require.NoError(t, ctx.HandleKey(30, true))
	before := ctx.Table()

	err := ctx.Load("", overrides("400", "1"))
	assert.ErrorIs(t, err, ErrKeymapCompile)
	assert.Same(t, before, ctx.Table())
	assert.Equal(t, 1, ctx.Pressed(30))

	engine.failState = true
	assert.ErrorIs(t, ctx.Load(DefaultDescription, overrides()), ErrStateInit)
	assert.Same(t, before, ctx.Table())
	assert.Equal(t, 1, engine.liveStates)

	require.NoError(t, ctx.HandleKey(30, false))
}

func TestLoadRejectedBySender(t *testing.T) {
	ctx, engine, sender := newLoadedContext(t, 255, overrides())
	before := ctx.Table()
	sender.rejectKM = true

	require.Error(t, ctx.Load(DefaultDescription, overrides("400", "1")))
	assert.Same(t, before, ctx.Table())
	assert.Equal(t, 1, engine.liveStates)
}

func TestCloseReleasesSession(t *testing.T) {
	ctx, engine, _ := newLoadedContext(t, 255, overrides())
	ctx.Close()
	assert.Zero(t, engine.liveStates)
	assert.False(t, ctx.Loaded())
	assert.Zero(t, ctx.Size())
}

func TestPointerPassthrough(t *testing.T) {
	ctx, _, sender := newLoadedContext(t, 255, overrides())

	require.NoError(t, ctx.Motion(10, 20))
	require.NoError(t, ctx.RelativeMotion(-1, 2))
	require.NoError(t, ctx.Button(1, true))
	require.NoError(t, ctx.Button(1, false))
	require.NoError(t, ctx.Wheel(0, -1))

	assert.Equal(t, []string{
		"motion 10 20",
		"rel -1 2",
		"button 1 true",
		"button 1 false",
		"wheel 0 -1",
	}, sender.pointer)
	assert.Empty(t, sender.keys)
}
