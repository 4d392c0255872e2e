package kvstore

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock swaps nowMillis for a clock backed by a single var and
// returns an advance/restore pair for it, letting
// a test advance time deterministically instead of sleeping.
func fakeClock(t *testing.T, start int64) (advance func(delta int64), restore func()) {
	t.Helper()
	orig := nowMillis
	cur := start
	nowMillis = func() int64 { return cur }
	return func(delta int64) { cur += delta }, func() { nowMillis = orig }
}

func openTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := Open(dir, Options{DisableFlock: true})
	require.NoError(t, err)
	return e
}

func TestBasicRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	for i := 0; i < 1000; i++ {
		require.NoError(t, e.Set(i, i+1))
	}
	for i := 0; i < 1000; i++ {
		ok, err := e.Contains(i)
		require.NoError(t, err)
		assert.True(t, ok)

		v, ok, err := e.Get(i)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, float64(i+1), v)
	}
}

func TestExpiration(t *testing.T) {
	dir := t.TempDir()
	advance, restore := fakeClock(t, 1_000_000)
	defer restore()
	e := openTestEngine(t, dir)
	defer e.Close()

	for i := 0; i < 1000; i++ {
		var exp int64
		if i%2 == 0 {
			exp = nowMillis() + 1000
		} else {
			exp = nowMillis() + 10000
		}
		require.NoError(t, e.SetWithExpiration(i, i+1, exp))
	}

	advance(1100)

	check := func() {
		for i := 0; i < 1000; i++ {
			_, ok, err := e.Get(i)
			require.NoError(t, err)
			if i%2 == 0 {
				assert.False(t, ok, "key %d should be expired", i)
			} else {
				v, ok2, err2 := e.Get(i)
				require.NoError(t, err2)
				require.True(t, ok2, "key %d should still be present", i)
				assert.Equal(t, float64(i+1), v)
			}
		}
	}
	check()

	require.NoError(t, e.Reclaim())
	check()
}

func TestDeleteAndReclaim(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)

	for i := 0; i < 1000; i++ {
		require.NoError(t, e.Set(i, i+1))
	}
	for i := 0; i < 1000; i += 2 {
		require.NoError(t, e.Del(i))
	}

	check := func() {
		for i := 0; i < 1000; i++ {
			ok, err := e.Contains(i)
			require.NoError(t, err)
			if i%2 == 0 {
				assert.False(t, ok)
			} else {
				assert.True(t, ok)
			}
		}
	}
	check()

	require.NoError(t, e.Reopen())
	check()

	require.NoError(t, e.Reclaim())
	check()

	require.NoError(t, e.Close())
}

func TestHeterogeneousCodecs(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i * 31 % 253)
	}
	require.NoError(t, e.Set("raw", data))
	v, ok, err := e.Get("raw")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, data, v)

	type opaqueObj struct {
		Field string
	}
	require.NoError(t, e.Set("obj", opaqueObj{Field: "myField"}))
	v2, ok, err := e.Get("obj")
	require.NoError(t, err)
	require.True(t, ok)
	m, ok := v2.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "myField", m["Field"])
}

func TestTornKeyLogTail(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	for i := 0; i < 1000; i++ {
		require.NoError(t, e.Set(i, i+1))
	}
	require.NoError(t, e.Close())

	tornKeyLog(t, dir)
	require.NoError(t, createMarker(dir))

	e2, err := Open(dir, Options{DisableFlock: true})
	require.NoError(t, err)
	defer e2.Close()

	for i := 0; i < 999; i++ {
		v, ok, err := e2.Get(i)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, float64(i+1), v)
	}
	_, ok, err := e2.Get(999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCorruptedPayload(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	for i := 0; i < 1000; i++ {
		require.NoError(t, e.Set(i, i+1))
	}
	require.NoError(t, e.Close())

	corruptLastPayload(t, dir)
	require.NoError(t, createMarker(dir))

	e2, err := Open(dir, Options{DisableFlock: true})
	require.NoError(t, err)
	defer e2.Close()

	for i := 0; i < 999; i++ {
		v, ok, err := e2.Get(i)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, float64(i+1), v)
	}
	_, ok, err := e2.Get(999)
	require.NoError(t, err)
	assert.False(t, ok)
}

// tornKeyLog replaces the last key-log line with the first half of its
// text, dropping the trailing newline — simulating a crash mid-append.
func tornKeyLog(t *testing.T, dir string) {
	t.Helper()
	path := filepath.Join(dir, keyLogName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lastNL := -1
	for i := len(data) - 2; i >= 0; i-- {
		if data[i] == '\n' {
			lastNL = i
			break
		}
	}
	require.NotEqual(t, -1, lastNL)
	lastLineStart := lastNL + 1
	lastLine := data[lastLineStart : len(data)-1]
	torn := lastLine[:len(lastLine)/2]

	newData := append(data[:lastLineStart], torn...)
	require.NoError(t, os.WriteFile(path, newData, 0o644))
}

// corruptLastPayload overwrites the final payload's bytes in the
// value-log with arbitrary bytes that don't match its checksum.
func corruptLastPayload(t *testing.T, dir string) {
	t.Helper()
	path := filepath.Join(dir, valueLogName)
	info, err := os.Stat(path)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()

	garbage := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	offset := info.Size() - int64(len(garbage))
	require.True(t, offset >= 0)
	_, err = f.WriteAt(garbage, offset)
	require.NoError(t, err)
}

func TestDelOnMissingKeyIsNoOp(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	require.NoError(t, e.Set("present", 1))
	before, err := os.Stat(filepath.Join(dir, keyLogName))
	require.NoError(t, err)

	require.NoError(t, e.Del("missing"))
	ok, err := e.Contains("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	after, err := os.Stat(filepath.Join(dir, keyLogName))
	require.NoError(t, err)
	assert.Equal(t, before.Size(), after.Size(), "del on an absent key must not append a tombstone")
}

func TestSetDeleteGetAbsent(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	require.NoError(t, e.Set("k", "v"))
	require.NoError(t, e.Del("k"))
	_, ok, err := e.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirtyOpenWithoutPriorCloseRunsRecovery(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	for i := 0; i < 10; i++ {
		require.NoError(t, e.Set(strconv.Itoa(i), i))
	}
	// simulate a crash: never call Close, marker is still present.
	require.NoError(t, e.files.sync())

	e2, err := Open(dir, Options{DisableFlock: true})
	require.NoError(t, err)
	defer e2.Close()

	for i := 0; i < 10; i++ {
		v, ok, err := e2.Get(strconv.Itoa(i))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, float64(i), v)
	}
}
