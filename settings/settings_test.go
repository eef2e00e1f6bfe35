package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urtextpiano-dev/urtext-sub005/model"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.NoError(t, err)
	assert.Equal(t, model.DefaultDifficultySettings(), s)
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "difficulty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("wait_for_correct_note: false\nplayback_speed: 9\n"), 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	assert := assert.New(t)
	assert.False(s.WaitForCorrectNote)
	assert.Equal(2.0, s.PlaybackSpeed)
	assert.Equal(3, s.ShowHintsAfterAttempts)
	assert.True(s.AutoAdvanceRests)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "difficulty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("playback_speed: [1"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestStaticNormalizes(t *testing.T) {
	s := Static{PlaybackSpeed: 0, ShowHintsAfterAttempts: -4}.Settings()

	assert.Equal(t, 1.0, s.PlaybackSpeed)
	assert.Equal(t, 0, s.ShowHintsAfterAttempts)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "difficulty.yaml")
	want := model.DefaultDifficultySettings()
	want.SectionLooping = true
	want.PlaybackSpeed = 0.5

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWatcherReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "difficulty.yaml")
	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()

	changes := make(chan model.DifficultySettings, 4)
	w.OnChange(func(s model.DifficultySettings) { changes <- s })

	s := model.DefaultDifficultySettings()
	s.ShowHintsAfterAttempts = 1
	require.NoError(t, Save(path, s))
	require.NoError(t, w.Reload())

	assert.Equal(t, 1, w.Settings().ShowHintsAfterAttempts)
	assert.Equal(t, 1, (<-changes).ShowHintsAfterAttempts)

	require.NoError(t, os.WriteFile(path, []byte(":::"), 0o644))
	assert.Error(t, w.Reload())
	assert.Equal(t, 1, w.Settings().ShowHintsAfterAttempts)
}

func TestWatcherFollowsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "difficulty.yaml")
	require.NoError(t, Save(path, model.DefaultDifficultySettings()))
	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.Watch())

	s := model.DefaultDifficultySettings()
	s.WaitForCorrectNote = false
	require.NoError(t, Save(path, s))

	assert.Eventually(t, func() bool {
		return !w.Settings().WaitForCorrectNote
	}, 3*time.Second, 20*time.Millisecond)
}
