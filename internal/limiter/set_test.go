package limiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/taskgraph/internal/errors"
)

func TestSet_Defaults(t *testing.T) {
	s := NewSet(nil)
	defer s.Close()

	assert.Equal(t, []string{NameGit, NameSpawn, NameState}, s.Names())
	assert.Equal(t, 3, s.MustGet(NameSpawn).Limit())
	assert.Equal(t, 1, s.MustGet(NameGit).Limit())
	assert.Equal(t, 10, s.MustGet(NameState).Limit())
}

func TestSet_Overrides(t *testing.T) {
	s := NewSet(map[string]Config{
		NameGit: {MaxConcurrent: 2},
		"index": {MaxConcurrent: 4, Timeout: time.Second},
	})
	defer s.Close()

	assert.Equal(t, []string{NameGit, "index", NameSpawn, NameState}, s.Names())
	assert.Equal(t, 2, s.MustGet(NameGit).Limit())
	assert.Equal(t, 4, s.MustGet("index").Limit())

	stats := s.Stats()
	require.Len(t, stats, 4)
	assert.Equal(t, NameGit, stats[0].Name)
}

func TestSet_UnknownName(t *testing.T) {
	s := NewSet(nil)
	defer s.Close()

	_, err := s.Get("nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	assert.Panics(t, func() { s.MustGet("nope") })
}
