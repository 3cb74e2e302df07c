package authstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStaticWildcardFallback(t *testing.T) {
	s := NewStatic(map[string]Credentials{
		"conv-1": {Token: "t1", Email: "a@example.com"},
		Wildcard: {Token: "any", Email: "b@example.com"},
	})
	c, ok := s.Lookup("conv-1")
	require.True(t, ok)
	require.Equal(t, "t1", c.Token)

	c, ok = s.Lookup("other")
	require.True(t, ok)
	require.Equal(t, "any", c.Token)

	_, ok = NewStatic(nil).Lookup("x")
	require.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default:
  token: fallback
  email: me@example.com
  name: Me
conversations:
  conv-1:
    token: xyz
    email: me@example.com
    participant_id: p-7
`), 0o600))

	s, err := LoadFile(path)
	require.NoError(t, err)

	c, ok := s.Lookup("conv-1")
	require.True(t, ok)
	require.Equal(t, "xyz", c.Token)
	require.Equal(t, "p-7", c.Sender().ID)

	c, ok = s.Lookup("conv-2")
	require.True(t, ok)
	require.Equal(t, "fallback", c.Token)
	require.Equal(t, "me@example.com", c.Identifier())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSettingsStore(t *testing.T) {
	_, err := Settings{}.Store()
	require.Error(t, err)

	st, err := Settings{Email: "x@example.com", Token: "tok"}.Store()
	require.NoError(t, err)
	c, ok := st.Lookup("anything")
	require.True(t, ok)
	require.Equal(t, "tok", c.Token)
}
