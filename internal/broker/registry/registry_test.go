package registry

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateSessionExplicitName(t *testing.T) {
	r := New()
	s, err := r.CreateSession("mysession")
	require.NoError(t, err)
	require.Equal(t, "mysession", s.ID)
}

func TestCreateSessionDuplicateNameFails(t *testing.T) {
	r := New()
	_, err := r.CreateSession("dup")
	require.NoError(t, err)

	_, err = r.CreateSession("dup")
	var already *ErrAlreadyExists
	require.True(t, errors.As(err, &already), "expected ErrAlreadyExists, got %v", err)
}

func TestCreateSessionAutoGeneratedNameBounded(t *testing.T) {
	r := New()
	for i := 0; i < 50; i++ {
		s, err := r.CreateSession("")
		require.NoError(t, err)
		require.LessOrEqual(t, len(s.ID), 15, "generated name %q exceeds 15 bytes", s.ID)
		require.True(t, strings.Contains(s.ID, "-"), "generated name %q missing separator", s.ID)
	}
}

func TestCreatePaneRequiresExistingSession(t *testing.T) {
	r := New()
	_, err := r.CreatePane("nope", "p1")
	var notFound *ErrNotFound
	require.True(t, errors.As(err, &notFound), "expected ErrNotFound, got %v", err)
}

func TestCreatePaneDuplicateNameFails(t *testing.T) {
	r := New()
	r.CreateSession("s1")
	_, err := r.CreatePane("s1", "p1")
	require.NoError(t, err)

	_, err = r.CreatePane("s1", "p1")
	var already *ErrAlreadyExists
	require.True(t, errors.As(err, &already), "expected ErrAlreadyExists, got %v", err)
}

func TestListSessionsAndPanes(t *testing.T) {
	r := New()
	r.CreateSession("s1")
	r.CreatePane("s1", "p1")
	r.CreatePane("s1", "p2")

	sessions := r.ListSessions()
	require.Len(t, sessions, 1)

	panes, err := r.ListPanes("s1")
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, panes, "want creation order")
}

func TestClosePaneReturnsCanonicalChannelsAndRemoves(t *testing.T) {
	r := New()
	r.CreateSession("s1")
	r.CreatePane("s1", "p1")

	in, out, err := r.ClosePane("s1", "p1")
	require.NoError(t, err)
	require.Equal(t, "session-s1/pane-p1/input", in)
	require.Equal(t, "session-s1/pane-p1/output", out)

	_, err = r.GetPane("s1", "p1")
	require.Error(t, err, "expected pane to be gone after ClosePane")
}

type fakeRuntime struct{ closed bool }

func (f *fakeRuntime) Close() error { f.closed = true; return nil }

func TestClosePaneClosesAttachedRuntime(t *testing.T) {
	r := New()
	r.CreateSession("s1")
	r.CreatePane("s1", "p1")
	rt := &fakeRuntime{}
	require.NoError(t, r.AttachRuntime("s1", "p1", rt))

	_, _, err := r.ClosePane("s1", "p1")
	require.NoError(t, err)
	require.True(t, rt.closed, "expected attached runtime to be closed")
}

func TestCloseSessionRemovesAllPanesAndReturnsChannels(t *testing.T) {
	r := New()
	r.CreateSession("s1")
	r.CreatePane("s1", "p1")
	r.CreatePane("s1", "p2")

	channels, err := r.CloseSession("s1")
	require.NoError(t, err)
	require.Len(t, channels, 4, "2 panes x 2 channels")
	require.Empty(t, r.ListSessions())
}

func TestListSessionInfosCarriesCreationTimeAndPaneCount(t *testing.T) {
	r := New()
	r.CreateSession("s1")
	r.CreatePane("s1", "p1")
	r.CreatePane("s1", "p2")

	infos := r.ListSessionInfos()
	require.Len(t, infos, 1)
	require.Equal(t, "s1", infos[0].ID)
	require.Equal(t, 2, infos[0].PaneCount)
	require.False(t, infos[0].CreatedAt.IsZero())
}

func TestListPaneInfosReflectsAttachment(t *testing.T) {
	r := New()
	r.CreateSession("s1")
	r.CreatePane("s1", "p1")
	r.CreatePane("s1", "p2")
	require.NoError(t, r.AttachRuntime("s1", "p1", &fakeRuntime{}))

	infos, err := r.ListPaneInfos("s1")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, "p1", infos[0].ID)
	require.True(t, infos[0].Attached)
	require.False(t, infos[0].CreatedAt.IsZero())
	require.False(t, infos[1].Attached, "p2 has no attached runtime")
}

func TestListPaneInfosUnknownSessionErrors(t *testing.T) {
	r := New()
	_, err := r.ListPaneInfos("nope")
	var notFound *ErrNotFound
	require.True(t, errors.As(err, &notFound), "expected ErrNotFound, got %v", err)
}

func TestDestroyAllRemovesEverySessionAndClosesRuntimes(t *testing.T) {
	r := New()
	r.CreateSession("s1")
	r.CreatePane("s1", "p1")
	rt := &fakeRuntime{}
	require.NoError(t, r.AttachRuntime("s1", "p1", rt))
	r.CreateSession("s2")

	r.DestroyAll()

	require.Empty(t, r.ListSessions())
	require.True(t, rt.closed, "expected attached runtime to be closed by DestroyAll")

	_, err := r.CreatePane("s1", "p2")
	var notFound *ErrNotFound
	require.True(t, errors.As(err, &notFound), "expected s1 to be gone after DestroyAll")
}

func TestGenerateMemorableNameCharset(t *testing.T) {
	for i := 0; i < 200; i++ {
		withDigit := i%2 == 0
		name := generateMemorableName(withDigit)
		require.LessOrEqual(t, len(name), 15, "name %q exceeds 15 bytes", name)
		for _, c := range name {
			isLower := c >= 'a' && c <= 'z'
			isDigit := c >= '0' && c <= '9'
			require.True(t, isLower || c == '-' || isDigit, "name %q contains unexpected character %q", name, c)
		}
	}
}
