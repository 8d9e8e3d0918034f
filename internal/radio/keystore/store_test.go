package keystore

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"wasteland.fm/internal/protocol"
)

func TestRotation_ReGrantGatesNewTraffic(t *testing.T) {
	s := New()
	g, err := s.Create("104.5", "A", "K1")
	require.NoError(t, err)
	require.Equal(t, "K1", g.Key)
	require.Equal(t, uint32(1), g.Version)
	require.Len(t, g.Fingerprint, fingerprintLen)

	_, err = s.Grant("A", "B", "104.5", "K1")
	require.NoError(t, err)

	before, err := s.Seal("104.5", "A", "extraction at dawn")
	require.NoError(t, err)
	pt, err := s.Open("B", before)
	require.NoError(t, err)
	require.Equal(t, "extraction at dawn", pt)

	rot, err := s.Rotate("104.5", "A", "K2")
	require.NoError(t, err)
	require.Equal(t, uint32(2), rot.Version)
	require.NotEqual(t, g.Fingerprint, rot.Fingerprint)

	_, err = s.Grant("A", "C", "104.5", "K2")
	require.NoError(t, err)

	after, err := s.Seal("104.5", "A", "new rally point")
	require.NoError(t, err)
	require.Equal(t, rot.Fingerprint, after.Fingerprint)

	_, err = s.Open("B", after)
	require.Equal(t, protocol.ErrPermission, protocol.CodeOf(err))
	require.False(t, s.CanOpen("B", after.Fingerprint))

	pt, err = s.Open("C", after)
	require.NoError(t, err)
	require.Equal(t, "new rally point", pt)

	// B still reads traffic sealed before the rotation; C never held K1.
	pt, err = s.Open("B", before)
	require.NoError(t, err)
	require.Equal(t, "extraction at dawn", pt)
	_, err = s.Open("C", before)
	require.Error(t, err)

	// B can no longer send or re-share.
	_, err = s.Seal("104.5", "B", "hello?")
	require.Equal(t, protocol.ErrPermission, protocol.CodeOf(err))
	_, err = s.Grant("B", "D", "104.5", "K1")
	require.Equal(t, protocol.ErrPermission, protocol.CodeOf(err))
}

func TestCreate_DuplicateIsConflict(t *testing.T) {
	s := New()
	g, err := s.Create("99.9", "A", "")
	require.NoError(t, err)
	require.NotEmpty(t, g.Key)
	_, err = s.Create("99.9", "B", "x")
	require.Equal(t, protocol.ErrConflict, protocol.CodeOf(err))
}

func TestGrant_RequiresCurrentAccessAndMatchingKey(t *testing.T) {
	s := New()
	_, err := s.Create("104.5", "A", "K1")
	require.NoError(t, err)

	_, err = s.Grant("Z", "B", "104.5", "K1")
	require.Equal(t, protocol.ErrPermission, protocol.CodeOf(err))
	_, err = s.Grant("A", "B", "104.5", "wrong")
	require.Equal(t, protocol.ErrPermission, protocol.CodeOf(err))
	_, err = s.Grant("A", "B", "nope", "K1")
	require.Equal(t, protocol.ErrNotFound, protocol.CodeOf(err))

	g, err := s.Grant("A", "B", "104.5", "K1")
	require.NoError(t, err)
	require.Equal(t, "K1", g.Key)

	// Any current holder may pass the key on.
	_, err = s.Grant("B", "C", "104.5", "K1")
	require.NoError(t, err)
	require.True(t, s.HasCurrent("C", "104.5"))
}

func TestRevokeAndDelete_CreatorOnly(t *testing.T) {
	s := New()
	_, err := s.Create("104.5", "A", "K1")
	require.NoError(t, err)
	_, err = s.Grant("A", "B", "104.5", "K1")
	require.NoError(t, err)
	env, err := s.Seal("104.5", "A", "hold position")
	require.NoError(t, err)

	require.Equal(t, protocol.ErrPermission, protocol.CodeOf(s.Revoke("B", "A", "104.5")))
	require.Equal(t, protocol.ErrValidation, protocol.CodeOf(s.Revoke("A", "A", "104.5")))
	require.NoError(t, s.Revoke("A", "B", "104.5"))
	require.Equal(t, protocol.ErrNotFound, protocol.CodeOf(s.Revoke("A", "B", "104.5")))
	_, err = s.Open("B", env)
	require.Error(t, err)

	_, err = s.Rotate("104.5", "B", "")
	require.Equal(t, protocol.ErrPermission, protocol.CodeOf(err))
	_, err = s.Delete("104.5", "B")
	require.Equal(t, protocol.ErrPermission, protocol.CodeOf(err))

	holders, err := s.Delete("104.5", "A")
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, holders)
	require.False(t, s.Exists("104.5"))
	require.Empty(t, s.ChannelsFor("A"))
	_, err = s.Open("A", env)
	require.Error(t, err)
}

func TestChannelsFor_HidesStaleKeyMaterial(t *testing.T) {
	s := New()
	_, err := s.Create("104.5", "A", "K1")
	require.NoError(t, err)
	_, err = s.Grant("A", "B", "104.5", "K1")
	require.NoError(t, err)
	_, err = s.Rotate("104.5", "A", "K2")
	require.NoError(t, err)

	list := s.ChannelsFor("B")
	require.Len(t, list, 1)
	require.Equal(t, uint32(1), list[0].Version)
	require.Empty(t, list[0].Key)

	list = s.ChannelsFor("A")
	require.Equal(t, "K2", list[0].Key)
	require.Equal(t, "A", list[0].Creator)
}

func TestExportImport_PreservesHistory(t *testing.T) {
	s := New()
	_, err := s.Create("104.5", "A", "K1")
	require.NoError(t, err)
	_, err = s.Grant("A", "B", "104.5", "K1")
	require.NoError(t, err)
	old, err := s.Seal("104.5", "A", "before")
	require.NoError(t, err)
	_, err = s.Rotate("104.5", "A", "K2")
	require.NoError(t, err)

	restored := New()
	require.NoError(t, restored.Import(s.Export()))

	pt, err := restored.Open("B", old)
	require.NoError(t, err)
	require.Equal(t, "before", pt)
	require.False(t, restored.HasCurrent("B", "104.5"))
	require.True(t, restored.HasCurrent("A", "104.5"))

	require.Error(t, restored.Import([]Record{{ChannelID: "1.0", Version: 3, Keys: map[uint32]string{1: "x"}}}))
}

func TestConcurrentGrantAndSeal(t *testing.T) {
	s := New()
	_, err := s.Create("104.5", "A", "K1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = s.Grant("A", string(rune('a'+i)), "104.5", "K1")
		}(i)
		go func() {
			defer wg.Done()
			env, err := s.Seal("104.5", "A", "ping")
			if err == nil {
				_, _ = s.Open("A", env)
			}
		}()
	}
	wg.Wait()
	require.Len(t, s.Export()[0].Holders, 9)
}
