// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package checkpoint

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveLoad(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ts := time.Date(2025, 11, 30, 22, 41, 0, 0, time.UTC)
	rec := FromTime(3, ts)
	require.NoError(t, s.Save(rec))

	got, err := s.Load(3)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
	assert.Equal(t, time.Date(2025, 11, 30, 22, 0, 0, 0, time.UTC), got.Time(time.UTC))

	_, err = s.Load(4)
	assert.ErrorIs(t, err, ErrNotFound)

	all := s.LoadAll(4)
	assert.Len(t, all, 1)

	require.NoError(t, s.Remove(3))
	require.NoError(t, s.Remove(3))
}

func TestRecord_EncodedLayout(t *testing.T) {
	b, err := Record{Camera: 1, Date: 2, Month: 3, Year: 2024, Hour: 5}.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, Size)
	assert.Equal(t, []byte("NVCK"), b[:4])
	assert.Equal(t, byte(Version), b[4])
	assert.Equal(t, []byte{1, 2, 3, 0x07, 0xE8, 5, 0}, b[5:12])
}

func TestRecord_RejectsCorruption(t *testing.T) {
	b, err := Record{Camera: 1, Date: 2, Month: 3, Year: 2024, Hour: 5}.MarshalBinary()
	require.NoError(t, err)

	flipped := append([]byte(nil), b...)
	flipped[10] = 9
	var r Record
	assert.ErrorIs(t, r.UnmarshalBinary(flipped), ErrCorrupt)

	future := append([]byte(nil), b...)
	future[4] = 2
	assert.ErrorIs(t, r.UnmarshalBinary(future), ErrVersion)

	assert.ErrorIs(t, r.UnmarshalBinary(b[:8]), ErrCorrupt)

	_, err = Record{Camera: 1, Date: 2, Month: 13, Year: 2024}.MarshalBinary()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_LoadAllSkipsCorrupt(t *testing.T) {
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Save(Record{Camera: 1, Date: 1, Month: 1, Year: 2025, Hour: 0}))
	require.NoError(t, os.WriteFile(s.Path(2), []byte("garbage"), 0o600))

	all := s.LoadAll(2)
	assert.Len(t, all, 1)
	_, ok := all[1]
	assert.True(t, ok)
}
