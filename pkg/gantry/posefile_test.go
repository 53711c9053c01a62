package gantry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/photogrammetry/gantry/pkg/faults"
)

func TestPoseFile_SaveLoad(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pose.txt")

	rec := PoseRecord{Pose: Counts{8985, -12, 0, 3982, -250}}
	require.NoError(t, SavePose(path, rec))

	got, err := LoadPose(path)
	require.NoError(t, err)
	assert.Equal(t, rec.Pose, got.Pose)
	assert.False(t, got.Stale)
	assert.False(t, got.Legacy)

	rec.Stale = true
	require.NoError(t, SavePose(path, rec))
	got, err = LoadPose(path)
	require.NoError(t, err)
	assert.True(t, got.Stale)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestPoseFile_Format(t *testing.T) {
	t.Parallel()
	data := string(FormatPose(PoseRecord{Pose: Counts{1, 2, 3, 4, 5}, Stale: true}))
	assert.Regexp(t, `^1,2,3,4,5\n#crc32=[0-9a-f]{8}\n#stale\n$`, data)
}

func TestParsePose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    PoseRecord
		wantErr bool
	}{
		{
			name:    "legacy single line",
			content: "100,200,300,400,500\n",
			want:    PoseRecord{Pose: Counts{100, 200, 300, 400, 500}, Legacy: true},
		},
		{
			name:    "legacy with float formatting",
			content: "100.0, -2.0, 0, 4e2, 5",
			want:    PoseRecord{Pose: Counts{100, -2, 0, 400, 5}, Legacy: true},
		},
		{
			name:    "checksummed",
			content: string(FormatPose(PoseRecord{Pose: Counts{7, 8, 9, 10, 11}})),
			want:    PoseRecord{Pose: Counts{7, 8, 9, 10, 11}},
		},
		{name: "empty", content: "\n\n", wantErr: true},
		{name: "too few values", content: "1,2,3,4", wantErr: true},
		{name: "too many values", content: "1,2,3,4,5,6", wantErr: true},
		{name: "not a number", content: "1,2,x,4,5", wantErr: true},
		{name: "fractional count", content: "1,2,3.5,4,5", wantErr: true},
		{name: "checksum mismatch", content: "1,2,3,4,5\n#crc32=00000000\n", wantErr: true},
		{name: "bad checksum line", content: "1,2,3,4,5\n#crc32=zz\n", wantErr: true},
		{name: "trailing garbage", content: "1,2,3,4,5\nhello\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parsePose([]byte(tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadPose_Invalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := LoadPose(filepath.Join(dir, "missing.txt"))
	assert.True(t, errors.Is(err, faults.PersistedPoseInvalid))

	torn := filepath.Join(dir, "torn.txt")
	require.NoError(t, os.WriteFile(torn, []byte("1,2,3"), 0o644))
	_, err = LoadPose(torn)
	assert.Equal(t, faults.KindPersistedPoseInvalid, faults.KindOf(err))
}
