package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	base := errors.New("link dropped")
	err := fmt.Errorf("scan point 3: %w", &Error{Kind: KindHardwareFault, Op: "move_absolute", Text: "Begin not valid", Err: base})

	assert.Equal(t, KindHardwareFault, KindOf(err))
	assert.True(t, errors.Is(err, HardwareFault))
	assert.False(t, errors.Is(err, CaptureFailure))
	assert.True(t, errors.Is(err, base))
	assert.Equal(t, KindUnknown, KindOf(base))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestErrorString(t *testing.T) {
	t.Parallel()

	err := &Error{Kind: KindHardwareFault, Op: "home", Text: "Limit switch", Err: errors.New("motion incomplete")}
	assert.Equal(t, "[hardware_fault] home: motion incomplete (Limit switch)", err.Error())

	err = Newf(KindConfigParse, "load", "line %d: bad value", 4)
	assert.Equal(t, "[config_parse] load: line 4: bad value", err.Error())
}

func TestKindString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		kind Kind
		want string
	}{
		{KindConfigParse, "config_parse"},
		{KindDegenerateGeometry, "degenerate_geometry"},
		{KindHardwareFault, "hardware_fault"},
		{KindPersistedPoseInvalid, "persisted_pose_invalid"},
		{KindCaptureFailure, "capture_failure"},
		{KindUnknown, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}
