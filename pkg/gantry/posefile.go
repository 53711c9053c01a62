package gantry

import (
	"bufio"
	"bytes"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/photogrammetry/gantry/pkg/faults"
)

// DefaultPoseFile is where the last confirmed position is kept.
const DefaultPoseFile = "galil_last_position.txt"

const (
	crcPrefix   = "#crc32="
	staleMarker = "#stale"
)

// PoseRecord is the content of a pose file.
type PoseRecord struct {
	Pose Counts

	// Stale is set after a hardware fault: the values are the last confirmed
	// position but the gantry may have moved since.
	Stale bool

	// Legacy is set when the file had no checksum line.
	Legacy bool
}

// LoadPose reads a pose file. The first line holds the five counts in
// x,y,z,phi,theta order; a following "#crc32=" line guards against a torn
// write. Files without the checksum line are accepted as legacy.
func LoadPose(path string) (PoseRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PoseRecord{}, faults.New(faults.KindPersistedPoseInvalid, "load_pose", err)
	}
	rec, err := parsePose(data)
	if err != nil {
		return PoseRecord{}, faults.New(faults.KindPersistedPoseInvalid, "load_pose",
			fmt.Errorf("%s: %w", path, err))
	}
	return rec, nil
}

func parsePose(data []byte) (PoseRecord, error) {
	var rec PoseRecord
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return rec, err
	}
	if len(lines) == 0 {
		return rec, fmt.Errorf("empty pose file")
	}

	fields := strings.Split(lines[0], ",")
	if len(fields) != NumAxes {
		return rec, fmt.Errorf("want %d values, got %d", NumAxes, len(fields))
	}
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return rec, fmt.Errorf("axis %s: %w", Axis(i), err)
		}
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return rec, fmt.Errorf("axis %s: %g is not a whole count", Axis(i), v)
		}
		rec.Pose[i] = int(v)
	}

	rec.Legacy = true
	for _, line := range lines[1:] {
		switch {
		case strings.HasPrefix(line, crcPrefix):
			want, err := strconv.ParseUint(strings.TrimPrefix(line, crcPrefix), 16, 32)
			if err != nil {
				return rec, fmt.Errorf("bad checksum line %q", line)
			}
			if got := crc32.ChecksumIEEE([]byte(lines[0])); uint32(want) != got {
				return rec, fmt.Errorf("checksum mismatch: file %08x, content %08x", want, got)
			}
			rec.Legacy = false
		case line == staleMarker:
			rec.Stale = true
		default:
			return rec, fmt.Errorf("unexpected line %q", line)
		}
	}
	return rec, nil
}

// FormatPose renders a pose record in the file format.
func FormatPose(rec PoseRecord) []byte {
	parts := make([]string, NumAxes)
	for i, c := range rec.Pose {
		parts[i] = strconv.Itoa(c)
	}
	first := strings.Join(parts, ",")

	var buf bytes.Buffer
	buf.WriteString(first)
	buf.WriteByte('\n')
	fmt.Fprintf(&buf, "%s%08x\n", crcPrefix, crc32.ChecksumIEEE([]byte(first)))
	if rec.Stale {
		buf.WriteString(staleMarker)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// SavePose replaces the pose file atomically: the record is written to a
// temporary file in the same directory and renamed over the old one.
func SavePose(path string, rec PoseRecord) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp pose file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(FormatPose(rec)); err != nil {
		tmp.Close()
		return fmt.Errorf("write pose file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync pose file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close pose file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace pose file: %w", err)
	}
	return nil
}
