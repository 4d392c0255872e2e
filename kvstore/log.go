package kvstore

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
)

const (
	keyLogName    = "db.klog"
	valueLogName  = "db.vlog"
	keyLogTmp     = "db.klog.tmp"
	valueLogTmp   = "db.vlog.tmp"
	openMarkerName = ".OPEN"
)

// logFiles bundles the two append-only files plus the directory they
// live in. All positioning is explicit: every write seeks to end first,
// matching the single-writer, no-concurrent-overlap model in §5.
type logFiles struct {
	dir      string
	keyFile  *os.File
	valFile  *os.File
}

func openLogFiles(dir string) (*logFiles, error) {
	kf, err := os.OpenFile(filepath.Join(dir, keyLogName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errFile(err, dir, "open key-log")
	}
	vf, err := os.OpenFile(filepath.Join(dir, valueLogName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		kf.Close()
		return nil, errFile(err, dir, "open value-log")
	}
	return &logFiles{dir: dir, keyFile: kf, valFile: vf}, nil
}

// seekToEnd positions both files at EOF and returns the value-log's
// next-append offset, which every set entry records as its payload's
// starting position.
func (lf *logFiles) seekToEnd() (int64, error) {
	if _, err := lf.keyFile.Seek(0, io.SeekEnd); err != nil {
		return 0, errFile(err, lf.keyFile.Name(), "seek key-log")
	}
	off, err := lf.valFile.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errFile(err, lf.valFile.Name(), "seek value-log")
	}
	return off, nil
}

func (lf *logFiles) appendEntryLine(line []byte) error {
	if _, err := lf.keyFile.Write(line); err != nil {
		return errFile(err, lf.keyFile.Name(), "append key-log")
	}
	return nil
}

func (lf *logFiles) appendPayload(payload []byte) error {
	if _, err := lf.valFile.Write(payload); err != nil {
		return errFile(err, lf.valFile.Name(), "append value-log")
	}
	return nil
}

func (lf *logFiles) readPayload(offset, size int64) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := lf.valFile.ReadAt(buf, offset); err != nil {
		return nil, errFile(err, lf.valFile.Name(), "read value-log")
	}
	return buf, nil
}

// sync flushes both files to the operating system, per §4.3's
// requirement that externally observable commit points (marker removal,
// file swaps) be preceded by a flush.
func (lf *logFiles) sync() error {
	if err := lf.keyFile.Sync(); err != nil {
		return errFile(err, lf.keyFile.Name(), "sync key-log")
	}
	if err := lf.valFile.Sync(); err != nil {
		return errFile(err, lf.valFile.Name(), "sync value-log")
	}
	return nil
}

func (lf *logFiles) close() error {
	kerr := lf.keyFile.Close()
	verr := lf.valFile.Close()
	if kerr != nil {
		return errFile(kerr, lf.keyFile.Name(), "close key-log")
	}
	if verr != nil {
		return errFile(verr, lf.valFile.Name(), "close value-log")
	}
	return nil
}

// keyLogLines opens dir's key-log read-only and streams its lines one
// at a time, used by both open-replay and recovery.
func keyLogLines(dir string) (*os.File, *bufio.Scanner, error) {
	f, err := os.Open(filepath.Join(dir, keyLogName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, errFile(err, dir, "open key-log for replay")
	}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return f, sc, nil
}

func openMarkerPath(dir string) string {
	return filepath.Join(dir, openMarkerName)
}

func markerExists(dir string) (bool, error) {
	_, err := os.Stat(openMarkerPath(dir))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errFile(err, dir, "stat open-marker")
}

func createMarker(dir string) error {
	f, err := os.OpenFile(openMarkerPath(dir), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errFile(err, dir, "create open-marker")
	}
	return errFile(f.Close(), dir, "close open-marker")
}

func removeMarker(dir string) error {
	err := os.Remove(openMarkerPath(dir))
	if err != nil && !os.IsNotExist(err) {
		return errFile(err, dir, "remove open-marker")
	}
	return nil
}
