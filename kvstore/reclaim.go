package kvstore

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// reclaim rewrites both logs to contain only live, non-expired entries
// and atomically swaps the rewritten files into place. Must be called
// with e.mu held. See §4.7.
func (e *Engine) reclaim() error {
	dir := e.dir

	tmpKey, err := os.OpenFile(filepath.Join(dir, keyLogTmp), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errFile(err, dir, "create temp key-log")
	}
	tmpVal, err := os.OpenFile(filepath.Join(dir, valueLogTmp), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		tmpKey.Close()
		return errFile(err, dir, "create temp value-log")
	}

	fail := func(err error) error {
		tmpKey.Close()
		tmpVal.Close()
		return err
	}

	var expiredKeys []string
	var newOffset int64
	now := nowMillis()

	for ck, ptr := range e.idx.rows {
		if ptr.isExpired(now) {
			expiredKeys = append(expiredKeys, ck)
			continue
		}

		payload, err := e.files.readPayload(ptr.Offset, ptr.Size)
		if err != nil {
			return fail(err)
		}

		entryOffset := newOffset
		if _, werr := tmpVal.Write(payload); werr != nil {
			return fail(errFile(werr, tmpVal.Name(), "write temp value-log"))
		}
		newOffset += int64(len(payload))
		ptr.Offset = entryOffset

		ent := &indexEntry{
			Type:       entryTypeSet,
			Timestamp:  ptr.Timestamp,
			Key:        json.RawMessage(ck),
			Encoding:   ptr.Encoding,
			Offset:     entryOffset,
			Size:       ptr.Size,
			Expiration: ptr.Expiration,
		}
		ent.Checksum, err = checksumSet(ent, payload)
		if err != nil {
			return fail(err)
		}
		line, err := ent.marshalLine()
		if err != nil {
			return fail(errCodec(err, "marshal reclaimed entry"))
		}
		if _, werr := tmpKey.Write(line); werr != nil {
			return fail(errFile(werr, tmpKey.Name(), "write temp key-log"))
		}
	}

	if err := tmpKey.Sync(); err != nil {
		return fail(errFile(err, tmpKey.Name(), "sync temp key-log"))
	}
	if err := tmpVal.Sync(); err != nil {
		return fail(errFile(err, tmpVal.Name(), "sync temp value-log"))
	}
	if err := tmpKey.Close(); err != nil {
		tmpVal.Close()
		return errFile(err, tmpKey.Name(), "close temp key-log")
	}
	if err := tmpVal.Close(); err != nil {
		return errFile(err, tmpVal.Name(), "close temp value-log")
	}

	if err := e.files.close(); err != nil {
		return err
	}

	if err := os.Rename(filepath.Join(dir, keyLogTmp), filepath.Join(dir, keyLogName)); err != nil {
		return errFile(err, dir, "swap reclaimed key-log")
	}
	if err := os.Rename(filepath.Join(dir, valueLogTmp), filepath.Join(dir, valueLogName)); err != nil {
		return errFile(err, dir, "swap reclaimed value-log")
	}

	newFiles, err := openLogFiles(dir)
	if err != nil {
		return err
	}
	if _, err := newFiles.seekToEnd(); err != nil {
		newFiles.close()
		return err
	}
	e.files = newFiles

	for _, ck := range expiredKeys {
		e.idx.delete(ck)
	}

	e.opt.logger().Info().Int("live_entries", e.idx.len()).Int("expired_evicted", len(expiredKeys)).Msg("reclaim complete")
	return nil
}
