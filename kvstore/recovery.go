package kvstore

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// runRecovery rewrites dir's key-log and value-log, truncated to the
// longest prefix of checksum-valid entries, then atomically swaps the
// rewritten files into place. Called once, before replay, when open
// finds a dirty open-marker. See §4.6.
//
// Every accepted entry — including the last one — has its payload
// copied to the new value-log. A variant that skips the payload write
// for the final accepted entry is a bug, not an optimization: see
// DESIGN.md's "Open Questions resolved".
func runRecovery(dir string, logger zerolog.Logger) error {
	origVal, err := os.Open(filepath.Join(dir, valueLogName))
	if err != nil && !os.IsNotExist(err) {
		return errFile(err, dir, "open value-log for recovery")
	}
	if origVal != nil {
		defer origVal.Close()
	}

	origKey, sc, err := keyLogLines(dir)
	if err != nil {
		return err
	}
	if origKey != nil {
		defer origKey.Close()
	}

	tmpKey, err := os.OpenFile(filepath.Join(dir, keyLogTmp), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errFile(err, dir, "create temp key-log")
	}
	tmpVal, err := os.OpenFile(filepath.Join(dir, valueLogTmp), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		tmpKey.Close()
		return errFile(err, dir, "create temp value-log")
	}

	accepted := 0

	if sc != nil {
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			if len(line) == 0 {
				continue
			}

			ent, perr := parseEntryLine(line)
			if perr != nil {
				logger.Debug().Err(perr).Msg("recovery: stopping at unparsable entry")
				break
			}

			var payload []byte
			if ent.Type == entryTypeSet {
				if origVal == nil {
					logger.Debug().Msg("recovery: set entry but no value-log present")
					break
				}
				payload = make([]byte, ent.Size)
				if _, rerr := origVal.ReadAt(payload, ent.Offset); rerr != nil {
					logger.Debug().Err(rerr).Msg("recovery: stopping at unreadable payload")
					break
				}
			}

			ok, verr := verifyChecksum(ent, payload)
			if verr != nil {
				logger.Debug().Err(verr).Msg("recovery: stopping at checksum recompute failure")
				break
			}
			if !ok {
				logger.Debug().Msg("recovery: stopping at checksum mismatch")
				break
			}

			// The original line (not a remarshal) is written back verbatim:
			// an accepted entry's bytes must survive recovery unchanged.
			if _, werr := tmpKey.Write(append(line, '\n')); werr != nil {
				tmpKey.Close()
				tmpVal.Close()
				return errFile(werr, tmpKey.Name(), "write temp key-log")
			}
			if ent.Type == entryTypeSet {
				if _, werr := tmpVal.Write(payload); werr != nil {
					tmpKey.Close()
					tmpVal.Close()
					return errFile(werr, tmpVal.Name(), "write temp value-log")
				}
			}
			accepted++
		}
	}

	if err := tmpKey.Sync(); err != nil {
		tmpKey.Close()
		tmpVal.Close()
		return errFile(err, tmpKey.Name(), "sync temp key-log")
	}
	if err := tmpVal.Sync(); err != nil {
		tmpKey.Close()
		tmpVal.Close()
		return errFile(err, tmpVal.Name(), "sync temp value-log")
	}
	if err := tmpKey.Close(); err != nil {
		return errFile(err, tmpKey.Name(), "close temp key-log")
	}
	if err := tmpVal.Close(); err != nil {
		return errFile(err, tmpVal.Name(), "close temp value-log")
	}

	if err := os.Rename(filepath.Join(dir, keyLogTmp), filepath.Join(dir, keyLogName)); err != nil {
		return errFile(err, dir, "swap recovered key-log")
	}
	if err := os.Rename(filepath.Join(dir, valueLogTmp), filepath.Join(dir, valueLogName)); err != nil {
		return errFile(err, dir, "swap recovered value-log")
	}

	logger.Info().Int("entries", accepted).Msg("recovery complete")
	return nil
}
