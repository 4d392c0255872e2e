package kvstore

// replayIndex rebuilds the in-memory index by replaying dir's key-log
// from the start: last-write-wins per key, tombstones remove. Assumes
// the key-log is already intact (recovery runs first on a dirty open).
func replayIndex(dir string) (*index, error) {
	idx := newIndex()

	f, sc, err := keyLogLines(dir)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return idx, nil
	}
	defer f.Close()

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		ent, err := parseEntryLine(line)
		if err != nil {
			return nil, err
		}

		ck, err := canonicalKey(ent.Key)
		if err != nil {
			return nil, err
		}

		if ent.Type == entryTypeSet {
			idx.set(ck, &valuePointer{
				Timestamp:  ent.Timestamp,
				Expiration: ent.Expiration,
				Offset:     ent.Offset,
				Size:       ent.Size,
				Encoding:   ent.Encoding,
			})
		} else {
			idx.delete(ck)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errFile(err, dir, "replay key-log")
	}
	return idx, nil
}
