package kvstore

import "hash/crc32"

// checksumSet computes the CRC32 of the entry's canonical form
// concatenated with ":" and the payload bytes, per §4.2.
func checksumSet(e *indexEntry, payload []byte) (uint32, error) {
	data, err := e.canonicalBytes()
	if err != nil {
		return 0, err
	}
	data = append(data, ':')
	data = append(data, payload...)
	return crc32.ChecksumIEEE(data), nil
}

// checksumDel computes the CRC32 of a tombstone's canonical form alone —
// there is no payload to fold in.
func checksumDel(e *indexEntry) (uint32, error) {
	data, err := e.canonicalBytes()
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(data), nil
}

// verifyChecksum recomputes the checksum for e (folding in payload for a
// set entry) and reports whether it matches the recorded value.
func verifyChecksum(e *indexEntry, payload []byte) (bool, error) {
	var (
		got uint32
		err error
	)
	if e.Type == entryTypeSet {
		got, err = checksumSet(e, payload)
	} else {
		got, err = checksumDel(e)
	}
	if err != nil {
		return false, err
	}
	return got == e.Checksum, nil
}
