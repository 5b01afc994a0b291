package stream

// LastChainedState reverse-scans the on-disk stream for its true tail:
// the last recorded sequence number (whether or not that entry is
// hash-chained) and the most recent hash-enabled entry's hash. The writer
// uses it to reconstruct in-memory state when .state.json is missing or
// incomplete; without that, a lost state file would reset the sequence to
// 0 and chain the next append against "genesis" mid-stream, re-issuing
// used sequence numbers and breaking chain continuity.
//
// A file that cannot be read or interpreted ends the scan with an error.
// When that happens before the sequence tail is recovered the tail is
// unknowable and sequence is 0; when it happens afterwards the recovered
// sequence is returned alongside the error, with hashOK false, and the
// caller decides whether the missing chain tail matters.
func LastChainedState(dir string) (sequence uint64, lastHash string, hashOK bool, err error) {
	files, err := ListStreamFiles(dir)
	if err != nil {
		return 0, "", false, err
	}

	seqFound := false
	for i := len(files) - 1; i >= 0; i-- {
		actions, rerr := ReadActions(files[i])
		if rerr != nil {
			return sequence, "", false, rerr
		}
		if len(actions) == 0 {
			continue
		}
		// Legacy entries may lack a sequence field (zero value); the
		// sequence tail is the most recent entry that carries one.
		if !seqFound {
			for j := len(actions) - 1; j >= 0; j-- {
				if actions[j].Sequence != 0 {
					sequence = actions[j].Sequence
					seqFound = true
					break
				}
			}
		}
		for j := len(actions) - 1; j >= 0; j-- {
			if actions[j].Integrity != nil {
				return sequence, actions[j].Integrity.Hash, true, nil
			}
		}
	}
	return sequence, "", false, nil
}
