package stream

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// persistedState is the on-disk shape of .state.json.
type persistedState struct {
	Sequence uint64  `json:"sequence"`
	LastHash *string `json:"lastHash"`
}

const stateFileName = ".state.json"

// loadState reads .state.json from dir. A missing file is not an error;
// it means a fresh store starting at sequence 0.
func loadState(dir string) (seq uint64, lastHash *string, err error) {
	data, err := os.ReadFile(stateFilePath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil, nil
		}
		return 0, nil, err
	}
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return 0, nil, err
	}
	return ps.Sequence, ps.LastHash, nil
}

// saveState rewrites .state.json with the writer's current in-memory
// state.
func saveState(dir string, seq uint64, lastHash *string) error {
	ps := persistedState{Sequence: seq, LastHash: lastHash}
	data, err := json.Marshal(ps)
	if err != nil {
		return err
	}
	return os.WriteFile(stateFilePath(dir), data, 0600)
}

func stateFilePath(dir string) string {
	return filepath.Join(dir, stateFileName)
}
