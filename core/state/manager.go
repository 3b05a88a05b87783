package state

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"perkledger/core/types"
	"perkledger/storage"
)

var kvPrefix = []byte("perk/kv/")

// Manager provides the keyed RLP-encoded view of ledger state shared by the
// native module registries. Keys are keccak256-hashed under a fixed prefix so
// module key layouts cannot collide with each other or with raw storage users.
//
// Writes issued while a snapshot frame is open stage in an in-memory overlay
// and reach the database only on Commit. RevertToSnapshot drops the staged
// writes and the events appended since the snapshot, so a multi-step operation
// either lands in full or leaves no trace.
type Manager struct {
	mu     sync.Mutex
	db     storage.Database
	frames []*frame
	events []types.Event
}

// frame is one staged overlay layer. A key appears in writes or deletes,
// never both.
type frame struct {
	writes  map[string][]byte
	deletes map[string]struct{}
	events  int
}

func newFrame(eventMark int) *frame {
	return &frame{
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
		events:  eventMark,
	}
}

// NewManager wraps the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	hash := crypto.Keccak256(append(append([]byte(nil), kvPrefix...), key...))
	return hash
}

// Snapshot opens a new overlay frame and returns its identifier. Frames nest;
// reverting or committing an outer frame covers every frame opened after it.
func (m *Manager) Snapshot() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, newFrame(len(m.events)))
	return len(m.frames) - 1
}

// RevertToSnapshot discards the frame and everything staged since it was
// opened, including appended events. Unknown identifiers are ignored.
func (m *Manager) RevertToSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id >= len(m.frames) {
		return
	}
	m.events = m.events[:m.frames[id].events]
	m.frames = m.frames[:id]
}

// Commit flushes the frame and every frame opened after it. With no enclosing
// frame the staged writes land in the database; otherwise they merge into the
// parent frame and surface when that frame commits.
func (m *Manager) Commit(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 || id >= len(m.frames) {
		return nil
	}
	for i := id; i < len(m.frames); i++ {
		if err := m.flush(m.frames[i], id); err != nil {
			return err
		}
	}
	m.frames = m.frames[:id]
	return nil
}

func (m *Manager) flush(f *frame, base int) error {
	if base > 0 {
		parent := m.frames[base-1]
		for k, v := range f.writes {
			parent.writes[k] = v
			delete(parent.deletes, k)
		}
		for k := range f.deletes {
			delete(parent.writes, k)
			parent.deletes[k] = struct{}{}
		}
		return nil
	}
	for k, v := range f.writes {
		if err := m.db.Put([]byte(k), v); err != nil {
			return err
		}
	}
	for k := range f.deletes {
		if err := m.db.Delete([]byte(k)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) rawPut(hashed, encoded []byte) error {
	if len(m.frames) > 0 {
		top := m.frames[len(m.frames)-1]
		top.writes[string(hashed)] = encoded
		delete(top.deletes, string(hashed))
		return nil
	}
	return m.db.Put(hashed, encoded)
}

func (m *Manager) rawGet(hashed []byte) ([]byte, bool, error) {
	for i := len(m.frames) - 1; i >= 0; i-- {
		if _, gone := m.frames[i].deletes[string(hashed)]; gone {
			return nil, false, nil
		}
		if v, ok := m.frames[i].writes[string(hashed)]; ok {
			return v, true, nil
		}
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (m *Manager) rawDelete(hashed []byte) error {
	if len(m.frames) > 0 {
		top := m.frames[len(m.frames)-1]
		delete(top.writes, string(hashed))
		top.deletes[string(hashed)] = struct{}{}
		return nil
	}
	return m.db.Delete(hashed)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rawPut(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	data, found, err := m.rawGet(kvKey(key))
	m.mu.Unlock()
	if err != nil || !found {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rawDelete(kvKey(key))
}

// KVAppend appends the provided value to the RLP-encoded byte slice list
// stored under the supplied key. Duplicate values are ignored to keep indexes
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList decodes the byte slice list stored under the supplied key. A
// missing key yields an empty list.
func (m *Manager) KVGetList(key []byte, out *[][]byte) error {
	if out == nil {
		return fmt.Errorf("kv: list destination must not be nil")
	}
	found, err := m.KVGet(key, out)
	if err != nil {
		return err
	}
	if !found {
		*out = nil
	}
	return nil
}

// AppendEvent records an event in the in-memory log. Events accumulate until
// drained by the host; the log is a convenience for tests and the query
// surface, not the canonical emitter path.
func (m *Manager) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *evt.Copy())
}

// Events returns a copy of the accumulated event log.
func (m *Manager) Events() []types.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Event, len(m.events))
	copy(out, m.events)
	return out
}
