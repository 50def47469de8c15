// cache.go implements the §6.3 on-disk cache inventory: its binary format
// and the per-source staleness check. It records metadata only; no
// compiled program is stored or loaded here.
//
// Grounded on original_source/src/io/Workspace.cpp's PersistenceDatabase
// (restore/persist) and script_metadata struct: same field set and field
// order, same magic constant and little-endian primitive encoding, same
// "source mtime > cached_on means stale" rule (Workspace::loadModule).
// The interned-path table and module-id map are carried unchanged from
// the original's persist(); this repo has no equivalent of the original's
// robin_hood hash map; a plain Go map serves the same de-duplication role.
package pipeline

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

// magic tags a cache file as ours (§6.3: 0x4E535450, ASCII "PTSN").
const magic uint32 = 0x4E535450

// BuiltinAPIVersion/ExtendedAPIVersion gate cache compatibility: a cache
// written by a different version of this runtime is rejected outright
// rather than partially trusted (§6.3 "must match runtime").
const (
	BuiltinAPIVersion  uint32 = 1
	ExtendedAPIVersion uint32 = 1
)

// ScriptMetadata is one source file's cache inventory entry (§6.3),
// named script_metadata in the original.
type ScriptMetadata struct {
	Path       string
	ModuleID   uint32
	Size       uint64
	ModifiedOn uint64 // unix millis.
	CachedOn   uint64 // unix millis; 0 means never cached.
	IsTrusted  bool
}

// Database is the in-memory mirror of a workspace's cache inventory
// (§6.3), corresponding to the original's PersistenceDatabase.
type Database struct {
	WorkspaceRoot string
	Scripts       map[string]*ScriptMetadata
	// sourcePaths maps a module id to the source path that produced it,
	// for modules referenced only by id (cross-module import resolution).
	sourcePaths map[uint32]string
}

// NewDatabase returns an empty Database rooted at workspaceRoot.
func NewDatabase(workspaceRoot string) *Database {
	return &Database{
		WorkspaceRoot: workspaceRoot,
		Scripts:       make(map[string]*ScriptMetadata),
		sourcePaths:   make(map[uint32]string),
	}
}

// OnFileDiscovered records a newly seen source file (Workspace::processScript's
// "not yet known" branch).
func (d *Database) OnFileDiscovered(path string, size, modifiedOn uint64, trusted bool) *ScriptMetadata {
	m := &ScriptMetadata{
		Path:       path,
		ModuleID:   hashPath(path),
		Size:       size,
		ModifiedOn: modifiedOn,
		IsTrusted:  trusted,
	}
	d.Scripts[path] = m
	return m
}

// OnFileChanged updates a known script's size/mtime (Workspace::processScript's
// "modified_on < modifiedTimestamp" branch).
func (d *Database) OnFileChanged(m *ScriptMetadata, size, modifiedOn uint64) {
	m.Size = size
	m.ModifiedOn = modifiedOn
}

// IsStale reports whether m's cache (if any) must be rebuilt from
// source: either there is no cache yet, or the source was modified
// after the cache was written (Workspace::loadModule's
// "lastModifiedOn < meta->cached_on" check, inverted).
func (m *ScriptMetadata) IsStale() bool {
	return m.CachedOn == 0 || m.ModifiedOn > m.CachedOn
}

// MapSourcePath records which source path produced moduleID, for
// modules looked up only by id (PersistenceDatabase::mapSourcePath).
func (d *Database) MapSourcePath(moduleID uint32, path string) {
	d.sourcePaths[moduleID] = path
}

// SourcePath resolves a module id back to its source path
// (PersistenceDatabase::getSourcePath: explicit map first, fall back to
// a linear scan of known scripts).
func (d *Database) SourcePath(moduleID uint32) string {
	if p, ok := d.sourcePaths[moduleID]; ok {
		return p
	}
	for _, m := range d.Scripts {
		if m.ModuleID == moduleID {
			return m.Path
		}
	}
	return ""
}

// hashPath derives a module id from a workspace-relative path the same
// way the original does (std::hash<String>, §6.3 "module_id"): FNV-1a
// is this repo's stand-in for that opaque std::hash, since the exact
// bit pattern never needs to round-trip across the two implementations.
func hashPath(path string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(path); i++ {
		h ^= uint32(path[i])
		h *= 16777619
	}
	return h
}

// Persist serializes the database to the §6.3 binary format.
func (d *Database) Persist(w io.Writer) error {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, magic); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, BuiltinAPIVersion); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.LittleEndian, ExtendedAPIVersion); err != nil {
		return err
	}
	if err := writeString16(&buf, d.WorkspaceRoot); err != nil {
		return err
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(d.Scripts))); err != nil {
		return err
	}
	for _, m := range d.Scripts {
		if err := writeString16(&buf, m.Path); err != nil {
			return err
		}
		if err := binary.Write(&buf, binary.LittleEndian, m.Size); err != nil {
			return err
		}
		if err := binary.Write(&buf, binary.LittleEndian, m.ModifiedOn); err != nil {
			return err
		}
		if err := binary.Write(&buf, binary.LittleEndian, m.CachedOn); err != nil {
			return err
		}
		if err := binary.Write(&buf, binary.LittleEndian, m.IsTrusted); err != nil {
			return err
		}
	}

	// Intern every referenced source path once (§6.3 "interned paths"),
	// then store the module-id -> path-index map, exactly as
	// PersistenceDatabase::persist de-duplicates via pathIndices/idMap.
	paths := make([]string, 0, len(d.sourcePaths))
	pathIndex := make(map[string]uint32, len(d.sourcePaths))
	idMap := make(map[uint32]uint32, len(d.sourcePaths))
	for id, p := range d.sourcePaths {
		idx, ok := pathIndex[p]
		if !ok {
			idx = uint32(len(paths))
			paths = append(paths, p)
			pathIndex[p] = idx
		}
		idMap[id] = idx
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(paths))); err != nil {
		return err
	}
	for _, p := range paths {
		if err := writeString16(&buf, p); err != nil {
			return err
		}
	}

	if err := binary.Write(&buf, binary.LittleEndian, uint32(len(idMap))); err != nil {
		return err
	}
	for id, idx := range idMap {
		if err := binary.Write(&buf, binary.LittleEndian, id); err != nil {
			return err
		}
		if err := binary.Write(&buf, binary.LittleEndian, idx); err != nil {
			return err
		}
	}

	_, err := w.Write(buf.Bytes())
	return err
}

// LoadDatabase deserializes a §6.3 cache inventory, returning
// (nil, nil) for a version/magic mismatch rather than an error: a stale
// or foreign cache file just means "rebuild from source"
// (PersistenceDatabase::restore's "throw false" paths), a genuine read
// failure (truncated/corrupt file, I/O error) is reported per §7's
// "system errors ... logged as warnings, pipeline falls back".
func LoadDatabase(r io.Reader) (*Database, error) {
	var m uint32
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return nil, nil
	}
	if m != magic {
		return nil, nil
	}

	var builtinVer, extVer uint32
	if err := binary.Read(r, binary.LittleEndian, &builtinVer); err != nil {
		return nil, errors.Wrap(err, "reading builtin API version")
	}
	if err := binary.Read(r, binary.LittleEndian, &extVer); err != nil {
		return nil, errors.Wrap(err, "reading extended API version")
	}
	if builtinVer != BuiltinAPIVersion || extVer != ExtendedAPIVersion {
		return nil, nil
	}

	workspaceRoot, err := readString16(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading workspace root")
	}
	db := NewDatabase(workspaceRoot)

	var scriptCount uint32
	if err := binary.Read(r, binary.LittleEndian, &scriptCount); err != nil {
		return nil, errors.Wrap(err, "reading script count")
	}
	for i := uint32(0); i < scriptCount; i++ {
		path, err := readString16(r)
		if err != nil {
			return nil, errors.Wrap(err, "reading script path")
		}
		m := &ScriptMetadata{Path: path, ModuleID: hashPath(path)}
		if err := binary.Read(r, binary.LittleEndian, &m.Size); err != nil {
			return nil, errors.Wrap(err, "reading script size")
		}
		if err := binary.Read(r, binary.LittleEndian, &m.ModifiedOn); err != nil {
			return nil, errors.Wrap(err, "reading script modified-on")
		}
		if err := binary.Read(r, binary.LittleEndian, &m.CachedOn); err != nil {
			return nil, errors.Wrap(err, "reading script cached-on")
		}
		if err := binary.Read(r, binary.LittleEndian, &m.IsTrusted); err != nil {
			return nil, errors.Wrap(err, "reading script trusted flag")
		}
		db.Scripts[path] = m
	}

	var pathCount uint32
	if err := binary.Read(r, binary.LittleEndian, &pathCount); err != nil {
		return nil, errors.Wrap(err, "reading interned path count")
	}
	paths := make([]string, pathCount)
	for i := range paths {
		p, err := readString16(r)
		if err != nil {
			return nil, errors.Wrap(err, "reading interned path")
		}
		paths[i] = p
	}

	var idMapCount uint32
	if err := binary.Read(r, binary.LittleEndian, &idMapCount); err != nil {
		return nil, errors.Wrap(err, "reading id-map count")
	}
	for i := uint32(0); i < idMapCount; i++ {
		var moduleID, pathIdx uint32
		if err := binary.Read(r, binary.LittleEndian, &moduleID); err != nil {
			return nil, errors.Wrap(err, "reading id-map entry")
		}
		if err := binary.Read(r, binary.LittleEndian, &pathIdx); err != nil {
			return nil, errors.Wrap(err, "reading id-map entry")
		}
		if int(pathIdx) >= len(paths) {
			return nil, errors.New("id-map path index out of range")
		}
		db.sourcePaths[moduleID] = paths[pathIdx]
	}

	return db, nil
}

// LoadDatabaseFile opens path and loads its cache inventory, treating a
// missing file as "no prior cache" rather than an error (first run in a
// fresh workspace).
func LoadDatabaseFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "opening cache database")
	}
	defer f.Close()
	return LoadDatabase(f)
}

// PersistFile writes d's inventory to path, truncating any prior file.
func (d *Database) PersistFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating cache database")
	}
	defer f.Close()
	return d.Persist(f)
}

func writeString16(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return errors.New("string exceeds u16 length field")
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString16(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
