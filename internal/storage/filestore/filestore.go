// Package filestore keeps order attachments on local disk, one directory per order.
package filestore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/fx"

	"github.com/Additional-Code/procura/internal/config"
	"github.com/Additional-Code/procura/internal/entity"
)

// ErrNotFound is returned when a stored file is absent or its name is not servable.
var ErrNotFound = errors.New("attachment not found")

// TempPrefix marks in-flight uploads; such files are never served or referenced.
const TempPrefix = ".upload-"

const maxNameLen = 128

// Module provides the file store to Fx.
var Module = fx.Provide(New)

// Store manages attachment files under a root directory.
type Store struct {
	root   string
	prefix string
}

// Saved describes a file that was written to disk.
type Saved struct {
	Slot entity.Slot
	Name string
	Ref  string
	Size int64
}

// FileInfo is one entry of an order directory.
type FileInfo struct {
	Name    string
	ModTime time.Time
	Temp    bool
}

// OrderDir lists the files kept for one order.
type OrderDir struct {
	OrderID int64
	ModTime time.Time
	Files   []FileInfo
}

// New creates the upload root configured for the service.
func New(cfg config.Config) (*Store, error) {
	return NewStore(cfg.Storage.UploadRoot, cfg.Storage.PublicPrefix)
}

// NewStore creates root if needed and serves references under prefix.
func NewStore(root, prefix string) (*Store, error) {
	prefix = "/" + strings.Trim(prefix, "/")
	if prefix == "/" {
		return nil, fmt.Errorf("public prefix %q must name a path below the root", prefix)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create upload root %s: %w", root, err)
	}
	return &Store{root: root, prefix: prefix}, nil
}

// Root returns the upload root directory.
func (s *Store) Root() string {
	return s.root
}

// StoredName returns the on-disk name for a file uploaded into slot.
func StoredName(slot entity.Slot, filename string) string {
	return string(slot) + "_" + sanitize(filename)
}

// Ref builds the public reference of a stored file.
func (s *Store) Ref(orderID int64, name string) string {
	return path.Join(s.prefix, strconv.FormatInt(orderID, 10), name)
}

// ParseRef splits a reference produced by Ref. ok is false for anything else.
func (s *Store) ParseRef(ref string) (orderID int64, name string, ok bool) {
	rest, found := strings.CutPrefix(ref, s.prefix+"/")
	if !found {
		return 0, "", false
	}
	idPart, name, found := strings.Cut(rest, "/")
	if !found || !validName(name) {
		return 0, "", false
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	return id, name, true
}

// Save streams r into the slot's file for orderID. The content becomes visible under its final
// name only once fully written and synced, so a same-named previous file is replaced atomically.
func (s *Store) Save(orderID int64, slot entity.Slot, filename string, r io.Reader) (*Saved, error) {
	dir := s.orderDir(orderID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create order dir: %w", err)
	}

	name := StoredName(slot, filename)
	tmp, err := os.CreateTemp(dir, TempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("fsync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("rename %s: %w", name, err)
	}

	return &Saved{Slot: slot, Name: name, Ref: s.Ref(orderID, name), Size: size}, nil
}

// Open returns the stored file for reading; the caller closes it.
func (s *Store) Open(orderID int64, name string) (*os.File, fs.FileInfo, error) {
	if !validName(name) {
		return nil, nil, ErrNotFound
	}
	f, err := os.Open(filepath.Join(s.orderDir(orderID), name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

// Exists reports whether name is stored for orderID.
func (s *Store) Exists(orderID int64, name string) bool {
	if !validName(name) {
		return false
	}
	info, err := os.Stat(filepath.Join(s.orderDir(orderID), name))
	return err == nil && !info.IsDir()
}

// Remove deletes one stored file. Missing files are not an error.
func (s *Store) Remove(orderID int64, name string) error {
	if !validName(name) && !strings.HasPrefix(name, TempPrefix) {
		return fmt.Errorf("invalid file name %q", name)
	}
	err := os.Remove(filepath.Join(s.orderDir(orderID), name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// PurgeAll removes every file kept for orderID. Calling it again is a no-op.
func (s *Store) PurgeAll(orderID int64) error {
	if orderID <= 0 {
		return fmt.Errorf("invalid order id %d", orderID)
	}
	if err := os.RemoveAll(s.orderDir(orderID)); err != nil {
		return fmt.Errorf("purge order %d: %w", orderID, err)
	}
	return nil
}

// Scan lists order directories under the root. Entries whose name is not an order id are skipped.
func (s *Store) Scan() ([]OrderDir, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read upload root: %w", err)
	}

	dirs := make([]OrderDir, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}

		dir := OrderDir{OrderID: id, ModTime: info.ModTime()}
		files, err := os.ReadDir(s.orderDir(id))
		if err != nil {
			return nil, fmt.Errorf("read order dir %d: %w", id, err)
		}
		for _, f := range files {
			if f.IsDir() {
				continue
			}
			fi, err := f.Info()
			if err != nil {
				continue
			}
			if fi.ModTime().After(dir.ModTime) {
				dir.ModTime = fi.ModTime()
			}
			dir.Files = append(dir.Files, FileInfo{
				Name:    f.Name(),
				ModTime: fi.ModTime(),
				Temp:    strings.HasPrefix(f.Name(), TempPrefix),
			})
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

func (s *Store) orderDir(orderID int64) string {
	return filepath.Join(s.root, strconv.FormatInt(orderID, 10))
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.HasPrefix(name, ".") {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.ContainsRune(name, 0)
}

// sanitize keeps the base name of filename with letters, digits, dot, dash and underscore.
// Other runes become underscores.
func sanitize(filename string) string {
	base := filename
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}

	var b strings.Builder
	for _, r := range base {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "file"
	}

	if len(out) > maxNameLen {
		ext := filepath.Ext(out)
		if len(ext) > 16 {
			ext = ""
		}
		out = truncateRunes(strings.TrimSuffix(out, ext), maxNameLen-len(ext)) + ext
	}
	return out
}

func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := 0
	for i := range s {
		if i > max {
			break
		}
		cut = i
	}
	return s[:cut]
}
