package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oklog/ulid/v2"
)

const (
	dataExt = ".bin"
	infoExt = ".info"
)

// layout maps an upload id to <root>/uploads/<aa>/<bb>/<id>.{bin,info}.
type layout struct {
	root string
}

func (l layout) uploadsDir() string {
	return filepath.Join(l.root, "uploads")
}

func (l layout) dirFor(id string) string {
	s := strings.ReplaceAll(id, "-", "")
	if len(s) < 4 {
		s = s + strings.Repeat("_", 4-len(s))
	}
	return filepath.Join(l.uploadsDir(), s[:2], s[2:4])
}

func (l layout) dataPath(id string) string {
	return filepath.Join(l.dirFor(id), id+dataExt)
}

func (l layout) infoPath(id string) string {
	return filepath.Join(l.dirFor(id), id+infoExt)
}

func tmpPath(final string) string {
	return final + ".tmp-" + ulid.Make().String()
}

func isTmp(name string) bool {
	return strings.Contains(name, ".tmp-")
}

// writeFileAtomic replaces path with data: write to a tmp sibling, fsync,
// rename, fsync the directory. Readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp := tmpPath(path)
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	// some filesystems refuse fsync on directories; the rename already happened
	_ = d.Sync()
	return nil
}
