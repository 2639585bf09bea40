package textimport

import (
	"io"
	"os"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/cometdata/comet/pkg/errors"
)

// RenameFunc renames a directory; the default is os.Rename. Tests inject
// failures to exercise the cross-device fallback.
type RenameFunc func(oldpath, newpath string) error

// mover grafts prepared shadow partition directories onto the target
// table directory. Rename is attempted first; when the work root and the
// table root are on different filesystems the rename fails with EXDEV
// and the partition is copied file by file instead.
type mover struct {
	rename RenameFunc
	log    *zap.Logger
}

func (m *mover) movePartition(srcDir, dstDir string) error {
	err := m.rename(srcDir, dstDir)
	if err == nil {
		return nil
	}

	if !isCrossDevice(err) {
		return errors.Wrapf(err, errors.ErrorTypeIO, "could not move partition to %s", dstDir)
	}

	m.log.Info("partition dirs are not on the same mounted filesystem, copying",
		zap.String("src", srcDir),
		zap.String("dst", dstDir))

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "could not create partition directory %s", dstDir)
	}

	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeIO, "could not list partition directory %s", srcDir)
	}
	for _, de := range entries {
		if !de.Type().IsRegular() {
			continue
		}
		src := filepath.Join(srcDir, de.Name())
		dst := filepath.Join(dstDir, de.Name())
		if err := copyFile(src, dst); err != nil {
			return errors.Wrapf(err, errors.ErrorTypeIO, "could not copy partition file to %s", dst)
		}
	}
	return nil
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return linkErr.Err == syscall.EXDEV
	}
	return errors.Is(err, syscall.EXDEV)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
