package revdb

import (
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/errors/oserror"
	"go.etcd.io/bbolt"
)

// CopyDatabase copies the closed database bundle at src to a new bundle at
// dst and gives the copy fresh UUIDs. opt is used to open the copy, so it
// must carry the encryption key if there is one.
//
// A missing src or a missing parent of dst fails with NotFound. An existing
// dst fails with a POSIX EEXIST error and is left untouched. Any other
// failure removes whatever was written to dst.
func CopyDatabase(src, dst string, opt Options) (err error) {
	logger := opt.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opt.Engine == EngineMemory {
		return engineErrf(InvalidParameter, "cannot copy an in-memory database")
	}
	fi, err := os.Stat(src)
	if oserror.IsNotExist(err) {
		return notFoundf("database %s does not exist", src)
	} else if err != nil {
		return ioErr(err)
	}
	if !fi.IsDir() {
		return engineErrf(NotADatabase, "%s is not a database bundle", src)
	}
	engine := detectEngine(src)
	if engine == "" {
		return notFoundf("no database in %s", src)
	}
	if opt.Engine != "" && opt.Engine != engine {
		return engineErrf(WrongFormat, "database %s uses the %s engine, not %s", src, engine, opt.Engine)
	}

	if err := os.Mkdir(dst, 0755); err != nil {
		switch {
		case oserror.IsExist(err):
			return &Error{Domain: POSIXDomain, Code: int(syscall.EEXIST), Message: dst + " already exists", Err: err}
		case oserror.IsNotExist(err):
			return notFoundf("parent directory of %s does not exist", dst)
		default:
			return ioErr(err)
		}
	}
	defer func() {
		if err != nil {
			logger.Warn("revdb: copy failed", slog.String("src", src), slog.String("dst", dst), slog.Any("err", err))
			os.RemoveAll(dst)
		}
	}()

	if err := copyTree(src, dst); err != nil {
		return err
	}

	opt.Engine = engine
	opt.Create = false
	opt.ReadOnly = false
	db, err := Open(dst, opt)
	if err != nil {
		return err
	}
	err = db.Write(func(tx *Tx) error {
		return tx.resetUUIDs()
	})
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	return err
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return ioErr(err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return ioErr(err)
		}
		if rel == "." {
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return ioErr(os.Mkdir(target, 0755))
		}
		if d.Name() == "LOCK" {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return ioErr(err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return ioErr(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return ioErr(errors.Wrapf(err, "copying %s", src))
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return ioErr(err)
	}
	return ioErr(out.Close())
}

// DeleteDatabase removes the database bundle at path. A missing path is not
// an error; a directory that is not a bundle is refused with NotADatabase,
// and a bolt database open elsewhere fails with Busy.
func DeleteDatabase(path string) error {
	fi, err := os.Stat(path)
	if oserror.IsNotExist(err) {
		return nil
	} else if err != nil {
		return ioErr(err)
	}
	if !fi.IsDir() {
		return engineErrf(NotADatabase, "%s is not a database bundle", path)
	}
	engine := detectEngine(path)
	if engine == "" {
		return engineErrf(NotADatabase, "no database in %s", path)
	}
	if engine == EngineBolt {
		if err := checkBoltNotInUse(filepath.Join(path, boltFileName)); err != nil {
			return err
		}
	}
	return ioErr(os.RemoveAll(path))
}

func checkBoltNotInUse(file string) error {
	bdb, err := bbolt.Open(file, 0666, &bbolt.Options{Timeout: 100 * time.Millisecond, ReadOnly: true})
	if errors.Is(err, bbolt.ErrTimeout) {
		return engineErrf(Busy, "database %s is in use", file)
	} else if err != nil {
		return storageErr(err)
	}
	return storageErr(bdb.Close())
}
