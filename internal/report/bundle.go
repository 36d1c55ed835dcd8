package report

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
)

// Bundle creates a tar.gz archive of a directory. A failed write removes
// the partial archive.
func Bundle(source, target string) error {
	file, err := os.Create(target)
	if err != nil {
		return err
	}

	err = writeBundle(source, file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(target)
		return err
	}
	return nil
}

// writeBundle streams source as tar.gz into w. The tar footer and gzip
// trailer are only written on Close, so their errors are returned too.
func writeBundle(source string, w io.Writer) error {
	gzWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzWriter)

	err := filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, info.Name())
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(relPath)

		if err := tarWriter.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(tarWriter, f)
		return err
	})

	if cerr := tarWriter.Close(); err == nil {
		err = cerr
	}
	if cerr := gzWriter.Close(); err == nil {
		err = cerr
	}
	return err
}
