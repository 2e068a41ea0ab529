package utils

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var ErrPathTraversal = errors.New("path escapes destination directory")

// EntryFilter decides whether an archive entry, named with forward slashes,
// is extracted. A nil filter keeps every entry.
type EntryFilter func(name string) bool

// Compress takes a path to a file or directory and creates a .tar.gz file
// at the outputPath location. Entry names are relative to path.
func Compress(path, outputPath string) error {
	tarFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer tarFile.Close()

	gzw := gzip.NewWriter(tarFile)
	defer gzw.Close()

	tw := tar.NewWriter(gzw)
	defer tw.Close()

	return filepath.Walk(path, func(file string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(path, file)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		header, err := tar.FileInfoHeader(info, file)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}

		if !info.IsDir() {
			data, err := os.Open(file)
			if err != nil {
				return err
			}
			defer data.Close()
			if _, err := io.Copy(tw, data); err != nil {
				return fmt.Errorf("%s (%d bytes): %w", header.Name, header.Size, err)
			}
		}
		return nil
	})
}

// Decompress unpacks a .zip, .tar, .tar.gz or .tgz archive into baseDir.
// Entries that would land outside baseDir fail the whole extraction with
// ErrPathTraversal; links are skipped.
func Decompress(archivePath, baseDir string, keep EntryFilter) error {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return err
	}
	name := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return decompressZip(archivePath, baseDir, keep)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return decompressTar(archivePath, baseDir, keep, true)
	case strings.HasSuffix(name, ".tar"):
		return decompressTar(archivePath, baseDir, keep, false)
	default:
		return fmt.Errorf("unsupported archive format: %s", filepath.Base(archivePath))
	}
}

func decompressTar(tarPath, baseDir string, keep EntryFilter, gzipped bool) error {
	tarFile, err := os.Open(tarPath)
	if err != nil {
		return err
	}
	defer tarFile.Close()

	var r io.Reader = tarFile
	if gzipped {
		gzr, err := gzip.NewReader(tarFile)
		if err != nil {
			return err
		}
		defer gzr.Close()
		r = gzr
	}

	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		} else if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return err
		}

		target, err := entryTarget(baseDir, header.Name)
		if err != nil {
			return err
		}
		if keep != nil && !keep(cleanEntryName(header.Name)) {
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeEntry(target, fs.FileMode(header.Mode), tr); err != nil {
				return err
			}
		}
	}
}

func decompressZip(zipPath, baseDir string, keep EntryFilter) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := entryTarget(baseDir, f.Name)
		if err != nil {
			return err
		}
		if keep != nil && !keep(cleanEntryName(f.Name)) {
			continue
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
		case mode.IsRegular():
			rc, err := f.Open()
			if err != nil {
				return err
			}
			err = writeEntry(target, mode, rc)
			rc.Close()
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func cleanEntryName(name string) string {
	return strings.TrimPrefix(filepath.ToSlash(filepath.Clean(filepath.FromSlash(name))), "/")
}

func entryTarget(baseDir, name string) (string, error) {
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}
	target := filepath.Join(baseDir, filepath.FromSlash(name))
	if !WithinDir(baseDir, target) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, name)
	}
	return target, nil
}

func writeEntry(target string, mode fs.FileMode, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	perm := mode.Perm()
	if perm == 0 {
		perm = 0644
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
