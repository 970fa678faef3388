// Package archive is the on-the-wire form of a delivery unit: a compressed
// tar of the unit directory, addressed by a BLAKE3 digest recorded in a
// checksum index next to the archives. Archives are zstd or lz4; readers
// detect which from the stream.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileName returns the archive file name of unit under DefaultCodec.
func FileName(unit string) string {
	return DefaultCodec.FileName(unit)
}

// epoch is the modification time written for every entry, so archives of
// identical trees are byte-identical.
var epoch = time.Unix(0, 0).UTC()

// Write archives the tree under srcDir to w. Entries are written in
// lexical path order with fixed timestamps. Returns the total uncompressed
// file size.
func Write(w io.Writer, srcDir string, codec Codec) (int64, error) {
	files, err := listFiles(srcDir)
	if err != nil {
		return 0, err
	}

	zw, err := codec.newWriter(w)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(zw)

	var total int64
	for _, rel := range files {
		n, err := addFile(tw, srcDir, rel)
		if err != nil {
			tw.Close()
			zw.Close()
			return 0, err
		}
		total += n
	}

	if err := tw.Close(); err != nil {
		zw.Close()
		return 0, fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, fmt.Errorf("close %s stream: %w", codec, err)
	}
	return total, nil
}

// WriteFile archives srcDir into the file at dst.
func WriteFile(dst, srcDir string, codec Codec) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create archive directory: %w", err)
	}
	f, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("failed to create archive file: %w", err)
	}
	n, err := Write(f, srcDir, codec)
	if err != nil {
		f.Close()
		return 0, err
	}
	return n, f.Close()
}

func listFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return fmt.Errorf("%s: not a regular file", p)
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func addFile(tw *tar.Writer, root, rel string) (int64, error) {
	f, err := os.Open(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	header := &tar.Header{
		Name:     rel,
		Size:     info.Size(),
		Mode:     0o644,
		ModTime:  epoch,
		Typeflag: tar.TypeReg,
		Format:   tar.FormatPAX,
	}
	if err := tw.WriteHeader(header); err != nil {
		return 0, fmt.Errorf("failed to write header for %s: %w", rel, err)
	}
	n, err := io.Copy(tw, f)
	if err != nil {
		return 0, fmt.Errorf("failed to write content for %s: %w", rel, err)
	}
	return n, nil
}

// ErrUnsafePath is returned for archive entries that would land outside
// the extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Extract unpacks an archive read from r into dstDir. Progress, if not nil,
// is called with the running count of extracted bytes.
func Extract(r io.Reader, dstDir string, progress func(int64)) error {
	zr, _, err := newReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var done int64
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}

		name := path.Clean(header.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return fmt.Errorf("%w: %q", ErrUnsafePath, header.Name)
		}
		target := filepath.Join(dstDir, filepath.FromSlash(name))

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			n, err := extractFile(tr, target)
			if err != nil {
				return fmt.Errorf("extract %s: %w", name, err)
			}
			done += n
			if progress != nil {
				progress(done)
			}
		default:
			return fmt.Errorf("unsupported archive entry %q (type %c)", header.Name, header.Typeflag)
		}
	}
}

func extractFile(r io.Reader, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err != nil {
		f.Close()
		return 0, err
	}
	return n, f.Close()
}
