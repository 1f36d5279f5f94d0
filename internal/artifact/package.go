// Package artifact inspects the upgrade packages produced by pysilo: gzipped
// tarballs whose md5 member carries the content hash that identifies a build.
package artifact

import (
	"archive/tar"
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	fp "path/filepath"
	"sort"
	"strings"

	"bluelab/internal/common"

	"github.com/klauspost/compress/gzip"
)

const (
	UpgradePackagePattern = "*upgrade*.tgz"

	hashMemberSuffix = "md5"
	oneM             = 1024 * 1024 // read limit for the md5 member
)

// BuildArtifact is the identity of one build. VersionHash names the remote
// staging directory and is the version the device must report afterwards.
type BuildArtifact struct {
	VersionHash      string
	PackagePath      string
	LocalStagingPath string
}

// FindSingle returns the only file in dir matching pattern. No match, or
// more than one, is BuildArtifactNotFound.
func FindSingle(dir, pattern string) (string, error) {
	matches, err := Find(dir, pattern)
	if err != nil {
		return "", err
	}
	switch len(matches) {
	case 0:
		return "", common.Errorf(common.BuildArtifactNotFound, "no %s in %s", pattern, dir)
	case 1:
		return matches[0], nil
	default:
		return "", common.Errorf(common.BuildArtifactNotFound, "ambiguous %s in %s: %s", pattern, dir, strings.Join(matches, ", "))
	}
}

// Find returns the regular files in dir matching pattern, sorted.
func Find(dir, pattern string) ([]string, error) {
	matches, err := fp.Glob(fp.Join(dir, pattern))
	if err != nil {
		return nil, common.WrapErrNo(common.BuildArtifactNotFound, err)
	}
	files := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// FindUpgradePackage locates the single upgrade package in a pysilo output
// directory.
func FindUpgradePackage(outputDir string) (string, error) {
	return FindSingle(outputDir, UpgradePackagePattern)
}

// ReadVersionHash returns the first field of the first line of the first
// member whose name ends in "md5".
func ReadVersionHash(pkg string) (string, error) {
	var hash string
	found := false
	err := walk(pkg, func(h *tar.Header, r io.Reader) (bool, error) {
		if h.Typeflag != tar.TypeReg || !strings.HasSuffix(h.Name, hashMemberSuffix) {
			return false, nil
		}
		found = true
		scanner := bufio.NewScanner(io.LimitReader(r, oneM))
		if scanner.Scan() {
			if fields := strings.Fields(scanner.Text()); len(fields) > 0 {
				hash = fields[0]
			}
		}
		return true, scanner.Err()
	})
	if err != nil {
		return "", common.WrapErrNo(common.HashExtractionErr, err)
	}
	if !found {
		return "", common.Errorf(common.HashExtractionErr, "no md5 member in %s", pkg)
	}
	if hash == "" {
		return "", common.Errorf(common.HashExtractionErr, "empty md5 member in %s", pkg)
	}
	return hash, nil
}

// Inspect locates the upgrade package under outputDir and reads its hash.
func Inspect(outputDir string) (BuildArtifact, error) {
	pkg, err := FindUpgradePackage(outputDir)
	if err != nil {
		return BuildArtifact{}, err
	}
	hash, err := ReadVersionHash(pkg)
	if err != nil {
		return BuildArtifact{}, err
	}
	return BuildArtifact{VersionHash: hash, PackagePath: pkg, LocalStagingPath: outputDir}, nil
}

// Extract unpacks pkg into dest, creating dest if needed.
func Extract(pkg, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return walk(pkg, func(h *tar.Header, r io.Reader) (bool, error) {
		return false, writeEntry(dest, h, h.Name, r)
	})
}

// ExtractMember unpacks the first regular member whose base name starts
// with prefix into dest, flattened, and returns its path.
func ExtractMember(pkg, dest, prefix string) (string, error) {
	var extracted string
	err := walk(pkg, func(h *tar.Header, r io.Reader) (bool, error) {
		base := fp.Base(h.Name)
		if h.Typeflag != tar.TypeReg || !strings.HasPrefix(base, prefix) {
			return false, nil
		}
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return true, err
		}
		extracted = fp.Join(dest, base)
		return true, writeEntry(dest, h, base, r)
	})
	if err != nil {
		return "", err
	}
	if extracted == "" {
		return "", common.Errorf(common.ArchiveErr, "no %s* member in %s", prefix, pkg)
	}
	return extracted, nil
}

// walk calls fn for each entry of the gzipped tarball until fn reports done.
func walk(pkg string, fn func(h *tar.Header, r io.Reader) (done bool, err error)) error {
	f, err := os.Open(pkg)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%s: %w", pkg, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", pkg, err)
		}
		done, err := fn(h, tr)
		if err != nil || done {
			return err
		}
	}
}

func writeEntry(dest string, h *tar.Header, name string, r io.Reader) error {
	target, err := safeJoin(dest, name)
	if err != nil {
		return err
	}
	switch h.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(target, 0o755)
	case tar.TypeReg:
		if err := os.MkdirAll(fp.Dir(target), 0o755); err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, h.FileInfo().Mode().Perm()|0o600)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, r); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	case tar.TypeSymlink:
		if err := os.MkdirAll(fp.Dir(target), 0o755); err != nil {
			return err
		}
		os.Remove(target)
		return os.Symlink(h.Linkname, target)
	default:
		return nil
	}
}

// safeJoin keeps archive members inside dest.
func safeJoin(dest, name string) (string, error) {
	target := fp.Join(dest, name)
	rel, err := fp.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(fp.Separator)) {
		return "", fmt.Errorf("archive member %q escapes %s", name, dest)
	}
	return target, nil
}
