// Package transport moves build output to and from the staging server over
// SFTP.
package transport

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"bluelab/internal/common"
	"bluelab/internal/sshconn"

	"github.com/pkg/sftp"
	"go.uber.org/zap"
)

// StagedMode is applied to everything uploaded so the upgrade server and
// other lab users can read and clean it up.
const StagedMode os.FileMode = 0o777

// RemoteFS is the subset of an SFTP client the stager needs. Paths are
// slash separated.
type RemoteFS interface {
	Stat(p string) (os.FileInfo, error)
	MkdirAll(p string) error
	Create(p string) (io.WriteCloser, error)
	Open(p string) (io.ReadCloser, error)
	ReadDir(p string) ([]os.FileInfo, error)
	Chmod(p string, mode os.FileMode) error
	Rename(oldp, newp string) error
	// Remove deletes a file or an empty directory.
	Remove(p string) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (RemoteFS, error)
}

// SFTPDialer connects to the staging server with the lab key.
type SFTPDialer struct {
	Addr    string
	Options sshconn.Options
}

func (d SFTPDialer) Dial(ctx context.Context) (RemoteFS, error) {
	conn, err := sshconn.Dial(ctx, d.Addr, d.Options)
	if err != nil {
		return nil, err
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &sftpFS{Client: client, closeConn: conn.Close}, nil
}

type sftpFS struct {
	*sftp.Client
	closeConn func() error
}

func (f *sftpFS) Create(p string) (io.WriteCloser, error) { return f.Client.Create(p) }

func (f *sftpFS) Open(p string) (io.ReadCloser, error) { return f.Client.Open(p) }

// Rename uses the posix-rename extension so an existing target is replaced
// atomically.
func (f *sftpFS) Rename(oldp, newp string) error { return f.Client.PosixRename(oldp, newp) }

func (f *sftpFS) Close() error {
	err := f.Client.Close()
	if cerr := f.closeConn(); err == nil {
		err = cerr
	}
	return err
}

type Stager struct {
	dialer Dialer
	logger *zap.Logger
}

func NewStager(dialer Dialer, logger *zap.Logger) *Stager {
	return &Stager{dialer: dialer, logger: logger}
}

// Upload copies localDir to remoteDir unless remoteDir already exists, and
// reports whether anything was copied. Uploaded entries, remoteDir and
// chmodRoot get StagedMode.
//
// The copy goes to remoteDir+PartialSuffix and is renamed into place once
// complete, so an existing remoteDir always holds a full upload.
func (s *Stager) Upload(ctx context.Context, localDir, remoteDir, chmodRoot string) (bool, error) {
	rfs, err := s.dialer.Dial(ctx)
	if err != nil {
		return false, common.WrapErrNo(common.TransferErr, err)
	}
	defer rfs.Close()

	if _, err := rfs.Stat(remoteDir); err == nil {
		s.logger.Info("remote path exists, skipping upload", zap.String("remote", remoteDir))
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, common.WrapErrNo(common.TransferErr, err)
	}

	partial := remoteDir + PartialSuffix
	if err := removeAll(rfs, partial); err != nil {
		return false, common.WrapErrNo(common.TransferErr, err)
	}
	s.logger.Info("uploading", zap.String("local", localDir), zap.String("remote", remoteDir))
	if err := putDir(ctx, rfs, localDir, partial); err != nil {
		if rerr := removeAll(rfs, partial); rerr != nil {
			s.logger.Warn("remove partial upload", zap.String("remote", partial), zap.Error(rerr))
		}
		return false, common.WrapErrNo(common.TransferErr, err)
	}
	if err := rfs.Rename(partial, remoteDir); err != nil {
		return false, common.WrapErrNo(common.TransferErr, err)
	}
	for _, p := range []string{remoteDir, chmodRoot} {
		if p == "" {
			continue
		}
		if err := rfs.Chmod(p, StagedMode); err != nil {
			return false, common.WrapErrNo(common.TransferErr, err)
		}
	}
	return true, nil
}

// PartialSuffix marks an upload still in progress.
const PartialSuffix = ".partial"

func putDir(ctx context.Context, rfs RemoteFS, localDir, remoteDir string) error {
	if err := rfs.MkdirAll(remoteDir); err != nil {
		return err
	}
	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil || rel == "." {
			return err
		}
		target := path.Join(remoteDir, filepath.ToSlash(rel))
		switch {
		case d.IsDir():
			if err := rfs.MkdirAll(target); err != nil {
				return err
			}
		case d.Type().IsRegular():
			if err := putFile(rfs, p, target); err != nil {
				return err
			}
		default:
			return nil
		}
		return rfs.Chmod(target, StagedMode)
	})
}

// removeAll deletes p and everything below it. A missing p is not an error.
func removeAll(rfs RemoteFS, p string) error {
	info, err := rfs.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		entries, err := rfs.ReadDir(p)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := removeAll(rfs, path.Join(p, e.Name())); err != nil {
				return err
			}
		}
	}
	return rfs.Remove(p)
}

// Download copies remotePath into localDir. A directory is copied
// recursively as localDir/<base>; a file lands at localDir/<base>.
func (s *Stager) Download(ctx context.Context, remotePath, localDir string) (string, error) {
	rfs, err := s.dialer.Dial(ctx)
	if err != nil {
		return "", common.WrapErrNo(common.PrepareErr, err)
	}
	defer rfs.Close()

	info, err := rfs.Stat(remotePath)
	if err != nil {
		return "", common.WrapErrNo(common.PrepareErr, err)
	}
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return "", common.WrapErrNo(common.PrepareErr, err)
	}
	local := filepath.Join(localDir, path.Base(remotePath))
	s.logger.Info("downloading", zap.String("remote", remotePath), zap.String("local", local))
	if info.IsDir() {
		err = getDir(ctx, rfs, remotePath, local)
	} else {
		err = getFile(rfs, remotePath, local)
	}
	if err != nil {
		return "", common.WrapErrNo(common.PrepareErr, err)
	}
	return local, nil
}

func putFile(rfs RemoteFS, local, remote string) error {
	in, err := os.Open(local)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := rfs.Create(remote)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func getDir(ctx context.Context, rfs RemoteFS, remote, local string) error {
	if err := os.MkdirAll(local, 0o755); err != nil {
		return err
	}
	entries, err := rfs.ReadDir(remote)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		r, l := path.Join(remote, e.Name()), filepath.Join(local, e.Name())
		switch {
		case e.IsDir():
			err = getDir(ctx, rfs, r, l)
		case e.Mode().IsRegular():
			err = getFile(rfs, r, l)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func getFile(rfs RemoteFS, remote, local string) error {
	in, err := rfs.Open(remote)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(local)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
