package forge

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

////////////////////////////////////////////////////////////////////////////////
// Artifact store (disk, one directory per build)
////////////////////////////////////////////////////////////////////////////////

type ArtifactStore interface {
	BuildDir(buildID string) string
	EnsureBuildDir(buildID string) (string, error)
	WriteFile(buildID, relPath string, data []byte) (string, error) // returns relative path
	ListFiles(buildID string) ([]string, error)                     // returns relative paths
	ReadFile(buildID, relPath string) ([]byte, error)
	RemoveBuild(buildID string) error
}

type FSArtifacts struct {
	root string
}

func NewFSArtifacts(root string) *FSArtifacts {
	return &FSArtifacts{root: root}
}

func (a *FSArtifacts) BuildDir(buildID string) string {
	return filepath.Join(a.root, buildID)
}

func (a *FSArtifacts) EnsureBuildDir(buildID string) (string, error) {
	dir := a.BuildDir(buildID)
	if err := os.MkdirAll(dir, dirModePrivateRead); err != nil {
		return "", err
	}
	return dir, nil
}

func (a *FSArtifacts) WriteFile(buildID, relPath string, data []byte) (string, error) {
	dir, err := a.EnsureBuildDir(buildID)
	if err != nil {
		return "", err
	}
	relPath = filepath.Clean(relPath)
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", errors.New("invalid relPath")
	}
	full := filepath.Join(dir, relPath)
	mkdirErr := os.MkdirAll(filepath.Dir(full), dirModePrivateRead)
	if mkdirErr != nil {
		return "", mkdirErr
	}
	writeErr := os.WriteFile(full, data, fileModePrivate)
	if writeErr != nil {
		return "", writeErr
	}
	return filepath.ToSlash(relPath), nil
}

func (a *FSArtifacts) ListFiles(buildID string) ([]string, error) {
	root := a.BuildDir(buildID)
	var files []string
	_, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, _ error) error {
		if d == nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (a *FSArtifacts) ReadFile(buildID, relPath string) ([]byte, error) {
	dir := a.BuildDir(buildID)
	relPath = filepath.Clean(relPath)
	if strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return nil, errors.New("invalid relPath")
	}
	full, err := securejoin.SecureJoin(dir, relPath)
	if err != nil {
		return nil, errors.New("invalid relPath")
	}
	// #nosec G703 -- full path is constrained by relPath guards and securejoin above.
	return os.ReadFile(full)
}

func (a *FSArtifacts) RemoveBuild(buildID string) error {
	return os.RemoveAll(a.BuildDir(buildID))
}
