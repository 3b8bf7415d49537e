// Package store implements the on-disk state rendezvous described in
// SPEC_FULL.md §6: every record is a JSON file written via a
// write-tempfile-then-rename sequence so a crash mid-write never leaves a
// partially written file for a restarted daemon to read.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/libra/pkg/apierrors"
)

// Store roots every record under a base directory, e.g. /var/lib/libra/state.
type Store struct {
	base string
}

// New returns a Store rooted at base. Callers are responsible for creating
// base itself (typically cmd/libra at daemon startup).
func New(base string) *Store {
	return &Store{base: base}
}

// podDir is the directory holding one pod's record.json and child state.
func (s *Store) podDir(podID string) string {
	return filepath.Join(s.base, "pods", podID)
}

func (s *Store) containerDir(name string) string {
	return filepath.Join(s.base, "containers", name)
}

func (s *Store) composeDir(project string) string {
	return filepath.Join(s.base, "compose", project)
}

// WritePod atomically writes v to <base>/pods/<podID>/record.json.
func (s *Store) WritePod(podID string, v interface{}) error {
	return writeJSON(filepath.Join(s.podDir(podID), "record.json"), v)
}

// ReadPod reads a pod record into v.
func (s *Store) ReadPod(podID string, v interface{}) error {
	return readJSON(filepath.Join(s.podDir(podID), "record.json"), "pod", podID, v)
}

// RemovePod deletes a pod's entire state directory.
func (s *Store) RemovePod(podID string) error {
	return os.RemoveAll(s.podDir(podID))
}

// ListPods returns the pod IDs with a record on disk.
func (s *Store) ListPods() ([]string, error) {
	return listDirs(filepath.Join(s.base, "pods"))
}

// WriteContainer atomically writes v to <base>/containers/<name>/record.json.
func (s *Store) WriteContainer(name string, v interface{}) error {
	return writeJSON(filepath.Join(s.containerDir(name), "record.json"), v)
}

// ReadContainer reads a container record into v.
func (s *Store) ReadContainer(name string, v interface{}) error {
	return readJSON(filepath.Join(s.containerDir(name), "record.json"), "container", name, v)
}

// RemoveContainer deletes a container's state directory.
func (s *Store) RemoveContainer(name string) error {
	return os.RemoveAll(s.containerDir(name))
}

// ListContainers returns the container names with a record on disk.
func (s *Store) ListContainers() ([]string, error) {
	return listDirs(filepath.Join(s.base, "containers"))
}

// WriteProject atomically writes v to <base>/compose/<project>/record.json.
func (s *Store) WriteProject(project string, v interface{}) error {
	return writeJSON(filepath.Join(s.composeDir(project), "record.json"), v)
}

// ReadProject reads a compose project record into v.
func (s *Store) ReadProject(project string, v interface{}) error {
	return readJSON(filepath.Join(s.composeDir(project), "record.json"), "compose project", project, v)
}

// RemoveProject deletes a compose project's state directory.
func (s *Store) RemoveProject(project string) error {
	return os.RemoveAll(s.composeDir(project))
}

func writeJSON(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return apierrors.Wrap(apierrors.ErrInternal, "create state dir", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apierrors.Wrap(apierrors.ErrInternal, "marshal state record", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return apierrors.Wrap(apierrors.ErrInternal, "write state record", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return apierrors.Wrap(apierrors.ErrInternal, "rename state record", err)
	}
	return nil
}

func readJSON(path, kind, name string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apierrors.NotFound(kind, name)
		}
		return apierrors.Wrap(apierrors.ErrInternal, fmt.Sprintf("read %s record", kind), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apierrors.Wrap(apierrors.ErrInternal, fmt.Sprintf("decode %s record", kind), err)
	}
	return nil
}

func listDirs(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apierrors.Wrap(apierrors.ErrInternal, "list state dir", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
