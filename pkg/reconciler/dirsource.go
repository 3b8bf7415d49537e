package reconciler

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/cuemby/libra/pkg/apierrors"
	"github.com/cuemby/libra/pkg/log"
	"github.com/cuemby/libra/pkg/specfile"
	"github.com/cuemby/libra/pkg/types"
)

// DirSource is the manifest-directory Source: every file in dir that
// decodes as a Pod document is one desired pod, keyed by its spec name
// rather than the file's basename.
type DirSource struct {
	dir     string
	watcher *fsnotify.Watcher
	events  chan struct{}
}

// NewDirSource watches dir for changes and returns a Source over its pod
// manifests.
func NewDirSource(dir string) (*DirSource, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apierrors.Wrap(apierrors.ErrInternal, "create manifest dir", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrInternal, "create manifest watcher", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, apierrors.Wrap(apierrors.ErrInternal, "watch manifest dir", err)
	}

	ds := &DirSource{dir: dir, watcher: watcher, events: make(chan struct{}, 1)}
	go ds.forward()
	return ds, nil
}

func (d *DirSource) forward() {
	logger := log.WithComponent("reconciler.dirsource")
	for {
		select {
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			_ = ev
			select {
			case d.events <- struct{}{}:
			default:
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("manifest watcher error")
		}
	}
}

// Events implements Source.
func (d *DirSource) Events() <-chan struct{} {
	return d.events
}

// Close stops watching the directory.
func (d *DirSource) Close() error {
	return d.watcher.Close()
}

// Load implements Source: reads every regular file in the directory, skips
// anything that doesn't decode as a valid Pod document, and keys the
// result by the pod spec's own name rather than the file's basename (a
// manifest's filename need not match the pod it describes).
func (d *DirSource) Load(ctx context.Context) (map[string]Desired, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.ErrInternal, "list manifest dir", err)
	}

	logger := log.WithComponent("reconciler.dirsource")
	out := make(map[string]Desired, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(d.dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("failed to read manifest")
			continue
		}
		doc, err := specfile.Decode(data)
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("invalid manifest, skipping")
			continue
		}
		if doc.Kind != types.KindPod || doc.Pod == nil {
			continue
		}
		out[doc.Pod.Name] = Desired{Spec: doc.Pod, Hash: specfile.Hash(data)}
	}
	return out, nil
}
