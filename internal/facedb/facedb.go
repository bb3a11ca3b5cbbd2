// Package facedb manages the store of known-identity face embeddings. Each
// immediate subdirectory of the faces root names one identity; its image
// files are the identity's reference faces. The store re-embeds only what
// changed on disk and can poll the directory for hot reloads.
package facedb

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/newaysecurity/cctv-clocking/internal/vision"
)

// entry holds everything known about one identity.
type entry struct {
	name         string
	embeddings   [][]float32
	lastModified time.Time // newest mtime across backing images
	imagePaths   map[string]struct{}
}

// Info describes one identity for listings and the dashboard.
type Info struct {
	Name         string    `json:"name"`
	Images       int       `json:"images"`
	Embeddings   int       `json:"embeddings"`
	LastModified time.Time `json:"last_modified"`
}

// Database is the face template store. All methods are safe for concurrent
// use; Snapshot readers never observe a partially applied reload.
type Database struct {
	dir    string
	engine vision.Engine
	log    *slog.Logger

	mu    sync.RWMutex
	faces map[string]*entry

	watching  atomic.Bool
	watchStop chan struct{}
	watchDone chan struct{}
}

// New creates a Database rooted at dir, using engine for detection and
// embedding. The directory is created if missing.
func New(dir string, engine vision.Engine, log *slog.Logger) (*Database, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating faces directory: %w", err)
	}
	return &Database{
		dir:    dir,
		engine: engine,
		log:    log,
		faces:  make(map[string]*entry),
	}, nil
}

// imageFiles lists the image files directly inside dir, sorted by path.
// Extension matching is case-insensitive.
func imageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadAll scans the faces directory and rebuilds embeddings for every
// identity whose backing images changed. It returns true when the store was
// modified. Failures on individual images are logged and skipped; only a
// failure to read the root directory is an error.
func (db *Database) LoadAll(ctx context.Context) (bool, error) {
	return db.LoadAllProgress(ctx, nil)
}

// LoadAllProgress is LoadAll with a per-identity callback, invoked once for
// every identity directory before it is processed. Used by the CLI to report
// reload progress.
func (db *Database) LoadAllProgress(ctx context.Context, progress func(identity string)) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	start := time.Now()
	dirs, err := os.ReadDir(db.dir)
	if err != nil {
		return false, fmt.Errorf("reading faces directory: %w", err)
	}

	currentImages := make(map[string]struct{})
	updated := false

	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		name := d.Name()
		if progress != nil {
			progress(name)
		}

		paths, err := imageFiles(filepath.Join(db.dir, name))
		if err != nil {
			db.log.Error("failed to list images", "identity", name, "error", err)
			continue
		}
		if len(paths) == 0 {
			db.log.Warn("no images found for identity", "identity", name)
			continue
		}
		for _, p := range paths {
			currentImages[p] = struct{}{}
		}

		if existing, ok := db.faces[name]; ok && !needsUpdate(existing, paths) {
			continue
		}

		embeddings, maxMtime := db.processImages(ctx, name, paths)
		if len(embeddings) == 0 {
			db.log.Warn("no valid embeddings for identity", "identity", name)
			if _, ok := db.faces[name]; ok {
				delete(db.faces, name)
				updated = true
			}
			continue
		}

		pathSet := make(map[string]struct{}, len(paths))
		for _, p := range paths {
			pathSet[p] = struct{}{}
		}
		db.faces[name] = &entry{
			name:         name,
			embeddings:   embeddings,
			lastModified: maxMtime,
			imagePaths:   pathSet,
		}
		updated = true
		db.log.Info("identity updated", "identity", name, "embeddings", len(embeddings))
	}

	// Prune identities whose backing images all disappeared.
	for name, e := range db.faces {
		alive := false
		for p := range e.imagePaths {
			if _, ok := currentImages[p]; ok {
				alive = true
				break
			}
		}
		if !alive {
			delete(db.faces, name)
			updated = true
			db.log.Info("identity removed, images deleted", "identity", name)
		}
	}

	db.log.Info("face database loaded",
		"identities", len(db.faces),
		"took", time.Since(start))
	if len(db.faces) == 0 {
		db.log.Warn("face database is empty, add images to the faces directory")
	}
	return updated, nil
}

// needsUpdate reports whether an identity's embeddings must be recomputed:
// a previously unseen image path appeared, or a known image was modified
// after the stored fingerprint.
func needsUpdate(e *entry, paths []string) bool {
	for _, p := range paths {
		if _, ok := e.imagePaths[p]; !ok {
			return true
		}
		st, err := os.Stat(p)
		if err != nil {
			return true
		}
		if st.ModTime().After(e.lastModified) {
			return true
		}
	}
	return false
}

// processImages embeds every usable face image for one identity. It returns
// the embeddings in path order and the newest modification time seen.
func (db *Database) processImages(ctx context.Context, name string, paths []string) ([][]float32, time.Time) {
	var embeddings [][]float32
	var maxMtime time.Time

	for _, path := range paths {
		st, err := os.Stat(path)
		if err != nil {
			db.log.Error("failed to stat image", "path", path, "error", err)
			continue
		}
		if st.ModTime().After(maxMtime) {
			maxMtime = st.ModTime()
		}

		img, err := loadImage(path)
		if err != nil {
			db.log.Error("failed to load image", "path", path, "error", err)
			continue
		}

		boxes, err := db.engine.Detect(ctx, img)
		if err != nil {
			db.log.Error("face detection failed", "path", path, "error", err)
			continue
		}
		if len(boxes) == 0 {
			db.log.Warn("no face detected in image", "path", path)
			continue
		}

		box := largestBox(boxes)
		if len(boxes) > 1 {
			db.log.Warn("multiple faces in image, using largest", "path", path, "faces", len(boxes))
		}

		embs, err := db.engine.Embed(ctx, img, []vision.Box{box})
		if err != nil || len(embs) == 0 {
			db.log.Error("face embedding failed", "path", path, "error", err)
			continue
		}
		embeddings = append(embeddings, embs[0])
		db.log.Debug("embedding added", "identity", name, "path", path)
	}
	return embeddings, maxMtime
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

// largestBox picks the detection with the largest area, assumed to be the
// primary subject.
func largestBox(boxes []vision.Box) vision.Box {
	best := boxes[0]
	for _, b := range boxes[1:] {
		if b.Area() > best.Area() {
			best = b
		}
	}
	return best
}

// Snapshot returns a copy of the identity-to-embeddings map. Embedding
// slices per identity preserve load order.
func (db *Database) Snapshot() map[string][][]float32 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make(map[string][][]float32, len(db.faces))
	for name, e := range db.faces {
		embs := make([][]float32, len(e.embeddings))
		copy(embs, e.embeddings)
		out[name] = embs
	}
	return out
}

// Count returns the number of enrolled identities.
func (db *Database) Count() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.faces)
}

// Identities returns the enrolled identity names, sorted.
func (db *Database) Identities() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.faces))
	for name := range db.faces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Entries returns per-identity details for listings, sorted by name.
func (db *Database) Entries() []Info {
	db.mu.RLock()
	defer db.mu.RUnlock()

	infos := make([]Info, 0, len(db.faces))
	for _, e := range db.faces {
		infos = append(infos, Info{
			Name:         e.name,
			Images:       len(e.imagePaths),
			Embeddings:   len(e.embeddings),
			LastModified: e.lastModified,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Dir returns the faces root directory.
func (db *Database) Dir() string {
	return db.dir
}

// StartWatch launches a polling loop that reloads the store when the faces
// directory changes. Only one watcher runs at a time; a second call warns
// and returns.
func (db *Database) StartWatch(interval time.Duration) {
	if !db.watching.CompareAndSwap(false, true) {
		db.log.Warn("face database watcher already running")
		return
	}
	db.watchStop = make(chan struct{})
	db.watchDone = make(chan struct{})

	go db.watch(interval)
	db.log.Info("face database watcher started", "interval", interval)
}

func (db *Database) watch(interval time.Duration) {
	defer close(db.watchDone)

	for {
		select {
		case <-db.watchStop:
			return
		case <-time.After(interval):
		}

		if db.changed() {
			db.log.Info("changes detected in faces directory, reloading")
			if _, err := db.LoadAll(context.Background()); err != nil {
				db.log.Error("reload failed", "error", err)
			}
		}
	}
}

// changed reports whether the faces directory differs from the loaded state:
// a new identity directory, a modified known image, or a new image file for
// a known identity.
func (db *Database) changed() bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	dirs, err := os.ReadDir(db.dir)
	if err != nil {
		db.log.Error("watcher failed to read faces directory", "error", err)
		return false
	}

	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		name := d.Name()

		e, known := db.faces[name]
		if !known {
			db.log.Info("detected new identity directory", "identity", name)
			return true
		}

		paths, err := imageFiles(filepath.Join(db.dir, name))
		if err != nil {
			continue
		}
		for _, p := range paths {
			if _, ok := e.imagePaths[p]; !ok {
				db.log.Info("detected new image", "path", p)
				return true
			}
			if st, err := os.Stat(p); err == nil && st.ModTime().After(e.lastModified) {
				db.log.Info("detected modified image", "path", p)
				return true
			}
		}
	}
	return false
}

// StopWatch stops the polling loop with a bounded join.
func (db *Database) StopWatch() {
	if !db.watching.CompareAndSwap(true, false) {
		return
	}
	close(db.watchStop)
	select {
	case <-db.watchDone:
	case <-time.After(time.Second):
		db.log.Warn("face database watcher did not stop in time")
	}
	db.log.Info("face database watcher stopped")
}
