package camera

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirSource cycles through the image files of a local directory, acting as
// the secondary capture source when the network stream is unavailable. It is
// also handy for development without a camera.
type DirSource struct {
	dir   string
	files []string
	next  int
}

// NewDirSource creates a source backed by the given directory.
func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

// Open scans the directory for image files, sorted by name.
func (s *DirSource) Open() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("reading source directory: %w", err)
	}

	s.files = s.files[:0]
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".jpg", ".jpeg", ".png", ".gif":
			s.files = append(s.files, filepath.Join(s.dir, entry.Name()))
		}
	}
	sort.Strings(s.files)

	if len(s.files) == 0 {
		return fmt.Errorf("no image files in %s", s.dir)
	}
	s.next = 0
	return nil
}

// Read decodes the next image in the cycle.
func (s *DirSource) Read() (image.Image, error) {
	if len(s.files) == 0 {
		return nil, fmt.Errorf("source not open")
	}

	path := s.files[s.next]
	s.next = (s.next + 1) % len(s.files)

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return img, nil
}

// Close releases the file list.
func (s *DirSource) Close() error {
	s.files = nil
	return nil
}
