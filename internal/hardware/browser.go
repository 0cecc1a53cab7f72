package hardware

import (
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// mediaKinds maps the file extensions the browser lists to their kind.
var mediaKinds = map[string]string{
	".jpg": "picture",
	".mp4": "video",
}

// FileBrowser handles the logic for reading the media directory.
type FileBrowser struct {
	RootPath string // e.g. /var/lib/owlcam/media
}

// Folders returns the sub-directories of RootPath (alphabetical) with the
// number of media files in each.
func (fb *FileBrowser) Folders() ([]FolderInfo, error) {
	dirs, err := fb.getSortedDirs()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Error("Folder does not exist, creating it", "path", fb.RootPath)
			if err := os.MkdirAll(fb.RootPath, 0755); err != nil {
				slog.Error("Failed to create root directory", "err", err)
				return nil, err
			}
			return nil, nil
		}

		if errors.Is(err, fs.ErrPermission) {
			slog.Error("Insufficient permissions to open folder", "path", fb.RootPath)
		}
		return nil, err
	}

	res := make([]FolderInfo, 0, len(dirs))
	for _, d := range dirs {
		files, err := fb.getSortedFiles(filepath.Join(fb.RootPath, d.Name()))
		if err != nil {
			slog.Error("failed to read media folder", "folder", d.Name(), "err", err)
			return nil, err
		}
		res = append(res, FolderInfo{
			Name:       d.Name(),
			NumOfItems: uint32(len(files)),
		})
	}
	return res, nil
}

// Files returns the media files inside folder (alphabetical). An empty folder
// name lists the files stored directly in RootPath.
func (fb *FileBrowser) Files(folder string) ([]MediaFileInfo, error) {
	dir, err := fb.folderPath(folder)
	if err != nil {
		return nil, err
	}

	files, err := fb.getSortedFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("folder '%s' not found or empty", folder)
	}

	res := make([]MediaFileInfo, 0, len(files))
	for _, f := range files {
		info, err := f.Info()
		if err != nil {
			return nil, err
		}

		absPath, _ := filepath.Abs(filepath.Join(dir, f.Name()))
		res = append(res, MediaFileInfo{
			// Consistent ID (CRC32 of filename)
			ID:       uint16(crc32.ChecksumIEEE([]byte(f.Name()))),
			FileName: f.Name(),
			Path:     absPath,
			Kind:     mediaKinds[strings.ToLower(filepath.Ext(f.Name()))],
			SizeKB:   uint32(info.Size() / 1024),
		})
	}
	return res, nil
}

// folderPath resolves folder below RootPath. Only direct children are
// addressable.
func (fb *FileBrowser) folderPath(folder string) (string, error) {
	if folder == "" {
		return fb.RootPath, nil
	}
	if folder == "." || folder == ".." || strings.ContainsAny(folder, `/\`) {
		return "", fmt.Errorf("invalid folder name %q", folder)
	}
	return filepath.Join(fb.RootPath, folder), nil
}

func (fb *FileBrowser) getSortedDirs() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(fb.RootPath)
	if err != nil {
		return nil, err
	}

	var dirs []os.DirEntry
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e)
		}
	}

	// Sort alphabetically by name
	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].Name() < dirs[j].Name()
	})

	return dirs, nil
}

func (fb *FileBrowser) getSortedFiles(path string) ([]os.DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}

	var files []os.DirEntry
	for _, e := range entries {
		// Filter: Must be file AND a known media extension
		if e.IsDir() {
			continue
		}
		if _, ok := mediaKinds[strings.ToLower(filepath.Ext(e.Name()))]; ok {
			files = append(files, e)
		}
	}

	// Sort alphabetically by name
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name() < files[j].Name()
	})

	return files, nil
}
