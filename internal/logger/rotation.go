package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RotatingWriter writes to a log file and rotates it by size. Rotated
// files carry a timestamp suffix and are optionally gzipped; files older
// than maxAge days are swept on startup.
type RotatingWriter struct {
	filename    string
	maxSize     int64 // bytes
	maxAge      int   // days
	compress    bool
	currentFile *os.File
	currentSize int64
}

// NewRotatingWriter opens filename for appending and starts an old-file
// sweep in the background.
func NewRotatingWriter(filename string, maxSizeMB int, maxAge int, compress bool) (*RotatingWriter, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat log file: %w", err)
	}

	rw := &RotatingWriter{
		filename:    filename,
		maxSize:     int64(maxSizeMB) * 1024 * 1024,
		maxAge:      maxAge,
		compress:    compress,
		currentFile: file,
		currentSize: info.Size(),
	}

	go rw.sweep()

	return rw, nil
}

// Write appends to the current file, rotating first if the write would
// push it past maxSize.
func (w *RotatingWriter) Write(p []byte) (n int, err error) {
	if w.currentSize+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err = w.currentFile.Write(p)
	w.currentSize += int64(n)
	return n, err
}

// Close closes the current log file
func (w *RotatingWriter) Close() error {
	if w.currentFile != nil {
		return w.currentFile.Close()
	}
	return nil
}

func (w *RotatingWriter) rotate() error {
	if err := w.currentFile.Close(); err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405")
	rotatedName := fmt.Sprintf("%s.%s", w.filename, timestamp)

	if err := os.Rename(w.filename, rotatedName); err != nil {
		return err
	}

	if w.compress {
		go w.compressFile(rotatedName)
	}

	file, err := os.OpenFile(w.filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	w.currentFile = file
	w.currentSize = 0

	return nil
}

func (w *RotatingWriter) compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}
	defer dst.Close()

	gzw := gzip.NewWriter(dst)
	defer gzw.Close()

	if _, err := io.Copy(gzw, src); err != nil {
		return err
	}

	return os.Remove(filename)
}

// sweep removes rotated files older than maxAge days
func (w *RotatingWriter) sweep() {
	if w.maxAge <= 0 {
		return
	}

	dir := filepath.Dir(w.filename)
	base := filepath.Base(w.filename)

	files, err := filepath.Glob(filepath.Join(dir, base+".*"))
	if err != nil {
		return
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}

	var infos []fileInfo
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		infos = append(infos, fileInfo{
			path:    file,
			modTime: info.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].modTime.Before(infos[j].modTime)
	})

	cutoff := time.Now().AddDate(0, 0, -w.maxAge)
	for _, info := range infos {
		if info.modTime.Before(cutoff) {
			os.Remove(info.path)
			if !strings.HasSuffix(info.path, ".gz") {
				os.Remove(info.path + ".gz")
			}
		}
	}
}
