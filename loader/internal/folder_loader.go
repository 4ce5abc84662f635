package internal

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"contractrag/extract"
	"contractrag/types"
)

const (
	StateArchived = iota
	StateBad
)

// LoadedFile is a settled source file with its extracted text.
type LoadedFile struct {
	Path    string
	Title   string
	Kind    extract.FileKind
	Text    string
	ModTime time.Time
	Err     error
}

// FolderLoader watches a source directory and hands over files once they
// have stopped changing for MonitoringTime.
type FolderLoader struct {
	cfg       types.Config
	extractor extract.Extractor
	logger    *slog.Logger
	tick      time.Duration

	FileMutex       sync.Mutex
	FileFirstSeen   map[string]time.Time
	FilesProcessing map[string]bool
}

func NewFolderLoader(cfg types.Config, extractor extract.Extractor, logger *slog.Logger) (*FolderLoader, error) {
	if err := createDirectories(cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FolderLoader{
		cfg:             cfg,
		extractor:       extractor,
		logger:          logger,
		tick:            time.Second,
		FileFirstSeen:   make(map[string]time.Time),
		FilesProcessing: make(map[string]bool),
	}, nil
}

func (l *FolderLoader) WatchFile(ctx context.Context, fileChan chan<- string) {
	l.logger.Info("start monitoring folder", "dir", l.cfg.SourceDir)

	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()
	defer l.logger.Info("file watcher stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.scan(ctx, fileChan) {
				return
			}
		}
	}
}

// scan does one pass over the source directory. It returns false once ctx is done.
func (l *FolderLoader) scan(ctx context.Context, fileChan chan<- string) bool {
	files, err := os.ReadDir(l.cfg.SourceDir)
	if err != nil {
		l.logger.Error("error while reading source directory", "error", err)
		return true
	}

	currentFiles := make(map[string]bool)

	for _, file := range files {
		if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
			continue
		}

		filePath := filepath.Join(l.cfg.SourceDir, file.Name())
		currentFiles[filePath] = true

		l.FileMutex.Lock()
		if l.FilesProcessing[filePath] {
			l.FileMutex.Unlock()
			continue
		}

		firstSeen, exists := l.FileFirstSeen[filePath]
		if !exists {
			l.FileFirstSeen[filePath] = time.Now()
			l.FileMutex.Unlock()
			l.logger.Info("new file detected", "path", filePath)
			continue
		}
		l.FileMutex.Unlock()

		if time.Since(firstSeen) <= l.cfg.MonitoringTime {
			continue
		}

		l.FileMutex.Lock()
		l.FilesProcessing[filePath] = true
		l.FileMutex.Unlock()

		select {
		case fileChan <- filePath:
		case <-ctx.Done():
			return false
		}
	}

	l.FileMutex.Lock()
	for filePath := range l.FileFirstSeen {
		if !currentFiles[filePath] {
			delete(l.FileFirstSeen, filePath)
			delete(l.FilesProcessing, filePath)
		}
	}
	l.FileMutex.Unlock()
	return true
}

func (l *FolderLoader) ProcessFile(ctx context.Context, fileChan <-chan string, docChan chan<- *LoadedFile) {
	defer l.logger.Info("file processor stopped")
	defer close(docChan)

	for {
		select {
		case <-ctx.Done():
			return
		case filePath, ok := <-fileChan:
			if !ok {
				return
			}

			l.logger.Info("processing file", "path", filePath)
			doc := l.Load(ctx, filePath)

			select {
			case docChan <- doc:
			case <-ctx.Done():
				l.Release(filePath, false)
				return
			}
		}
	}
}

// Load reads and extracts one file. Failures are reported on LoadedFile.Err
// so the caller can route the file to the bad directory.
func (l *FolderLoader) Load(ctx context.Context, filePath string) *LoadedFile {
	doc := &LoadedFile{Path: filePath, Title: generateTitle(filePath)}

	fileInfo, err := os.Stat(filePath)
	if err != nil {
		doc.Err = fmt.Errorf("file does not exist: %s", filePath)
		return doc
	}
	doc.ModTime = fileInfo.ModTime()

	kind, err := extract.KindFromFilename(filePath)
	if err != nil {
		doc.Err = err
		return doc
	}
	doc.Kind = kind

	data, err := os.ReadFile(filePath)
	if err != nil {
		doc.Err = err
		return doc
	}

	doc.Text, doc.Err = l.extractor.ExtractText(ctx, data, kind)
	return doc
}

// Release stops tracking a file. Done files are forgotten entirely; an
// interrupted file is picked up again on the next scan.
func (l *FolderLoader) Release(filePath string, done bool) {
	l.FileMutex.Lock()
	defer l.FileMutex.Unlock()
	delete(l.FilesProcessing, filePath)
	if done {
		delete(l.FileFirstSeen, filePath)
	}
}

func generateTitle(filePath string) string {
	fileName := filepath.Base(filePath)
	fileName = strings.TrimSuffix(fileName, filepath.Ext(fileName))
	fileName = strings.ReplaceAll(fileName, "_", " ")
	fileName = strings.ReplaceAll(fileName, "-", " ")
	return fileName
}

// MoveToArchive moves a handled file into a dated folder under the archive
// or bad directory, renaming on name clashes.
func (l *FolderLoader) MoveToArchive(filePath string, fileState int) (string, error) {
	var state string
	switch fileState {
	case StateBad:
		state = l.cfg.BadDir
	default:
		state = l.cfg.ArchiveDir
	}

	currentDate := time.Now().Format("2006-01-02")
	destDir := filepath.Join(state, currentDate)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}

	destPath := filepath.Join(destDir, filepath.Base(filePath))

	counter := 1
	for {
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			break
		}
		ext := filepath.Ext(filePath)
		baseName := strings.TrimSuffix(filepath.Base(filePath), ext)
		destPath = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", baseName, counter, ext))
		counter++
	}

	if err := os.Rename(filePath, destPath); err == nil {
		return destPath, nil
	}

	// Rename fails across devices; fall back to copy and remove.
	if err := copyFile(filePath, destPath); err != nil {
		return "", fmt.Errorf("error moving file to archive: %w", err)
	}
	if err := os.Remove(filePath); err != nil {
		return destPath, fmt.Errorf("error removing source file: %w", err)
	}
	return destPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

func createDirectories(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
