package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// FileWriterOptions 文件输出配置
type FileWriterOptions struct {
	// 文件路径
	Path string `cfg:"path" validate:"required"`
	// 单个文件最大字节数，超过后轮转，0 表示不轮转
	MaxBytes int64 `cfg:"maxBytes"`
	// 保留的历史文件数量 path.1 ... path.N
	MaxBackups int `cfg:"maxBackups" def:"3"`
}

// FileWriter 文件输出器，按大小轮转
type FileWriter struct {
	options *FileWriterOptions
	file    *os.File
	size    int64
	mu      sync.Mutex
}

func NewFileWriterWithOptions(options *FileWriterOptions) (*FileWriter, error) {
	if options == nil || options.Path == "" {
		return nil, errors.New("file path is required")
	}

	dir := filepath.Dir(options.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory %s", dir)
	}

	w := &FileWriter{options: options}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *FileWriter) open() error {
	file, err := os.OpenFile(w.options.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open file %s", w.options.Path)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return errors.Wrapf(err, "failed to stat file %s", w.options.Path)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, errors.New("file is closed")
	}

	if w.options.MaxBytes > 0 && w.size > 0 && w.size+int64(len(p)) > w.options.MaxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// rotate path.N-1 -> path.N ... path -> path.1，超出 MaxBackups 的文件被覆盖
func (w *FileWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return errors.Wrap(err, "failed to close file before rotate")
	}
	w.file = nil

	if w.options.MaxBackups <= 0 {
		if err := os.Remove(w.options.Path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "failed to remove file")
		}
		return w.open()
	}

	for i := w.options.MaxBackups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.%d", w.options.Path, i)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, fmt.Sprintf("%s.%d", w.options.Path, i+1)); err != nil {
				return errors.Wrapf(err, "failed to rename %s", src)
			}
		}
	}
	if err := os.Rename(w.options.Path, w.options.Path+".1"); err != nil {
		return errors.Wrap(err, "failed to rename current file")
	}
	return w.open()
}

func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
