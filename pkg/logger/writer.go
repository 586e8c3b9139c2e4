package logger

import (
	"io"
	"path/filepath"

	"github.com/mattn/go-colorable"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation 日志文件切割
type Rotation struct {
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// NewWriter writes to stdout when console is set and to the rotated file at path
// when path is not empty. With neither it falls back to stdout.
func NewWriter(console bool, path string, rotation Rotation) io.Writer {
	var writerList []io.Writer
	if console || path == "" {
		writerList = append(writerList, colorable.NewColorableStdout())
	}
	if path != "" {
		writerList = append(writerList, &lumberjack.Logger{
			Filename:   filepath.Clean(path),
			MaxSize:    rotation.MaxSize,
			MaxBackups: rotation.MaxBackups,
			MaxAge:     rotation.MaxAge,
			Compress:   true,
		})
	}
	if len(writerList) == 1 {
		return writerList[0]
	}
	return io.MultiWriter(writerList...)
}
