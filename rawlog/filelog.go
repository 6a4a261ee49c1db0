// Copyright 2021 Optakt Labs OÜ
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package rawlog

import (
	"fmt"
	"os"
	"sync"
)

// FileLog is a file-backed RawLog. Writes are appended sequentially; reads
// address the file directly by offset. The log is one file; segment
// rotation is not implemented. Truncate is used by the Version Log only to
// drop a torn tail frame on start-up.
type FileLog struct {
	mu   sync.Mutex
	file *os.File
	size int64
}

// OpenFileLog opens (creating if necessary) a file-backed log at path.
func OpenFileLog(path string) (*FileLog, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("could not open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("could not stat log file: %w", err)
	}

	f := FileLog{
		file: file,
		size: info.Size(),
	}

	return &f, nil
}

// Append writes data at the end of the file.
func (f *FileLog) Append(data []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	offset := f.size
	n, err := f.file.WriteAt(data, offset)
	if err != nil {
		return 0, fmt.Errorf("could not append to log file: %w", err)
	}
	f.size += int64(n)
	return offset, nil
}

// ReadAt reads length bytes starting at offset.
func (f *FileLog) ReadAt(offset int64, length int) ([]byte, error) {
	f.mu.Lock()
	size := f.size
	f.mu.Unlock()

	if offset < 0 || offset+int64(length) > size {
		return nil, ErrOutOfRange
	}

	buf := make([]byte, length)
	_, err := f.file.ReadAt(buf, offset)
	if err != nil {
		return nil, fmt.Errorf("could not read log file: %w", err)
	}
	return buf, nil
}

// Size returns the current length of the file.
func (f *FileLog) Size() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size, nil
}

// Truncate discards everything at or after offset, used on replica start-up
// to drop a partially-written tail frame (spec.md §6).
func (f *FileLog) Truncate(offset int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if offset < 0 || offset > f.size {
		return ErrOutOfRange
	}
	err := f.file.Truncate(offset)
	if err != nil {
		return fmt.Errorf("could not truncate log file: %w", err)
	}
	f.size = offset
	return nil
}

// Sync fsyncs the underlying file.
func (f *FileLog) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Sync()
}

// Close closes the underlying file.
func (f *FileLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.file.Close()
}
