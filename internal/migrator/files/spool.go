package files

import (
	"bytes"
	"io"
	"os"
)

// spool buffers writes in memory up to a limit and spills to a temporary
// file beyond it, so large attachments never hold their full size in memory.
// Close releases the temporary file and must run on every exit path.
type spool struct {
	limit int64
	size  int64
	buf   bytes.Buffer
	file  *os.File
}

func newSpool(limit int64) *spool {
	return &spool{limit: limit}
}

func (s *spool) Write(p []byte) (int, error) {
	if s.file == nil && s.size+int64(len(p)) > s.limit {
		f, err := os.CreateTemp("", "importer-attachment-*")
		if err != nil {
			return 0, err
		}
		if _, err := f.Write(s.buf.Bytes()); err != nil {
			f.Close()
			os.Remove(f.Name())
			return 0, err
		}
		s.buf.Reset()
		s.file = f
	}
	s.size += int64(len(p))
	if s.file != nil {
		return s.file.Write(p)
	}
	return s.buf.Write(p)
}

// Head returns up to n bytes from the start without consuming the spool.
func (s *spool) Head(n int) ([]byte, error) {
	if s.file != nil {
		head := make([]byte, n)
		m, err := s.file.ReadAt(head, 0)
		if err != nil && err != io.EOF {
			return nil, err
		}
		return head[:m], nil
	}
	b := s.buf.Bytes()
	if len(b) > n {
		b = b[:n]
	}
	return b, nil
}

// Reader rewinds the spool and returns a reader over its full contents.
func (s *spool) Reader() (io.Reader, error) {
	if s.file != nil {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		return s.file, nil
	}
	return bytes.NewReader(s.buf.Bytes()), nil
}

func (s *spool) Close() error {
	if s.file == nil {
		return nil
	}
	name := s.file.Name()
	err := s.file.Close()
	os.Remove(name)
	s.file = nil
	return err
}
