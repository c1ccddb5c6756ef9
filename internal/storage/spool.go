package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Spool manages the local scratch directory shared with the conversion
// worker. Uploaded files are written under in/, the worker writes PDFs under
// out/, and both are removed once the conversion reaches a terminal state.
type Spool struct {
	dir string
}

// NewSpool creates the spool directory structure.
func NewSpool(dir string) (*Spool, error) {
	for _, sub := range []string{"in", "out"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("creating spool directory: %w", err)
		}
	}
	return &Spool{dir: dir}, nil
}

// Dir returns the spool root.
func (s *Spool) Dir() string {
	return s.dir
}

// InputPath returns the worker-visible path for an uploaded file.
// The file name is flattened to its base to keep paths inside the spool.
func (s *Spool) InputPath(conversionID, fileName string) string {
	return filepath.Join(s.dir, "in", conversionID+"_"+filepath.Base(fileName))
}

// OutputPath returns the path where the worker writes the produced PDF.
func (s *Spool) OutputPath(conversionID string) string {
	return filepath.Join(s.dir, "out", conversionID+".pdf")
}

// WriteInput stores an uploaded file in the spool and returns its path and
// size.
func (s *Spool) WriteInput(conversionID, fileName string, r io.Reader) (string, int64, error) {
	path := s.InputPath(conversionID, fileName)

	f, err := os.Create(path)
	if err != nil {
		return "", 0, fmt.Errorf("creating spool file: %w", err)
	}

	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("writing spool file: %w", err)
	}
	return path, n, nil
}

// OpenOutput opens the worker-produced PDF for reading.
func (s *Spool) OpenOutput(conversionID string) (io.ReadCloser, error) {
	f, err := os.Open(s.OutputPath(conversionID))
	if err != nil {
		return nil, fmt.Errorf("opening spool output: %w", err)
	}
	return f, nil
}

// Cleanup removes the spool files for a conversion. Best effort: a missing
// file is fine, and failures are returned only for logging.
func (s *Spool) Cleanup(conversionID, fileName string) error {
	var firstErr error
	for _, path := range []string{
		s.InputPath(conversionID, fileName),
		s.OutputPath(conversionID),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
