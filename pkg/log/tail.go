package log

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/nxadm/tail"
)

// Tail writes the last n lines of the log file at path to w. With follow it
// keeps writing lines as they are appended, across truncation and
// rotation, until ctx is done.
func Tail(ctx context.Context, path string, n int, follow bool, w io.Writer) error {
	offset, err := lastLinesOffset(path, n)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	t, err := tail.TailFile(path, tail.Config{
		Location:  &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail log file: %w", err)
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Wait()
			}
			if line.Err != nil {
				return fmt.Errorf("failed to read log file: %w", line.Err)
			}
			if _, err := fmt.Fprintln(w, line.Text); err != nil {
				return err
			}
		}
	}
}

// lastLinesOffset returns the byte offset where the last n lines of the
// file start. A trailing newline ends the last line.
func lastLinesOffset(path string, n int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if n <= 0 {
		return size, nil
	}

	buf := make([]byte, 4096)
	newlines := 0
	for pos := size; pos > 0; {
		chunk := int64(len(buf))
		if pos < chunk {
			chunk = pos
		}
		pos -= chunk
		if _, err := f.ReadAt(buf[:chunk], pos); err != nil && err != io.EOF {
			return 0, err
		}
		for i := chunk - 1; i >= 0; i-- {
			if buf[i] != '\n' || pos+i == size-1 {
				continue
			}
			newlines++
			if newlines == n {
				return pos + i + 1, nil
			}
		}
	}
	return 0, nil
}
