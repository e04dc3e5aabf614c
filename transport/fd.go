// Package transport gives the broker context-aware reads and writes over
// plain file descriptors: the serial gadget tty, its host side peer or a
// pair of FIFOs.
package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Instrumentation: track leaked goroutines from context cancellation
var (
	leakedReaders atomic.Int64
	leakedWriters atomic.Int64
)

// LeakStats returns the current count of leaked reader and writer goroutines
func LeakStats() (readers, writers int64) {
	return leakedReaders.Load(), leakedWriters.Load()
}

type result struct {
	n   int
	err error
}

type Reader struct {
	fd int
}

type Writer struct {
	fd int
}

// A blocked read or write outlives a cancelled context: os.File has no
// context-aware I/O, so the syscall goroutine is left behind and counted.

func NewReader(f *os.File) *Reader {
	return &Reader{fd: int(f.Fd())}
}

func NewWriter(f *os.File) *Writer {
	return &Writer{fd: int(f.Fd())}
}

func (r *Reader) ReadContext(ctx context.Context, p []byte) (int, error) {
	readChan := make(chan result, 1)

	go func() {
		n, err := unix.Read(r.fd, p)
		if n == 0 && err == nil && len(p) > 0 {
			err = io.EOF
		}
		readChan <- result{n: n, err: err}
	}()

	select {
	case <-ctx.Done():
		leakedReaders.Add(1)
		return 0, ctx.Err()
	case res := <-readChan:
		if errors.Is(res.err, os.ErrDeadlineExceeded) {
			return 0, ctx.Err()
		}
		return res.n, res.err
	}
}

func (w *Writer) WriteContext(ctx context.Context, p []byte) (int, error) {
	writeChan := make(chan result, 1)

	go func() {
		written := 0
		total := len(p)
		for written < total {
			n, err := unix.Write(w.fd, p[written:])
			if err != nil {
				writeChan <- result{n: written, err: err}
				return
			}
			written += n
		}
		writeChan <- result{n: written, err: nil}
	}()

	select {
	case <-ctx.Done():
		leakedWriters.Add(1)
		return 0, ctx.Err()
	case res := <-writeChan:
		if errors.Is(res.err, os.ErrDeadlineExceeded) {
			return 0, ctx.Err()
		}
		return res.n, res.err
	}
}

// Link is an opened pair of endpoints.
type Link struct {
	*Reader
	*Writer

	files []*os.File

	// tty mode to restore on Close
	raw     *term.State
	rawFile *os.File
}

// Open opens inPath for reading and outPath for writing. They may name the
// same file, e.g. a tty, in which case it is opened once.
func Open(inPath, outPath string) (*Link, error) {
	if inPath == outPath {
		f, err := os.OpenFile(inPath, os.O_RDWR|unix.O_NOCTTY, 0)
		if err != nil {
			return nil, err
		}
		l := &Link{Reader: NewReader(f), Writer: NewWriter(f), files: []*os.File{f}}
		// frames are binary; no echo, no line discipline
		if fd := int(f.Fd()); term.IsTerminal(fd) {
			if l.raw, err = term.MakeRaw(fd); err != nil {
				_ = f.Close()
				return nil, err
			}
			l.rawFile = f
		}
		return l, nil
	}

	in, err := openEnd(inPath, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	out, err := openEnd(outPath, os.O_WRONLY)
	if err != nil {
		_ = in.Close()
		return nil, err
	}
	return &Link{Reader: NewReader(in), Writer: NewWriter(out), files: []*os.File{in, out}}, nil
}

// openEnd opens FIFOs read-write: a one-way open would block until the peer
// opens the other end.
func openEnd(path string, flag int) (*os.File, error) {
	if fi, err := os.Stat(path); err == nil && fi.Mode()&os.ModeNamedPipe != 0 {
		flag = os.O_RDWR
	}
	return os.OpenFile(path, flag, 0)
}

// Pipe returns two links wired back to back, for tests and local runs.
func Pipe() (a, b *Link, err error) {
	ar, bw, err := os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	br, aw, err := os.Pipe()
	if err != nil {
		_ = ar.Close()
		_ = bw.Close()
		return nil, nil, err
	}
	a = &Link{Reader: NewReader(ar), Writer: NewWriter(aw), files: []*os.File{ar, aw}}
	b = &Link{Reader: NewReader(br), Writer: NewWriter(bw), files: []*os.File{br, bw}}
	return a, b, nil
}

func (l *Link) Close() error {
	var errs []error
	if l.raw != nil {
		errs = append(errs, term.Restore(int(l.rawFile.Fd()), l.raw))
	}
	for _, f := range l.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}
