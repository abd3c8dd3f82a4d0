package engine

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"sync"
	"time"
)

const defaultMaxOutputBytes int64 = 64 * 1024

// limitedBuffer keeps the first max bytes written and silently drops the rest,
// so a chatty child never blocks on a full pipe.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func newLimitedBuffer(max int64) *limitedBuffer {
	if max <= 0 {
		max = defaultMaxOutputBytes
	}
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.max - int64(b.buf.Len())
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	return b.buf.String()
}

// pipeCapture copies child output through OS pipes. exec.Cmd.Wait then returns
// when the leader exits instead of when the last inheritor closes the pipe.
type pipeCapture struct {
	dsts   []io.Writer
	reads  []*os.File
	writes []*os.File
	wg     sync.WaitGroup
}

func newPipeCapture(dsts ...io.Writer) (*pipeCapture, error) {
	p := &pipeCapture{dsts: dsts}
	for range dsts {
		r, w, err := os.Pipe()
		if err != nil {
			p.close()
			return nil, err
		}
		p.reads = append(p.reads, r)
		p.writes = append(p.writes, w)
	}
	return p, nil
}

// writer is the child's end of pipe i.
func (p *pipeCapture) writer(i int) *os.File {
	return p.writes[i]
}

// start drops the parent's write ends and begins copying.
func (p *pipeCapture) start() {
	for _, w := range p.writes {
		_ = w.Close()
	}
	p.writes = nil
	for i, r := range p.reads {
		p.wg.Add(1)
		go func(r *os.File, dst io.Writer) {
			defer p.wg.Done()
			_, _ = io.Copy(dst, r)
		}(r, p.dsts[i])
	}
}

// wait blocks until every pipe reaches EOF or delay passes, then closes the
// read ends. It reports whether the output was fully drained.
func (p *pipeCapture) wait(delay time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	drained := true
	select {
	case <-done:
	case <-timer.C:
		drained = false
		p.close()
		<-done
	}
	p.close()
	return drained
}

func (p *pipeCapture) close() {
	for _, f := range p.reads {
		_ = f.Close()
	}
	for _, f := range p.writes {
		_ = f.Close()
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
