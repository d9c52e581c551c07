package procpool

import (
	"bufio"
	"io"
	"strings"
)

// lineEvent is one line of output read from a process's stdout or stderr,
// with its trailing newline already stripped.
type lineEvent struct {
	line     string
	isStdout bool
}

// runStreamReader scans r line by line, sending a lineEvent for each onto
// out, and returns when r is exhausted (EOF or read error). It is meant to
// run in its own goroutine, one per pipe; both pipes funnel into a single
// channel here so the executor's dispatch loop can select over one source
// instead of two.
func runStreamReader(r io.Reader, isStdout bool, out chan<- lineEvent) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		out <- lineEvent{line: strings.TrimRight(sc.Text(), "\r\n"), isStdout: isStdout}
	}
	// Scanner errors (other than EOF) are not distinguishable to the caller
	// here, and out is left open because both readers share it; the
	// executor learns that the pipes ended from the process exiting and
	// relies on the process's exit code / Wait error for diagnosis.
}
