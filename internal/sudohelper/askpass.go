package sudohelper

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"syscall"
	"time"
)

// RunAskpass implements the `<program> askpass <fifo> <timeout>`
// self-invocation protocol (spec §4.3, §6): re-open the FIFO for
// read, read the password, write it verbatim to stdout, exit 0. A
// timer exits 1 if nothing arrives within the window.
func RunAskpass(args []string, stdout io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "sudohelper: askpass requires <fifo-path> <timeout-seconds>")
		return 1
	}
	fifoPath := args[0]
	timeoutSeconds, err := strconv.Atoi(args[1])
	if err != nil || timeoutSeconds <= 0 {
		fmt.Fprintln(os.Stderr, "sudohelper: askpass: invalid timeout")
		return 1
	}

	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		f, err := os.OpenFile(fifoPath, syscall.O_RDONLY, 0)
		if err != nil {
			resultCh <- readResult{err: err}
			return
		}
		defer f.Close()
		data, err := bufio.NewReader(f).ReadBytes(0)
		if err != nil && err != io.EOF {
			resultCh <- readResult{err: err}
			return
		}
		resultCh <- readResult{data: trimNUL(data)}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			fmt.Fprintf(os.Stderr, "sudohelper: askpass: read fifo: %v\n", r.err)
			return 1
		}
		if _, err := stdout.Write(r.data); err != nil {
			return 1
		}
		return 0
	case <-time.After(time.Duration(timeoutSeconds) * time.Second):
		fmt.Fprintln(os.Stderr, "sudohelper: askpass: timed out waiting for password")
		return 1
	}
}

func trimNUL(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
