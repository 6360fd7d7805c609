package executor

import (
	"bufio"
	"io"
	"strings"
)

// Drain reads r until EOF and calls emit once per line with the terminator
// removed. "\r\n" counts as a terminator, which is what a pseudo-terminal
// produces. A final line without terminator is still emitted if non-empty.
//
// If emit fails, Drain keeps consuming r so the remote side never blocks on
// a full pipe, and returns the first emit error at the end.
func Drain(r io.Reader, emit func(line string) error) error {
	br := bufio.NewReader(r)
	var emitErr error
	send := func(line string) {
		if emitErr == nil {
			emitErr = emit(line)
		}
	}

	for {
		line, err := br.ReadString('\n')
		if err == nil {
			send(strings.TrimSuffix(line[:len(line)-1], "\r"))
			continue
		}

		if line = strings.TrimSuffix(line, "\r"); line != "" {
			send(line)
		}
		if err == io.EOF {
			return emitErr
		}
		return err
	}
}
