package transport

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// scpSend runs the source side of the scp protocol for a single file:
// wait for the sink's ready byte, send a C record, the data, and a
// terminating zero, checking the sink's acknowledgement after each step.
func scpSend(w io.Writer, r *bufio.Reader, name string, content []byte) error {
	if err := scpAck(r); err != nil {
		return fmt.Errorf("scp sink not ready: %w", err)
	}

	if _, err := fmt.Fprintf(w, "C0644 %d %s\n", len(content), name); err != nil {
		return fmt.Errorf("sending scp header: %w", err)
	}
	if err := scpAck(r); err != nil {
		return fmt.Errorf("scp header rejected: %w", err)
	}

	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("sending scp data: %w", err)
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return fmt.Errorf("sending scp terminator: %w", err)
	}
	if err := scpAck(r); err != nil {
		return fmt.Errorf("scp transfer rejected: %w", err)
	}
	return nil
}

// scpAck reads one response. 0 is OK; 1 (warning) and 2 (fatal) are
// followed by a message line.
func scpAck(r *bufio.Reader) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	switch b {
	case 0:
		return nil
	case 1, 2:
		msg, _ := r.ReadString('\n')
		return fmt.Errorf("remote: %s", strings.TrimSpace(msg))
	default:
		return fmt.Errorf("unexpected scp response byte %#x", b)
	}
}
