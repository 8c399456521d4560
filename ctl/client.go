package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	lightart "github.com/Paranoid-AF/lightart"
)

// wireError aliases lightart.Error so it can be embedded without its field
// name colliding with the Error method.
type wireError = lightart.Error

// daemonError is an "error" or "failed" signal from the daemon.
type daemonError struct {
	*wireError
}

func (e *daemonError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// client is one socket connection to the daemon, and so one session.
type client struct {
	conn    net.Conn
	scanner *bufio.Scanner
	timeout time.Duration
}

func dial(socketPath string, timeout time.Duration) (*client, error) {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to lightartd at %s: %w", socketPath, err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &client{conn: conn, scanner: scanner, timeout: timeout}, nil
}

func (c *client) Close() error {
	return c.conn.Close()
}

func (c *client) send(ev lightart.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("send %s: %w", ev.Type, err)
	}
	return nil
}

func (c *client) next() (lightart.Signal, error) {
	c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return lightart.Signal{}, fmt.Errorf("read signal: %w", err)
		}
		return lightart.Signal{}, fmt.Errorf("daemon closed the connection")
	}
	var sig lightart.Signal
	if err := json.Unmarshal(c.scanner.Bytes(), &sig); err != nil {
		return lightart.Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	return sig, nil
}

// await returns the first signal of type typ. Error and failed signals end
// the wait with a *daemonError; other signals are skipped.
func (c *client) await(typ string) (lightart.Signal, error) {
	for {
		sig, err := c.next()
		if err != nil {
			return sig, err
		}
		if sig.Type == typ {
			if sig.Error != nil {
				return sig, &daemonError{sig.Error}
			}
			return sig, nil
		}
		if (sig.Type == lightart.SignalError || sig.Type == lightart.SignalFailed) && sig.Error != nil {
			return sig, &daemonError{sig.Error}
		}
	}
}

// open starts a session and, when img names an image, sends it.
func (c *client) open(img lightart.ImageState) (string, error) {
	if err := c.send(lightart.Event{Type: lightart.EventHello}); err != nil {
		return "", err
	}
	sig, err := c.await(lightart.SignalSession)
	if err != nil {
		return "", err
	}
	if img.ImageID != "" || len(img.Tags) > 0 || len(img.Vocabulary) > 0 {
		err = c.send(lightart.Event{
			Type:       lightart.EventImage,
			ImageID:    img.ImageID,
			Tags:       img.Tags,
			Vocabulary: img.Vocabulary,
		})
	}
	return sig.SessionID, err
}

func resolveSocketPath() string {
	if path := os.Getenv("LIGHTART_SOCKET"); path != "" {
		return path
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir + "/lightart.sock"
	}
	return fmt.Sprintf("/tmp/lightart-%d.sock", os.Getuid())
}
