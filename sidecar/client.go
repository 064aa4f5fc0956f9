package sidecar

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kanblam/kanblam/log"
)

// ErrDisconnected means the socket to the co-process is gone. Callers retry
// after the client's Reconnected notification arrives.
var ErrDisconnected = errors.New("sidecar connection lost")

const (
	defaultTimeout   = 30 * time.Second
	pingTimeout      = 5 * time.Second
	summarizeTimeout = 120 * time.Second

	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 15 * time.Second

	// maxLineBytes bounds a single inbound line. full_output payloads carry
	// whole session transcripts.
	maxLineBytes = 16 * 1024 * 1024
)

// Client speaks line-delimited JSON-RPC 2.0 with the co-process over a Unix
// domain socket. Responses are correlated to requests by id; notifications
// are demultiplexed onto a buffered channel. When the socket drops, pending
// calls fail with ErrDisconnected and a background loop redials with
// exponential backoff.
type Client struct {
	socketPath    string
	notifications chan Notification

	nextID atomic.Uint64

	writeMu sync.Mutex
	conn    net.Conn

	pendingMu sync.Mutex
	pending   map[uint64]chan response

	closed    chan struct{}
	closeOnce sync.Once
}

// NewClient prepares a client for the given socket path without dialing.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath:    socketPath,
		notifications: make(chan Notification, 128),
		pending:       make(map[uint64]chan response),
		closed:        make(chan struct{}),
	}
}

// Connect dials the socket and starts the read loop.
func (c *Client) Connect() error {
	conn, err := net.Dial("unix", c.socketPath)
	if err != nil {
		return fmt.Errorf("failed to connect to sidecar at %s: %w", c.socketPath, err)
	}
	c.attach(conn)
	return nil
}

// attach installs a live connection and starts reading from it.
func (c *Client) attach(conn net.Conn) {
	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	go c.readLoop(conn)
}

// Notifications returns the stream of server-initiated messages, plus the
// client's own Reconnected markers.
func (c *Client) Notifications() <-chan Notification {
	return c.notifications
}

// Close tears the connection down and stops any reconnect attempt. Pending
// calls fail with ErrDisconnected.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
		}
		c.writeMu.Unlock()
		c.failPending()
	})
	return err
}

func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		c.dispatch(line)
	}

	conn.Close()
	c.failPending()

	select {
	case <-c.closed:
		return
	default:
		go c.reconnect()
	}
}

// dispatch routes one inbound line. Lines with an id are responses; lines
// with only a method are notifications.
func (c *Client) dispatch(line []byte) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		log.WarningLog.Printf("sidecar sent unparseable line: %v", err)
		return
	}

	if env.ID != nil {
		c.pendingMu.Lock()
		ch, ok := c.pending[*env.ID]
		delete(c.pending, *env.ID)
		c.pendingMu.Unlock()
		if !ok {
			log.WarningLog.Printf("sidecar response for unknown request id %d", *env.ID)
			return
		}
		ch <- response{JSONRPC: env.JSONRPC, ID: *env.ID, Result: env.Result, Error: env.Error}
		return
	}

	notif, err := parseNotification(env.Method, env.Params)
	if err != nil {
		log.WarningLog.Printf("dropping sidecar notification: %v", err)
		return
	}
	c.notify(notif)
}

func (c *Client) notify(n Notification) {
	select {
	case c.notifications <- n:
	default:
		log.WarningLog.Printf("sidecar notification channel full, dropping %T", n)
	}
}

// failPending closes every outstanding response channel so waiters observe
// ErrDisconnected.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// reconnect redials until it succeeds or the client is closed. In-flight
// requests are not replayed; the orchestrator reconciles via list_sessions
// when the Reconnected notification arrives.
func (c *Client) reconnect() {
	delay := reconnectBaseDelay
	for {
		select {
		case <-c.closed:
			return
		case <-time.After(delay):
		}

		conn, err := net.Dial("unix", c.socketPath)
		if err == nil {
			c.attach(conn)
			c.notify(Reconnected{})
			log.InfoLog.Printf("reconnected to sidecar at %s", c.socketPath)
			return
		}

		delay *= 2
		if delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

func (c *Client) writeLine(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return ErrDisconnected
	}
	if _, err := c.conn.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write to sidecar: %w", err)
	}
	return nil
}

// call performs one request/response round trip. result, when non-nil,
// receives the unmarshaled result payload.
func (c *Client) call(ctx context.Context, method string, params any, timeout time.Duration, result any) error {
	req := request{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("failed to marshal %s params: %w", method, err)
		}
		req.Params = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	ch := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.writeLine(data); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrDisconnected
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && resp.Result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to parse %s result: %w", method, err)
			}
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.closed:
		return ErrDisconnected
	}
}

// Ping verifies the co-process is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", nil, pingTimeout, nil)
}

type startSessionParams struct {
	TaskID       string   `json:"task_id"`
	WorktreePath string   `json:"worktree_path"`
	Prompt       string   `json:"prompt"`
	Images       []string `json:"images,omitempty"`
}

// StartSession begins a programmatic agent session in the task's worktree and
// returns the session id. A session already active for the task is reused.
func (c *Client) StartSession(ctx context.Context, taskID, worktreePath, prompt string, images []string) (string, error) {
	var result struct {
		SessionID string `json:"session_id"`
	}
	err := c.call(ctx, "start_session", startSessionParams{
		TaskID:       taskID,
		WorktreePath: worktreePath,
		Prompt:       prompt,
		Images:       images,
	}, defaultTimeout, &result)
	if err != nil {
		return "", err
	}
	return result.SessionID, nil
}

type resumeSessionParams struct {
	TaskID       string `json:"task_id"`
	SessionID    string `json:"session_id"`
	WorktreePath string `json:"worktree_path"`
	Prompt       string `json:"prompt,omitempty"`
}

// ResumeSession resumes a prior session by id, optionally with a new prompt.
// Returns the (possibly renewed) session id.
func (c *Client) ResumeSession(ctx context.Context, taskID, sessionID, worktreePath, prompt string) (string, error) {
	var result struct {
		SessionID string `json:"session_id"`
	}
	err := c.call(ctx, "resume_session", resumeSessionParams{
		TaskID:       taskID,
		SessionID:    sessionID,
		WorktreePath: worktreePath,
		Prompt:       prompt,
	}, defaultTimeout, &result)
	if err != nil {
		return "", err
	}
	return result.SessionID, nil
}

type sendPromptParams struct {
	TaskID string   `json:"task_id"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
}

// SendPrompt delivers a prompt to the task's already-active session.
func (c *Client) SendPrompt(ctx context.Context, taskID, prompt string, images []string) error {
	return c.call(ctx, "send_prompt", sendPromptParams{
		TaskID: taskID,
		Prompt: prompt,
		Images: images,
	}, defaultTimeout, nil)
}

type taskIDParams struct {
	TaskID string `json:"task_id"`
}

// StopSession cancels the task's session. The co-process emits a terminal
// ended event for it.
func (c *Client) StopSession(ctx context.Context, taskID string) error {
	return c.call(ctx, "stop_session", taskIDParams{TaskID: taskID}, defaultTimeout, nil)
}

// GetSession returns the task's session info, or nil when the co-process
// knows no session for the task.
func (c *Client) GetSession(ctx context.Context, taskID string) (*SessionInfo, error) {
	var result SessionInfo
	err := c.call(ctx, "get_session", taskIDParams{TaskID: taskID}, defaultTimeout, &result)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.Code == CodeSessionNotFound {
			return nil, nil
		}
		return nil, err
	}
	result.TaskID = taskID
	return &result, nil
}

// ListSessions enumerates every session the co-process knows about. Used to
// reconcile the registry after a reconnect.
func (c *Client) ListSessions(ctx context.Context) ([]SessionInfo, error) {
	var result struct {
		Sessions []SessionInfo `json:"sessions"`
	}
	if err := c.call(ctx, "list_sessions", nil, defaultTimeout, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

type summarizeTitleParams struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
}

// SummarizeTitle asks the co-process to turn a messy task description into a
// card title, abbreviation, and expanded spec.
func (c *Client) SummarizeTitle(ctx context.Context, taskID, title string) (TitleSummary, error) {
	var result TitleSummary
	err := c.call(ctx, "summarize_title", summarizeTitleParams{
		TaskID: taskID,
		Title:  title,
	}, summarizeTimeout, &result)
	return result, err
}

// StopAllSessions cancels every session. Called on shutdown.
func (c *Client) StopAllSessions(ctx context.Context) error {
	return c.call(ctx, "stop_all_sessions", nil, defaultTimeout, nil)
}
