// Package main provides a CI-friendly smoke test for the taskchat SSE endpoint.
//
// It validates:
//   - the response is an event stream
//   - every frame is a single data line with a known event type
//   - assistant text is bracketed by START/END and tool results follow their start
//   - the stream ends with THREAD_STATE then [DONE]
//   - the token resumes the same conversation on a second request
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	v1 "taskchat/shared/contracts/chatstream/v1"
)

const maxFrameBytes = 1 << 20

type streamResult struct {
	frames int
	text   strings.Builder
	tools  []string
	token  string
	failed string // RUN_ERROR or CONTENT_FILTER message
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:8080", "Server base URL")
		bearer  = flag.String("token", "", "Bearer token (when TASKCHAT_JWT_SECRET is set)")
		first   = flag.String("first", "Add a task called smoke test with high priority", "First user message")
		second  = flag.String("second", "What tasks do I have?", "Follow-up user message")
		timeout = flag.Duration("timeout", 60*time.Second, "Per-request timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	endpoint := strings.TrimRight(*baseURL, "/") + "/api/chat"
	client := &http.Client{}

	r1, err := runOnce(client, endpoint, *bearer, v1.RunRequest{
		Messages: []v1.Message{{Role: v1.RoleUser, Content: *first}},
	}, *timeout, *verbose)
	if err != nil {
		fatalf("first request: %v", err)
	}
	if r1.failed != "" {
		fatalf("first request did not complete: %s", r1.failed)
	}
	if r1.token == "" {
		fatalf("first request: missing THREAD_STATE token")
	}

	r2, err := runOnce(client, endpoint, *bearer, v1.RunRequest{
		Messages:        []v1.Message{{Role: v1.RoleUser, Content: *second}},
		SerializedState: r1.token,
	}, *timeout, *verbose)
	if err != nil {
		fatalf("resumed request: %v", err)
	}
	if r2.failed != "" {
		fatalf("resumed request did not complete: %s", r2.failed)
	}
	if r2.token == "" {
		fatalf("resumed request: missing THREAD_STATE token")
	}

	fmt.Printf("OK: frames=%d/%d tools=%v resumed_text_chars=%d\n", r1.frames, r2.frames, append(r1.tools, r2.tools...), len(r2.text.String()))
}

func runOnce(client *http.Client, endpoint, bearer string, req v1.RunRequest, timeout time.Duration, verbose bool) (*streamResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		return nil, fmt.Errorf("unexpected content type %q", ct)
	}

	return checkStream(resp.Body, verbose)
}

// checkStream reads frames until [DONE] and enforces the event grammar.
func checkStream(r io.Reader, verbose bool) (*streamResult, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxFrameBytes)

	var (
		res        streamResult
		openMsg    bool
		openTools  = map[string]bool{}
		sawState   bool
		sawDone    bool
		pendingGap bool
	)

	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			pendingGap = false
			continue
		}
		if pendingGap {
			return nil, errors.New("frame spans more than one data line")
		}
		pendingGap = true

		payload, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			return nil, fmt.Errorf("line without data prefix: %q", line)
		}
		if sawDone {
			return nil, errors.New("frame after [DONE]")
		}
		if payload == v1.Done {
			sawDone = true
			continue
		}
		if sawState {
			return nil, errors.New("event after THREAD_STATE")
		}
		res.frames++

		var head struct {
			Type       string `json:"type"`
			Delta      string `json:"delta"`
			ToolName   string `json:"toolName"`
			ToolCallID string `json:"toolCallId"`
			Message    string `json:"message"`
			State      string `json:"serializedState"`
		}
		if err := json.Unmarshal([]byte(payload), &head); err != nil {
			return nil, fmt.Errorf("bad frame %q: %w", payload, err)
		}
		if verbose {
			fmt.Printf("  %s\n", payload)
		}

		switch head.Type {
		case v1.TypeTextMessageStart:
			if openMsg {
				return nil, errors.New("nested TEXT_MESSAGE_START")
			}
			openMsg = true
		case v1.TypeTextMessageContent:
			if !openMsg {
				return nil, errors.New("content outside a message")
			}
			res.text.WriteString(head.Delta)
		case v1.TypeTextMessageEnd:
			if !openMsg {
				return nil, errors.New("TEXT_MESSAGE_END without start")
			}
			openMsg = false
		case v1.TypeToolCallStart:
			if openMsg {
				return nil, errors.New("tool call inside an open message")
			}
			openTools[head.ToolCallID] = true
			res.tools = append(res.tools, head.ToolName)
		case v1.TypeToolCallResult:
			if !openTools[head.ToolCallID] {
				return nil, fmt.Errorf("result for unknown tool call %q", head.ToolCallID)
			}
			delete(openTools, head.ToolCallID)
		case v1.TypeContentFilter, v1.TypeRunError:
			res.failed = head.Type + ": " + head.Message
		case v1.TypeThreadState:
			if openMsg || len(openTools) > 0 {
				return nil, errors.New("THREAD_STATE with open message or tool call")
			}
			sawState = true
			res.token = head.State
		default:
			return nil, fmt.Errorf("unknown event type %q", head.Type)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawDone {
		return nil, errors.New("stream ended without [DONE]")
	}
	return &res, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
