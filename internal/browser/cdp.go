package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// cdpRequest is a DevTools command frame.
type cdpRequest struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// cdpMessage is any inbound frame: a command response (ID set) or an
// event (Method set).
type cdpMessage struct {
	ID     int64           `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *cdpError       `json:"error,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *cdpError) Error() string {
	return fmt.Sprintf("devtools error %d: %s", e.Code, e.Message)
}

// Session is one browser tab driven over its DevTools WebSocket. It
// issues one command at a time and is not safe for concurrent use.
type Session struct {
	browser *Browser
	target  target
	conn    *websocket.Conn
	nextID  int64
}

// call sends method and waits for the response with the same id.
// Events that arrive in between are discarded. result may be nil.
func (s *Session) call(ctx context.Context, method string, params any, result any) error {
	s.nextID++
	id := s.nextID

	deadline := time.Now().Add(s.browser.cfg.CommandTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%s: set write deadline: %w", method, err)
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("%s: set read deadline: %w", method, err)
	}

	if err := s.conn.WriteJSON(cdpRequest{ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("%s: send: %w", method, err)
	}

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: %w", method, err)
		}

		var msg cdpMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("%s: read: %w", method, err)
		}
		if msg.ID != id {
			if msg.Method != "" {
				s.browser.logger.Log(ctx, levelTrace, "devtools event skipped", "event", msg.Method)
			}
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("%s: %w", method, msg.Error)
		}
		if result != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	}
}

// Navigate loads url in the tab. It returns once the browser has
// committed the navigation, not when the page has finished rendering.
func (s *Session) Navigate(ctx context.Context, url string) error {
	var res struct {
		FrameID   string `json:"frameId"`
		ErrorText string `json:"errorText"`
	}
	if err := s.call(ctx, "Page.navigate", map[string]any{"url": url}, &res); err != nil {
		return err
	}
	if res.ErrorText != "" {
		return fmt.Errorf("Page.navigate %s: %s", url, res.ErrorText)
	}
	return nil
}

// Evaluate runs a JavaScript expression in the page and decodes its
// JSON-serialisable return value into out (which may be nil).
func (s *Session) Evaluate(ctx context.Context, expression string, out any) error {
	var res struct {
		Result struct {
			Type  string          `json:"type"`
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	params := map[string]any{
		"expression":    expression,
		"returnByValue": true,
	}
	if err := s.call(ctx, "Runtime.evaluate", params, &res); err != nil {
		return err
	}
	if res.ExceptionDetails != nil {
		return fmt.Errorf("Runtime.evaluate: script threw: %s", res.ExceptionDetails.Text)
	}
	if out == nil || len(res.Result.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(res.Result.Value, out); err != nil {
		return fmt.Errorf("Runtime.evaluate: decode %s value: %w", res.Result.Type, err)
	}
	return nil
}

// InsertText types text into the focused element as if entered by the
// user, firing the input events client-side frameworks listen for.
func (s *Session) InsertText(ctx context.Context, text string) error {
	return s.call(ctx, "Input.insertText", map[string]any{"text": text}, nil)
}

// OuterHTML returns the serialized document as currently rendered.
func (s *Session) OuterHTML(ctx context.Context) (string, error) {
	var markup string
	if err := s.Evaluate(ctx, jsOuterHTML, &markup); err != nil {
		return "", err
	}
	return markup, nil
}
