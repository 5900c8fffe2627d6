package browser

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// fakeDevTools is a minimal Chrome remote debugging endpoint. It hands
// out one target per /json/new and answers the commands the browser
// package issues.
type fakeDevTools struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	opened    int
	closed    []string
	methods   []string
	inserted  []string
	navigated []string

	// markup is returned for outerHTML evaluations.
	markup string
	// navigateError, if set, is returned as Page.navigate errorText.
	navigateError string
	// noSearchInput makes the focus script report false.
	noSearchInput bool
}

func newFakeDevTools(t *testing.T) *fakeDevTools {
	t.Helper()
	f := &fakeDevTools{t: t}

	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /json/new", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.opened++
		id := "T" + string(rune('0'+f.opened))
		f.mu.Unlock()

		wsURL := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/devtools/page/" + id
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(target{ID: id, Type: "page", URL: "about:blank", WebSocketDebuggerURL: wsURL})
	})
	mux.HandleFunc("GET /json/close/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.closed = append(f.closed, r.PathValue("id"))
		f.mu.Unlock()
		io.WriteString(w, "Target is closing")
	})
	mux.HandleFunc("GET /json/version", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"Browser":"HeadlessChrome/126.0","Protocol-Version":"1.3"}`)
	})
	mux.HandleFunc("/devtools/page/{id}", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		f.serve(conn)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeDevTools) serve(conn *websocket.Conn) {
	for {
		var req struct {
			ID     int64          `json:"id"`
			Method string         `json:"method"`
			Params map[string]any `json:"params"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		f.mu.Lock()
		f.methods = append(f.methods, req.Method)
		f.mu.Unlock()

		// An unrelated event ahead of every response.
		conn.WriteJSON(map[string]any{"method": "Page.frameStartedLoading", "params": map[string]any{}})

		var result any
		switch req.Method {
		case "Page.navigate":
			f.mu.Lock()
			f.navigated = append(f.navigated, req.Params["url"].(string))
			f.mu.Unlock()
			res := map[string]any{"frameId": "F1"}
			if f.navigateError != "" {
				res["errorText"] = f.navigateError
			}
			result = res
		case "Runtime.evaluate":
			expr, _ := req.Params["expression"].(string)
			result = map[string]any{"result": f.evaluate(expr)}
		case "Input.insertText":
			f.mu.Lock()
			f.inserted = append(f.inserted, req.Params["text"].(string))
			f.mu.Unlock()
			result = map[string]any{}
		default:
			conn.WriteJSON(map[string]any{
				"id":    req.ID,
				"error": map[string]any{"code": -32601, "message": "'" + req.Method + "' wasn't found"},
			})
			continue
		}
		conn.WriteJSON(map[string]any{"id": req.ID, "result": result})
	}
}

func (f *fakeDevTools) evaluate(expr string) map[string]any {
	switch {
	case expr == jsOuterHTML:
		return map[string]any{"type": "string", "value": f.markup}
	case expr == jsFocusSearch:
		return map[string]any{"type": "boolean", "value": !f.noSearchInput}
	default:
		return map[string]any{"type": "boolean", "value": true}
	}
}

// state returns copies of the recorded calls.
func (f *fakeDevTools) state() (opened int, closed, navigated, inserted []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened,
		append([]string(nil), f.closed...),
		append([]string(nil), f.navigated...),
		append([]string(nil), f.inserted...)
}

func (f *fakeDevTools) browser() *Browser {
	return New(Config{
		DevToolsURL:    f.srv.URL + "/",
		HomeURL:        "https://www.sofascore.com/",
		PageSettle:     time.Millisecond,
		ScrollSettle:   time.Millisecond,
		HomeSettle:     time.Millisecond,
		OpenSearch:     time.Millisecond,
		SearchSettle:   time.Millisecond,
		CommandTimeout: 5 * time.Second,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestRender(t *testing.T) {
	f := newFakeDevTools(t)
	f.markup = `<html><body><span>Referee</span></body></html>`

	const page = "https://www.sofascore.com/football/match/leeds-united-brighton-and-hove-albion/FsJ#id:14025273"
	got, err := f.browser().Render(context.Background(), page)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != f.markup {
		t.Errorf("Render = %q, want %q", got, f.markup)
	}
	opened, closed, navigated, _ := f.state()
	if len(navigated) != 1 || navigated[0] != page {
		t.Errorf("navigated = %v, want [%s]", navigated, page)
	}
	if opened != 1 || len(closed) != 1 {
		t.Errorf("opened %d tabs, closed %d; want 1 and 1", opened, len(closed))
	}
}

func TestRender_NavigateErrorClosesTab(t *testing.T) {
	f := newFakeDevTools(t)
	f.navigateError = "net::ERR_NAME_NOT_RESOLVED"

	_, err := f.browser().Render(context.Background(), "https://www.sofascore.com/football/match/x/y")
	if err == nil || !strings.Contains(err.Error(), "ERR_NAME_NOT_RESOLVED") {
		t.Fatalf("Render error = %v, want navigate error", err)
	}
	if _, closed, _, _ := f.state(); len(closed) != 1 {
		t.Errorf("closed %d tabs after failure, want 1", len(closed))
	}
}

func TestRender_CancelledDuringSettle(t *testing.T) {
	f := newFakeDevTools(t)
	b := f.browser()
	b.cfg.PageSettle = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := b.Render(ctx, "https://www.sofascore.com/football/match/x/y")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Render error = %v, want context.Canceled", err)
	}
	if _, closed, _, _ := f.state(); len(closed) != 1 {
		t.Errorf("closed %d tabs after cancel, want 1", len(closed))
	}
}

func TestSearch(t *testing.T) {
	f := newFakeDevTools(t)
	f.markup = `<div class="search-results">
		<a href="/team/football/arsenal/42">Arsenal</a>
		<a href="/football/match/arsenal-chelsea/abc#id:1">Arsenal - Chelsea</a>
		<a href="/football/match/chelsea-arsenal/def#id:2">Chelsea - Arsenal</a>
	</div>`

	got, err := f.browser().Search(context.Background(), "Arsenal Chelsea")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{
		"https://www.sofascore.com/football/match/arsenal-chelsea/abc#id:1",
		"https://www.sofascore.com/football/match/chelsea-arsenal/def#id:2",
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Search = %v, want %v", got, want)
	}
	_, closed, navigated, inserted := f.state()
	if len(inserted) != 1 || inserted[0] != "Arsenal Chelsea" {
		t.Errorf("typed %v, want the query once", inserted)
	}
	if len(navigated) != 1 || navigated[0] != "https://www.sofascore.com/" {
		t.Errorf("navigated = %v, want home page", navigated)
	}
	if len(closed) != 1 {
		t.Errorf("closed %d tabs, want 1", len(closed))
	}
}

func TestSearch_NoInput(t *testing.T) {
	f := newFakeDevTools(t)
	f.noSearchInput = true

	got, err := f.browser().Search(context.Background(), "Arsenal Chelsea")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Search = %v, want no candidates", got)
	}
	if _, _, _, inserted := f.state(); len(inserted) != 0 {
		t.Errorf("typed %v without an input", inserted)
	}
}

func TestSession_CommandError(t *testing.T) {
	f := newFakeDevTools(t)
	b := f.browser()

	s, err := b.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	err = s.call(context.Background(), "Bogus.method", nil, nil)
	var cdpErr *cdpError
	if !errors.As(err, &cdpErr) || cdpErr.Code != -32601 {
		t.Fatalf("call error = %v, want devtools error -32601", err)
	}
}

func TestVersion(t *testing.T) {
	f := newFakeDevTools(t)
	info, err := f.browser().Version(context.Background())
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if info.Browser != "HeadlessChrome/126.0" {
		t.Errorf("Browser = %q", info.Browser)
	}
}

func TestOpen_Unreachable(t *testing.T) {
	b := New(Config{DevToolsURL: "http://127.0.0.1:1", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if _, err := b.Open(context.Background()); err == nil {
		t.Fatal("expected error for unreachable DevTools endpoint")
	}
}
