package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/IshaanNene/AirQuality-CVL/internal/config"
	"github.com/IshaanNene/AirQuality-CVL/internal/extract"
	"github.com/IshaanNene/AirQuality-CVL/internal/types"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

const markerPage = `<!DOCTYPE html>
<html><head><title>Carte</title></head>
<body>
<div class="leaflet-container">
  <div class="leaflet-marker-icon" onclick="show('Tours : Bon')">1</div>
  <div class="leaflet-marker-icon" onclick="show('Blois : Moyen')">2</div>
</div>
<div class="leaflet-popup-content" style="display:none"></div>
<button class="leaflet-popup-close-button" onclick="hide()">x</button>
<script>
function show(t) { var p = document.querySelector('.leaflet-popup-content'); p.textContent = t; p.style.display = 'block'; }
function hide() { document.querySelector('.leaflet-popup-content').style.display = 'none'; }
</script>
</body></html>`

// openLive starts a real browser. It is skipped unless AIRQUAL_BROWSER_TESTS
// is set, since CI machines rarely ship Chromium.
func openLive(t *testing.T) *Session {
	t.Helper()
	if testing.Short() || os.Getenv("AIRQUAL_BROWSER_TESTS") == "" {
		t.Skip("set AIRQUAL_BROWSER_TESTS=1 to run browser tests")
	}
	cfg := config.DefaultConfig()
	s, err := Open(context.Background(), cfg, testLogger)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionMarkerPopups(t *testing.T) {
	s := openLive(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, markerPage)
	}))
	defer srv.Close()

	ctx := context.Background()
	if err := s.Navigate(ctx, srv.URL, 20*time.Second); err != nil {
		t.Fatalf("Navigate error: %v", err)
	}
	if title, _ := s.Title(ctx); title != "Carte" {
		t.Errorf("Title = %q, want Carte", title)
	}

	e := extract.New(config.DefaultConfig(), testLogger)
	popups := e.Markers(ctx, s)
	if len(popups) != 2 {
		t.Fatalf("expected 2 popups, got %+v", popups)
	}
	if popups[0].Text != "Tours : Bon" || popups[1].Text != "Blois : Moyen" {
		t.Errorf("popups = %+v", popups)
	}
}

func TestSessionElementNotFound(t *testing.T) {
	s := openLive(t)
	if _, err := s.Element(context.Background(), "#does-not-exist"); !errors.Is(err, types.ErrElementNotFound) {
		t.Errorf("Element error = %v, want ErrElementNotFound", err)
	}
}

func TestTimeoutOr(t *testing.T) {
	err := timeoutOr(fmt.Errorf("navigate: %w", context.DeadlineExceeded))
	if !errors.Is(err, types.ErrPageTimeout) {
		t.Errorf("expected ErrPageTimeout, got %v", err)
	}

	other := errors.New("net::ERR_NAME_NOT_RESOLVED")
	if got := timeoutOr(other); got != other {
		t.Errorf("non-timeout error changed: %v", got)
	}
}

// fakeProcess stands in for the launched Chromium: Cleanup blocks until the
// process has exited, either on request or because it was killed.
type fakeProcess struct {
	mu     sync.Mutex
	calls  []string
	exited chan struct{}
	once   sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{exited: make(chan struct{})}
}

func (p *fakeProcess) exit() { p.once.Do(func() { close(p.exited) }) }

func (p *fakeProcess) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakeProcess) Kill() {
	p.record("kill")
	p.exit()
}

func (p *fakeProcess) Cleanup() {
	<-p.exited
	p.record("cleanup")
}

// closeWithin fails the test if s.Close does not return before d.
func closeWithin(t *testing.T, s *Session, d time.Duration) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Close() }()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		t.Fatal("Close did not return")
		return nil
	}
}

// The run context is usually cancelled by the time Close runs, so the
// session must not reuse it.
func TestCloseUsesFreshContext(t *testing.T) {
	// Like Rod, the close request only reaches the browser on a live context.
	proc := newFakeProcess()
	s := &Session{
		logger: testLogger,
		proc:   proc,
		closeBrowser: func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			proc.exit()
			return nil
		},
	}
	if err := closeWithin(t, s, 2*time.Second); err != nil {
		t.Errorf("Close error = %v", err)
	}
	if want := []string{"cleanup"}; fmt.Sprint(proc.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", proc.calls, want)
	}
	if s.proc != nil || s.closeBrowser != nil {
		t.Error("session should be released")
	}
}

func TestCloseKillsUnresponsiveBrowser(t *testing.T) {
	proc := newFakeProcess()
	s := &Session{
		logger: testLogger,
		proc:   proc,
		closeBrowser: func(ctx context.Context) error {
			return errors.New("websocket: close sent")
		},
	}
	if err := closeWithin(t, s, 2*time.Second); err == nil {
		t.Error("expected the close error to be returned")
	}
	if want := []string{"kill", "cleanup"}; fmt.Sprint(proc.calls) != fmt.Sprint(want) {
		t.Errorf("calls = %v, want %v", proc.calls, want)
	}

	if err := s.Close(); err != nil {
		t.Errorf("second Close error = %v", err)
	}
}

func TestLiveCloseAfterCancel(t *testing.T) {
	if testing.Short() || os.Getenv("AIRQUAL_BROWSER_TESTS") == "" {
		t.Skip("set AIRQUAL_BROWSER_TESTS=1 to run browser tests")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s, err := Open(ctx, config.DefaultConfig(), testLogger)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	cancel()
	_ = closeWithin(t, s, 30*time.Second)
}
