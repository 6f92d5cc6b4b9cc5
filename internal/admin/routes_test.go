package admin

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/fatiguelab/dialctl/internal/engine"
	"github.com/fatiguelab/dialctl/internal/peerstore"
	"github.com/fatiguelab/dialctl/internal/protocol"
	"github.com/fatiguelab/dialctl/internal/security"
	"github.com/fatiguelab/dialctl/internal/testutil/testlog"
	"github.com/fatiguelab/dialctl/internal/transport"
)

var (
	remoteAddr = protocol.Addr{0x02, 0, 0, 0, 0, 0x01}
	unitAddr   = protocol.Addr{0x02, 0, 0, 0, 0, 0x02}
)

func newTestRouter(t *testing.T) (*gin.Engine, *engine.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	secret, err := security.ParseSecret("00112233445566778899aabbccddeeff")
	if err != nil {
		t.Fatalf("parse secret: %v", err)
	}
	bus := transport.NewMemBus()
	unit := bus.Attach(unitAddr)
	if err := unit.Start(); err != nil {
		t.Fatalf("unit start: %v", err)
	}
	eng := engine.New(engine.Options{
		Driver:    bus.Attach(remoteAddr),
		Store:     peerstore.New(&peerstore.MemBackend{}, protocol.Addr{}, protocol.DeviceUnknown, ""),
		Secret:    secret,
		LocalType: protocol.DeviceRemote,
		PeerType:  protocol.DeviceFatigueTester,
	})
	if err := eng.Init(); err != nil {
		t.Fatalf("engine init: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	r := gin.New()
	NewServer("dialctl-test", eng).RegisterRoutes(r)
	return r, eng
}

func do(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthRoute(t *testing.T) {
	testlog.Start(t)
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["component"] != "dialctl-test" {
		t.Fatalf("body = %v", body)
	}
}

func TestPeerRoutes(t *testing.T) {
	testlog.Start(t)
	r, eng := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/peers", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"count":0`) {
		t.Fatalf("empty peers: %d %s", w.Code, w.Body.String())
	}

	eng.AddApprovedPeer(unitAddr, protocol.DeviceFatigueTester, "bench-unit-1")
	w = do(t, r, http.MethodGet, "/peers", "")
	if !strings.Contains(w.Body.String(), "bench-unit-1") {
		t.Fatalf("peer missing from listing: %s", w.Body.String())
	}

	w = do(t, r, http.MethodGet, "/target", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), unitAddr.String()) {
		t.Fatalf("target: %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodDelete, "/peers/"+unitAddr.String(), "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d %s", w.Code, w.Body.String())
	}
	if eng.IsPeerApproved(unitAddr) {
		t.Fatalf("peer still approved after delete")
	}

	w = do(t, r, http.MethodDelete, "/peers/"+unitAddr.String(), "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", w.Code)
	}
	w = do(t, r, http.MethodDelete, "/peers/garbage", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad addr delete: %d", w.Code)
	}
}

func TestClearAllPeers(t *testing.T) {
	testlog.Start(t)
	r, eng := newTestRouter(t)
	eng.AddApprovedPeer(unitAddr, protocol.DeviceFatigueTester, "unit")

	w := do(t, r, http.MethodDelete, "/peers", "")
	if w.Code != http.StatusOK {
		t.Fatalf("clear: %d %s", w.Code, w.Body.String())
	}
	if eng.ApprovedPeerCount() != 0 {
		t.Fatalf("peers survived clear")
	}
}

func TestSecurityRoute(t *testing.T) {
	testlog.Start(t)
	r, _ := newTestRouter(t)
	w := do(t, r, http.MethodGet, "/security", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// The test secret is not the debug placeholder.
	if body["using_placeholder"] != false {
		t.Fatalf("body = %v", body)
	}
}

func TestTargetRouteWithoutPeer(t *testing.T) {
	testlog.Start(t)
	r, _ := newTestRouter(t)
	if w := do(t, r, http.MethodGet, "/target", ""); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestPairingRoutes(t *testing.T) {
	testlog.Start(t)
	r, _ := newTestRouter(t)

	w := do(t, r, http.MethodGet, "/pairing", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "idle") {
		t.Fatalf("initial state: %d %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/pairing/start", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("start: %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPost, "/pairing/start", "")
	if w.Code != http.StatusConflict {
		t.Fatalf("second start: %d", w.Code)
	}

	w = do(t, r, http.MethodPost, "/pairing/cancel", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "idle") {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
}

func TestCommandRoutes(t *testing.T) {
	testlog.Start(t)
	r, eng := newTestRouter(t)

	// No paired target yet.
	w := do(t, r, http.MethodPost, "/commands/start", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("command without target: %d", w.Code)
	}

	eng.AddApprovedPeer(unitAddr, protocol.DeviceFatigueTester, "unit")

	w = do(t, r, http.MethodPost, "/commands/start", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("start command: %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPost, "/commands/bogus", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown command: %d", w.Code)
	}
	w = do(t, r, http.MethodPost, "/commands/stop", `{"payload":"zz"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("non-hex payload: %d", w.Code)
	}
}

func TestConfigRoutes(t *testing.T) {
	testlog.Start(t)
	r, eng := newTestRouter(t)
	eng.AddApprovedPeer(unitAddr, protocol.DeviceFatigueTester, "unit")

	w := do(t, r, http.MethodPost, "/config", `{"CycleAmount":1000,"TimePerCycleSec":2,"DwellTimeSec":1}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("config set: %d %s", w.Code, w.Body.String())
	}
	w = do(t, r, http.MethodPost, "/config", `not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad config body: %d", w.Code)
	}
	w = do(t, r, http.MethodGet, "/config", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("config request: %d %s", w.Code, w.Body.String())
	}
}
