package locker_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/ptycholab/ptycholab/generichttp"
	"github.com/ptycholab/ptycholab/server/middleware/locker"
)

type table generichttp.RouteTable

func (t table) RT() generichttp.RouteTable { return generichttp.RouteTable(t) }

func ExampleLocker_Lock() {
	l := locker.New()
	fmt.Println(l.Lock("scan"), l.Lock(locker.OwnerHTTP))
	fmt.Println(l.Unlock(locker.OwnerHTTP), l.Unlock("scan"))
	// Output:
	// true false
	// false true
}

func router(l *locker.Locker) chi.Router {
	t := table{}
	t[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/pos"}] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	locker.Inject(t, l)
	r := chi.NewRouter()
	r.Use(l.Check)
	t.RT().Bind(r)
	return r
}

func post(r http.Handler, path, body string) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return w.Code
}

func TestCheckBouncesWhileLocked(t *testing.T) {
	l := locker.New()
	r := router(l)
	if code := post(r, "/axis/X/pos", `{"f64": 1}`); code != http.StatusOK {
		t.Fatalf("expected an unlocked move to pass, got %d", code)
	}
	l.Lock("scan")
	if code := post(r, "/axis/X/pos", `{"f64": 1}`); code != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", code)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	st := locker.Status{}
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if !st.Locked || st.Owner != "scan" {
		t.Errorf("expected locked by scan, got %+v", st)
	}
}

func TestHTTPCannotReleaseScanLock(t *testing.T) {
	l := locker.New()
	r := router(l)
	l.Lock("scan")
	if code := post(r, "/lock", `{"bool": false}`); code != http.StatusConflict {
		t.Errorf("expected 409, got %d", code)
	}
	if !l.Locked() {
		t.Error("expected the scan lock to survive")
	}
}

func TestHTTPLockRoundTrip(t *testing.T) {
	l := locker.New()
	r := router(l)
	if code := post(r, "/lock", `{"bool": true}`); code != http.StatusOK {
		t.Fatalf("lock failed: %d", code)
	}
	if code := post(r, "/lock", `{"bool": true}`); code != http.StatusOK {
		t.Errorf("expected relocking by the same owner to succeed, got %d", code)
	}
	if l.Lock("scan") {
		t.Error("a scan took a lock held over HTTP")
	}
	if code := post(r, "/lock", `{"bool": false}`); code != http.StatusOK {
		t.Errorf("unlock failed: %d", code)
	}
	if l.Locked() {
		t.Error("expected the locker to be released")
	}
}
