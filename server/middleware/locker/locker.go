// Package locker provides an HTTP middleware which allows an HTTPHandler to be locked, returning 423 (locked)
package locker

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/ptycholab/ptycholab/generichttp"
)

// Inject adds a lock route to a generichttp.HTTPer which is used to manipulate the locker
func Inject(other generichttp.HTTPer, l *Locker) {
	rt := other.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/lock"}] = l.HTTPGet
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/lock"}] = l.HTTPSet
}

// Status is the JSON view of a locker
type Status struct {
	Locked bool   `json:"bool"`
	Owner  string `json:"owner,omitempty"`
}

// Locker is a type which behaves like a sync.Mutex without the blocking,
// and holds a list of path fragments to not protect.
//
// The owner of a lock is a free-form label, "scan" while a scan drives the
// stage or "http" when locked over HTTP.  A lock may only be released
// over HTTP if HTTP took it
type Locker struct {
	mu     sync.Mutex
	locked bool
	owner  string

	// DoNotProtect is a list of paths not to apply the lock to
	DoNotProtect []string
}

// OwnerHTTP is the owner recorded when the lock is taken over HTTP
const OwnerHTTP = "http"

// New returns a new Locker with DoNotProtect prepopulated with "lock"
func New() *Locker {
	return &Locker{DoNotProtect: []string{"lock"}}
}

// Lock the locker on behalf of owner, returning false if it was already held
func (l *Locker) Lock(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return false
	}
	l.locked = true
	l.owner = owner
	return true
}

// Unlock the locker if owner holds it, returning false otherwise
func (l *Locker) Unlock(owner string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.locked || l.owner != owner {
		return false
	}
	l.locked = false
	l.owner = ""
	return true
}

// Locked returns true if the locker is locked
func (l *Locker) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// Status returns the lock state and its owner
func (l *Locker) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{Locked: l.locked, Owner: l.owner}
}

// Check is an HTTP middleware that returns http.StatusLocked if Locked() is true, otherwise passes down the line
func (l *Locker) Check(next http.Handler) http.Handler {
	// return a handlerfunc wrapping a handler, middleware/generator pattern
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.Locked() {
			// check if the path is protected
			protected := true
			url := r.URL.Path
			for _, str := range l.DoNotProtect {
				if strings.Contains(url, str) {
					protected = false
				}
			}
			// if it is, bounce the request - locked
			if protected {
				http.Error(w, "locked by "+l.Status().Owner, http.StatusLocked)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HTTPSet calls Lock or Unlock based on json:bool on the request body.
// A lock held by another owner answers with StatusConflict
func (l *Locker) HTTPSet(w http.ResponseWriter, r *http.Request) {
	b := generichttp.BoolT{}
	err := json.NewDecoder(r.Body).Decode(&b)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var ok bool
	if b.Bool {
		ok = l.Lock(OwnerHTTP)
	} else {
		ok = l.Unlock(OwnerHTTP)
	}
	if !ok {
		if st := l.Status(); st.Locked == b.Bool && st.Owner == OwnerHTTP {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, "lock is held by "+l.Status().Owner, http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPGet returns the Status over HTTP as JSON
func (l *Locker) HTTPGet(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(l.Status())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
