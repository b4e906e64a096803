// Package ascii exposes the command channel of ASCII instruments over HTTP
package ascii

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/ptycholab/ptycholab/generichttp"
)

// RawCommunicator has a single Raw method
type RawCommunicator interface {
	Raw(string) (string, error)
}

// DeviceError is an error the instrument reported about a command it
// received, as opposed to a failure to reach the instrument
type DeviceError interface {
	error
	DeviceCode() int
}

// Reply is the response to a raw command
type Reply struct {
	// Str is the response to a query, empty for other commands
	Str string `json:"str"`

	// Code and Error describe a command the instrument rejected
	Code  int    `json:"code,omitempty"`
	Error string `json:"error,omitempty"`
}

// RawWrapper is a wrapper around a raw communicator
type RawWrapper struct {
	Comm RawCommunicator
}

// HTTPRaw sends the command in the body, {"str": command}, and replies with a
// Reply.  A command the instrument rejects is answered with 422 and the
// instrument's error code; a failure to communicate with 502
func (rw RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	str := generichttp.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmd := strings.TrimSpace(str.Str)
	if cmd == "" {
		http.Error(w, "empty command", http.StatusBadRequest)
		return
	}
	log.Printf("raw command %q", cmd)
	resp, err := rw.Comm.Raw(cmd)
	reply := Reply{Str: resp}
	code := http.StatusOK
	if err != nil {
		var de DeviceError
		if !errors.As(err, &de) {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		reply.Code, reply.Error = de.DeviceCode(), de.Error()
		code = http.StatusUnprocessableEntity
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		log.Println(err)
	}
}

// InjectRawComm adds POST /raw to the route table of an HTTPer
func InjectRawComm(other generichttp.HTTPer, raw RawCommunicator) {
	wrap := RawWrapper{Comm: raw}
	other.RT()[generichttp.MethodPath{Method: http.MethodPost, Path: "/raw"}] = wrap.HTTPRaw
}
