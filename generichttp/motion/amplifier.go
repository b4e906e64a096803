package motion

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"

	"github.com/ptycholab/ptycholab/generichttp"
	mot "github.com/ptycholab/ptycholab/motion"
)

var errNoDisable = errors.New("amplifiers may only be enabled over HTTP")

// HTTPAmplifier adds routes for the amplifier to the route table
func HTTPAmplifier(iface mot.Amplifier, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/amplifier"}] = GetAmplifier(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/amplifier"}] = EnableAmplifier(iface)
}

// EnableAmplifier returns an HTTP handler func that enables the amplifier of
// an axis.  The body must be {"bool": true}
func EnableAmplifier(e mot.Amplifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := axis(w, r)
		if !ok {
			return
		}
		boolT := generichttp.BoolT{}
		err := json.NewDecoder(r.Body).Decode(&boolT)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !boolT.Bool {
			http.Error(w, errNoDisable.Error(), http.StatusBadRequest)
			return
		}
		err = e.EnableAmplifier(a)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetAmplifier returns an HTTP handler func that returns if the amplifier of an axis is enabled
func GetAmplifier(e mot.Amplifier) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := axis(w, r)
		if !ok {
			return
		}
		enabled, err := e.GetAmplifier(a)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Bool, Bool: enabled}
		hp.EncodeAndRespond(w, r)
	}
}
