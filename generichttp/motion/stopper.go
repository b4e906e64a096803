package motion

import (
	"net/http"

	"github.com/ptycholab/ptycholab/generichttp"
	mot "github.com/ptycholab/ptycholab/motion"
)

// HTTPStop adds routes for the stopper to the route table
func HTTPStop(iface mot.Stopper, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/stop"}] = Stop(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/stop"}] = StopAll(iface)
}

// Stop returns an HTTP handler func from a stopper that stops an axis
func Stop(s mot.Stopper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := axis(w, r)
		if !ok {
			return
		}
		err := s.Stop(a)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// StopAll returns an HTTP handler func from a stopper that stops every axis at once
func StopAll(s mot.Stopper) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := s.StopGroup(mot.AllAxes...)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
