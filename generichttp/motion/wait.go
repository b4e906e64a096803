package motion

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ptycholab/ptycholab/generichttp"
	mot "github.com/ptycholab/ptycholab/motion"
)

const defaultWait = 30 * time.Second

// HTTPWait adds routes for the waiter to the route table
func HTTPWait(iface mot.Waiter, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/wait"}] = Wait(iface)
}

// Wait returns an HTTP handler func that blocks until no axis is moving.
// The timeout query parameter is a duration, e.g. ?timeout=5s; a timeout
// responds with StatusGatewayTimeout
func Wait(wt mot.Waiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		to := defaultWait
		if s := r.URL.Query().Get("timeout"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			to = d
		}
		ctx, cancel := context.WithTimeout(r.Context(), to)
		defer cancel()
		err := wt.WaitForMotionComplete(ctx, mot.AllAxes...)
		if errors.Is(err, context.DeadlineExceeded) {
			http.Error(w, err.Error(), http.StatusGatewayTimeout)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
