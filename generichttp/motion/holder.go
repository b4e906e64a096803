package motion

import (
	"encoding/json"
	"net/http"

	"github.com/ptycholab/ptycholab/generichttp"
	mot "github.com/ptycholab/ptycholab/motion"
)

// HTTPHold adds routes for the holder to the route table
func HTTPHold(iface mot.Holder, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/hold"}] = SetHold(iface)
}

// SetHold returns an HTTP handler func from a holder that holds an axis
// indefinitely if the body is {"bool": true}, or releases it
func SetHold(h mot.Holder) http.HandlerFunc {
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
		err = h.SetHold(a, boolT.Bool)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
