package motion

import (
	"encoding/json"
	"go/types"
	"net/http"
	"strconv"

	"github.com/ptycholab/ptycholab/generichttp"
	mot "github.com/ptycholab/ptycholab/motion"
)

// HTTPMove adds routes for the mover to the route table
func HTTPMove(iface mot.Mover, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/pos"}] = GetPos(iface)
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/pos"}] = SetPos(iface)
}

// GetPos returns an HTTP handler func from a mover that gets the position of an axis in µm
func GetPos(m mot.Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := axis(w, r)
		if !ok {
			return
		}
		pos, err := m.GetPos(a)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: mot.PicometresToMicrons(pos)}
		hp.EncodeAndRespond(w, r)
	}
}

func popRelative(r *http.Request) (bool, error) {
	relative := r.URL.Query().Get("relative")
	if relative == "" {
		relative = "false"
	}
	return strconv.ParseBool(relative)
}

// SetPos returns an HTTP handler func from a mover that triggers an absolute or
// relative move on an axis based on the relative query parameter.  The body
// is {"f64": µm}
func SetPos(m mot.Mover) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := axis(w, r)
		if !ok {
			return
		}
		relative, err := popRelative(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f := generichttp.FloatT{}
		err = json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		target := mot.MicronsToPicometres(f.F64)
		if relative {
			curr, err := m.GetPos(a)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			target += curr
		}
		err = m.MoveAbs(a, target)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
