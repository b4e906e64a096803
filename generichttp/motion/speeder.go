package motion

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/ptycholab/ptycholab/generichttp"
	mot "github.com/ptycholab/ptycholab/motion"
)

// Speeder describes an interface with velocity-related methods for axes.
// Velocities are in pm/s
type Speeder interface {
	// SetVelocity sets the velocity setpoint on the axis
	SetVelocity(mot.Axis, int64) error

	// GetVelocity gets the velocity setpoint on the axis
	GetVelocity(mot.Axis) (int64, error)
}

// HTTPSpeed adds routes for the speeder to the route table
func HTTPSpeed(iface Speeder, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/velocity"}] = SetVelocity(iface)
	table[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/velocity"}] = GetVelocity(iface)
}

// SetVelocity returns an HTTP handler func that sets the velocity of an axis
// from a body of {"f64": µm/s}
func SetVelocity(s Speeder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := axis(w, r)
		if !ok {
			return
		}
		f := generichttp.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = s.SetVelocity(a, mot.MicronsToPicometres(f.F64))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetVelocity returns an HTTP handler func that returns the velocity of an axis in µm/s
func GetVelocity(s Speeder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := axis(w, r)
		if !ok {
			return
		}
		vel, err := s.GetVelocity(a)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		hp := generichttp.HumanPayload{T: types.Float64, Float: mot.PicometresToMicrons(vel)}
		hp.EncodeAndRespond(w, r)
	}
}
