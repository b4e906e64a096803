package motion

import (
	"net/http"

	"github.com/ptycholab/ptycholab/generichttp"
	mot "github.com/ptycholab/ptycholab/motion"
)

// Initializer is a type which may initialize an axis
type Initializer interface {
	// InitializeAxis prepares an axis for closed loop motion
	InitializeAxis(mot.Axis) error
}

// HTTPInitialize adds routes for initialization to the route table
func HTTPInitialize(i Initializer, table generichttp.RouteTable) {
	table[generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/initialize"}] = Initialize(i)
}

// Initialize returns an HTTP handler func that calls InitializeAxis for an axis
func Initialize(i Initializer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := axis(w, r)
		if !ok {
			return
		}
		err := i.InitializeAxis(a)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
