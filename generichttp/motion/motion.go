// Package motion provides an HTTP interface to a positioning stage.
//
// Positions and velocities cross the HTTP boundary in micrometres and µm/s;
// the stage itself works in picometres.
package motion

import (
	"net/http"

	"github.com/go-chi/chi"

	"github.com/ptycholab/ptycholab/generichttp"
	mot "github.com/ptycholab/ptycholab/motion"
)

// axis extracts the {axis} URL parameter, responding with StatusBadRequest
// and returning false if it does not name an axis
func axis(w http.ResponseWriter, r *http.Request) (mot.Axis, bool) {
	a, err := mot.ParseAxis(chi.URLParam(r, "axis"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return a, true
}

// Controller is used for the HTTP interface, which will check if the concrete
// type satisfies the other interfaces in this package and inject their routes
// automatically
type Controller interface {
	// Mover - all Controllers must be Movers
	mot.Mover
}

// HTTPMotionController wraps a motion controller with HTTP
type HTTPMotionController struct {
	Controller

	RouteTable generichttp.RouteTable
}

// NewHTTPMotionController returns a new HTTP wrapper with the route table pre-configured
func NewHTTPMotionController(c Controller) HTTPMotionController {
	w := HTTPMotionController{Controller: c}
	rt := generichttp.RouteTable{}
	HTTPMove(c, rt)
	if stopper, ok := c.(mot.Stopper); ok {
		HTTPStop(stopper, rt)
	}
	if holder, ok := c.(mot.Holder); ok {
		HTTPHold(holder, rt)
	}
	if amp, ok := c.(mot.Amplifier); ok {
		HTTPAmplifier(amp, rt)
	}
	if waiter, ok := c.(mot.Waiter); ok {
		HTTPWait(waiter, rt)
	}
	if speeder, ok := c.(Speeder); ok {
		HTTPSpeed(speeder, rt)
	}
	if initializer, ok := c.(Initializer); ok {
		HTTPInitialize(initializer, rt)
	}
	w.RouteTable = rt
	return w
}

// RT satisfies the HTTPer interface
func (h HTTPMotionController) RT() generichttp.RouteTable {
	return h.RouteTable
}
