package routes

import "net/http"

// Group organizes routes under a common prefix. Middleware wraps every
// route in the group and its children, outermost first.
type Group struct {
	Prefix     string
	Routes     []Route
	Children   []Group
	Middleware []func(http.Handler) http.Handler
}

// Route binds a method and pattern to a handler. Route middleware runs
// inside the group's.
type Route struct {
	Method     string
	Pattern    string
	Handler    http.HandlerFunc
	Middleware []func(http.Handler) http.Handler
}

// Register adds all routes from the given groups to the mux.
func Register(mux *http.ServeMux, groups ...Group) {
	for _, group := range groups {
		registerGroup(mux, "", nil, group)
	}
}

func registerGroup(mux *http.ServeMux, parentPrefix string, inherited []func(http.Handler) http.Handler, group Group) {
	fullPrefix := parentPrefix + group.Prefix
	stack := append(append([]func(http.Handler) http.Handler(nil), inherited...), group.Middleware...)

	for _, route := range group.Routes {
		var handler http.Handler = route.Handler
		chain := append(append([]func(http.Handler) http.Handler(nil), stack...), route.Middleware...)
		for i := len(chain) - 1; i >= 0; i-- {
			handler = chain[i](handler)
		}
		mux.Handle(route.Method+" "+fullPrefix+route.Pattern, handler)
	}
	for _, child := range group.Children {
		registerGroup(mux, fullPrefix, stack, child)
	}
}
