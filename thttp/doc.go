// Package thttp contains HTTP server and client utilities.
//
// Instead of the pre-context-era start-and-stop paradigm, thttp.Server is
// controlled with a context passed to its Run method. This fits much better
// into hierarchies of internal components that need to be started and shut
// down as a whole, and plays especially nice with parallel.Run. The server
// code ensures that every incoming request has a context inherited from the
// context passed to Run, thus supporting the global expectation that every
// context contains a logger.
//
// Only a single handler is passed to thttp.NewServer as its second
// argument. Most use cases will need path-based routing; the standard
// solution is github.com/gorilla/mux.
package thttp
