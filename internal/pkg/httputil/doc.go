// Package httputil holds the JSON response and request helpers shared by
// the API handlers, including the mapping from domain errors to status
// codes.
package httputil
