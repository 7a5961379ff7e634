// Package client is a thin Go client for the tablet service's gRPC
// surface defined in package api.
package client
