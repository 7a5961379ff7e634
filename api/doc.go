// Package api exposes a tabletservice.Service over gRPC. There is no
// .proto source in this tree, so message bodies are plain JSON-tagged
// Go structs carried over real gRPC transport via the "json" codec
// registered in codec.go, rather than compiled protobuf stubs.
package api
