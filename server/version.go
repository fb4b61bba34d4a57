package server

// Version and Commit are set at build time
var (
	Version = "0.1.0"
	Commit  = "HEAD"
)
