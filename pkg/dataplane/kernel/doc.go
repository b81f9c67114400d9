// Package kernel is a dataplane backend built on Linux network devices:
// phy ports are AF_PACKET sockets bound to existing netdevs, vhost ports are
// tap devices created on demand, and ring ports stay in process memory.
//
// Importing the package registers the backend as "kernel".
package kernel
